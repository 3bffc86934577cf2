package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gowarden/pkg/auth"
	"github.com/NicolasHaas/gowarden/pkg/client"
	"github.com/NicolasHaas/gowarden/pkg/logging"
	"github.com/NicolasHaas/gowarden/pkg/model"
	"github.com/NicolasHaas/gowarden/pkg/registry"
	"github.com/NicolasHaas/gowarden/pkg/server"
	"github.com/NicolasHaas/gowarden/pkg/store"
)

// useTestServer points getClient at an in-process server authenticated as
// the given role.
func useTestServer(t *testing.T, role model.Role) {
	t.Helper()

	settings, err := registry.NewSettingsStore(model.DefaultSettings())
	require.NoError(t, err)
	reg, err := registry.New(registry.Options{Store: store.NewMemory(), Settings: settings, Logger: logging.Discard()})
	require.NoError(t, err)

	entry, raw, err := auth.NewAPIToken("ops", role)
	require.NoError(t, err)
	a, err := auth.NewAuthenticator([]model.APIToken{entry})
	require.NoError(t, err)

	cfg := server.DefaultConfig()
	cfg.RateLimit = 0
	srv := server.New(cfg, server.Dependencies{Registry: reg, Auth: a, Logger: logging.Discard()})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	orig := getClientFunc
	getClientFunc = func() (*client.Client, error) {
		return client.New(ts.URL, raw, time.Second), nil
	}
	t.Cleanup(func() { getClientFunc = orig })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// ---------------------------------------------------------------------------
// command tree
// ---------------------------------------------------------------------------

func TestRootCmd(t *testing.T) {
	cmd := newRootCmd()
	assert.Equal(t, "wardenctl", cmd.Use)

	out := cmd.PersistentFlags().Lookup("output")
	require.NotNil(t, out)
	assert.Equal(t, "o", out.Shorthand)
	assert.Equal(t, "table", out.DefValue)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"stats", "bans", "violations", "players", "activity", "settings", "token", "profile", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestBansAddCmdFlags(t *testing.T) {
	cmd := bansAddCmd()
	for _, name := range []string{"license", "steam", "discord", "reason", "duration"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "permanent", cmd.Flags().Lookup("duration").DefValue)
}

// ---------------------------------------------------------------------------
// against a live handler
// ---------------------------------------------------------------------------

func TestBansWorkflow(t *testing.T) {
	useTestServer(t, model.RoleModerator)

	out, err := run(t, "bans", "add", "--license", "license:abc", "--reason", "aimbot", "--duration", "permanent", "-o", "json")
	require.NoError(t, err, out)
	var ban map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &ban))
	assert.Equal(t, float64(1), ban["id"])
	assert.Equal(t, "ops", ban["admin"])
	assert.Equal(t, "Permanent", ban["duration_label"])

	out, err = run(t, "bans", "check", "--license", "license:abc")
	require.NoError(t, err)
	assert.Contains(t, out, "BANNED")
	assert.Contains(t, out, "aimbot")

	out, err = run(t, "bans", "list", "--filter", "active")
	require.NoError(t, err)
	assert.Contains(t, out, "license:abc")
	assert.Contains(t, out, "never")

	_, err = run(t, "bans", "revoke", "1")
	require.NoError(t, err)

	out, err = run(t, "bans", "list", "--filter", "expired", "-o", "yaml")
	require.NoError(t, err)
	var list struct {
		Total int `yaml:"total"`
		Bans  []struct {
			Active    bool   `yaml:"active"`
			RevokedBy string `yaml:"revoked_by"`
		} `yaml:"bans"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &list))
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Bans, 1)
	assert.False(t, list.Bans[0].Active)
	assert.Equal(t, "ops", list.Bans[0].RevokedBy)

	_, err = run(t, "bans", "revoke", "9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Ban not found")
}

func TestBansAddValidation(t *testing.T) {
	useTestServer(t, model.RoleAdmin)

	_, err := run(t, "bans", "add", "--reason", "x")
	assert.ErrorContains(t, err, "one of --license")

	_, err = run(t, "bans", "add", "--license", "l", "--reason", "x", "--duration", "soon")
	assert.ErrorContains(t, err, "invalid duration")

	_, err = run(t, "bans", "add", "--license", "l")
	assert.Error(t, err, "reason is required")
}

func TestViewerCannotBan(t *testing.T) {
	useTestServer(t, model.RoleViewer)
	_, err := run(t, "bans", "add", "--license", "l", "--reason", "x")
	require.Error(t, err)
	assert.Equal(t, 403, client.StatusCode(err))

	out, err := run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "ACTIVE BANS:")
}

func TestSettingsAndViolations(t *testing.T) {
	useTestServer(t, model.RoleAdmin)

	out, err := run(t, "settings", "set", "max_violations=5", "speed_check_enabled=false", "-o", "json")
	require.NoError(t, err, out)
	var s model.Settings
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 5, s.MaxViolations)
	assert.False(t, s.SpeedCheckEnabled)
	assert.True(t, s.HealthCheckEnabled)

	out, err = run(t, "settings", "get")
	require.NoError(t, err)
	assert.Contains(t, out, "max_violations")

	_, err = run(t, "settings", "set", "max_violations=0")
	assert.ErrorContains(t, err, "max_violations must be at least 1")

	out, err = run(t, "violations", "clear", "--older-than", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "REMOVED:")

	out, err = run(t, "activity", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "settings")

	out, err = run(t, "players", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"total": 0`)
}

// ---------------------------------------------------------------------------
// local commands
// ---------------------------------------------------------------------------

func TestTokenCmd(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tokens.yaml")

	out, err := run(t, "token", "--file", file, "--name", "bot", "--role", "moderator", "-o", "json")
	require.NoError(t, err, out)
	var res TokenResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "moderator", res.Role)
	assert.Len(t, res.Token, 64)

	tokens, err := auth.LoadTokensFile(file)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	a, err := auth.NewAuthenticator(tokens)
	require.NoError(t, err)
	p, err := a.Authenticate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "bot", p.Name)
	assert.Equal(t, model.RoleModerator, p.Role)

	_, err = run(t, "token", "--file", file, "--name", "bot")
	assert.ErrorContains(t, err, "already exists")

	_, err = run(t, "token", "--file", file, "--name", "x", "--role", "superuser")
	assert.ErrorContains(t, err, "unknown role")
}

func TestProfileCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")

	out, err := run(t, "--profiles-file", path, "profile", "add", "prod", "--server", "http://warden:8080", "--token", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, `Added profile "prod"`)

	out, err = run(t, "--profiles-file", path, "profile", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "http://warden:8080")
	assert.NotContains(t, out, "secret")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "current: prod")

	_, err = run(t, "--profiles-file", path, "profile", "use", "staging")
	assert.Error(t, err)

	_, err = run(t, "--profiles-file", path, "profile", "remove", "prod")
	require.NoError(t, err)
	out, err = run(t, "--profiles-file", path, "profile", "list", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"profiles": []`)
}

func TestDefaultClientNeedsServer(t *testing.T) {
	t.Setenv("WARDEN_SERVER", "")
	t.Setenv("WARDEN_TOKEN", "")
	_, err := run(t, "--profiles-file", filepath.Join(t.TempDir(), "none.yaml"), "stats")
	assert.ErrorContains(t, err, "no server configured")

	_, err = run(t, "--profiles-file", filepath.Join(t.TempDir(), "none.yaml"), "--profile", "ghost", "stats")
	assert.ErrorContains(t, err, `profile "ghost" not found`)
}

func TestParseDurationHours(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"permanent", model.PermanentHours, false},
		{"PERM", model.PermanentHours, false},
		{"72", 72, false},
		{"24h", 24, false},
		{"0", 0, false},
		{"-1", 0, true},
		{"week", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDurationHours(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSettingsPatch(t *testing.T) {
	file := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(file, []byte("ban_duration: 72\nauto_ban_enabled: false\n"), 0o600))

	patch, err := settingsPatch(file, []string{"ban_duration=48", "global_ban_sync=true"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ban_duration": 48, "auto_ban_enabled": false, "global_ban_sync": true}, patch)

	_, err = settingsPatch("", nil)
	assert.Error(t, err)
	_, err = settingsPatch("", []string{"max_violations"})
	assert.Error(t, err)
	_, err = settingsPatch("", []string{"max_violations=lots"})
	assert.Error(t, err)
}

func TestOutputFormats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, outputResult(&buf, ClearResult{Removed: 3}, "yaml"))
	assert.Equal(t, "removed: 3\n", buf.String())

	buf.Reset()
	require.NoError(t, outputResult(&buf, ClearResult{Removed: 3}, "table"))
	assert.True(t, strings.HasPrefix(buf.String(), "REMOVED:"))

	buf.Reset()
	require.NoError(t, outputResult(&buf, map[string]int{"x": 1}, "table"), "unknown types fall back to JSON")
	assert.Contains(t, buf.String(), `"x": 1`)

	assert.Error(t, outputResult(&buf, ClearResult{}, "xml"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "-", formatUnix(0))
	assert.Equal(t, "2023-11-14 22:13", formatUnix(1700000000))
}
