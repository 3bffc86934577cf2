package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/gowarden/pkg/auth"
	"github.com/NicolasHaas/gowarden/pkg/logging"
	"github.com/NicolasHaas/gowarden/pkg/model"
	"github.com/NicolasHaas/gowarden/pkg/registry"
	"github.com/NicolasHaas/gowarden/pkg/store"
)

type testEnv struct {
	srv     *Server
	handler http.Handler
	tokens  map[model.Role]string
}

func newTestServer(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	return newTestServerWith(t, registry.Options{}, mutate)
}

// newTestServerWith builds the registry from opts, filling in an in-memory
// store and default settings.
func newTestServerWith(t *testing.T, opts registry.Options, mutate func(*Config)) *testEnv {
	t.Helper()

	settings, err := registry.NewSettingsStore(model.DefaultSettings())
	require.NoError(t, err)
	opts.Store = store.NewMemory()
	opts.Settings = settings
	opts.Logger = logging.Discard()
	reg, err := registry.New(opts)
	require.NoError(t, err)

	tokens := make(map[model.Role]string)
	var entries []model.APIToken
	for _, role := range []model.Role{model.RoleAdmin, model.RoleModerator, model.RoleViewer, model.RoleGameServer} {
		entry, raw, err := auth.NewAPIToken(role.String(), role)
		require.NoError(t, err)
		entries = append(entries, entry)
		tokens[role] = raw
	}
	a, err := auth.NewAuthenticator(entries)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.RateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}
	srv := New(cfg, Dependencies{Registry: reg, Auth: a, Logger: logging.Discard()})
	t.Cleanup(srv.cancel)
	return &testEnv{srv: srv, handler: srv.Handler(), tokens: tokens}
}

func (e *testEnv) do(t *testing.T, role model.Role, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			rdr = bytes.NewReader(data)
		}
	}
	r := httptest.NewRequest(method, path, rdr)
	if tok, ok := e.tokens[role]; ok {
		r.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("content-type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

const noRole = model.Role(-1)

func TestHealthNeedsNoToken(t *testing.T) {
	e := newTestServer(t, nil)
	w, body := e.do(t, noRole, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["version"])
	_, err := time.Parse(time.RFC3339, body["timestamp"].(string))
	assert.NoError(t, err)
	assert.Equal(t, "nosniff", w.Header().Get("x-content-type-options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestUnknownEndpoint(t *testing.T) {
	e := newTestServer(t, nil)
	w, body := e.do(t, model.RoleAdmin, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Endpoint not found", body["error"])

	w, _ = e.do(t, model.RoleAdmin, http.MethodPatch, "/api/bans", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestAuthentication(t *testing.T) {
	e := newTestServer(t, nil)

	w, body := e.do(t, noRole, http.MethodGet, "/api/bans", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, body["success"])

	r := httptest.NewRequest(http.MethodGet, "/api/bans", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, int64(2), e.srv.metrics.FailedAuths.Load())
}

func TestRoutePermissions(t *testing.T) {
	e := newTestServer(t, nil)
	ban := map[string]any{"license": "license:a", "reason": "x", "duration": 1}

	tests := []struct {
		role   model.Role
		method string
		path   string
		body   any
		want   int
	}{
		{model.RoleViewer, http.MethodGet, "/api/statistics", nil, http.StatusOK},
		{model.RoleViewer, http.MethodPost, "/api/bans", ban, http.StatusForbidden},
		{model.RoleGameServer, http.MethodPost, "/api/bans", ban, http.StatusForbidden},
		{model.RoleModerator, http.MethodPost, "/api/bans", ban, http.StatusOK},
		{model.RoleModerator, http.MethodPut, "/api/settings", map[string]any{}, http.StatusForbidden},
		{model.RoleAdmin, http.MethodPut, "/api/settings", map[string]any{}, http.StatusOK},
		{model.RoleViewer, http.MethodPost, "/api/violations", map[string]any{"license": "l", "type": "speed_hack"}, http.StatusForbidden},
		{model.RoleGameServer, http.MethodPost, "/api/violations", map[string]any{"license": "l", "type": "speed_hack"}, http.StatusOK},
		{model.RoleViewer, http.MethodDelete, "/api/violations/clear", nil, http.StatusForbidden},
		{model.RoleGameServer, http.MethodGet, "/api/bans/check?license=l", nil, http.StatusOK},
	}
	for _, tt := range tests {
		w, _ := e.do(t, tt.role, tt.method, tt.path, tt.body)
		assert.Equal(t, tt.want, w.Code, "%s %s %s: %s", tt.role, tt.method, tt.path, w.Body.String())
	}
}

func TestBanLifecycle(t *testing.T) {
	e := newTestServer(t, nil)

	w, body := e.do(t, model.RoleModerator, http.MethodPost, "/api/bans", map[string]any{
		"license":  "license:abc",
		"reason":   "aimbot",
		"duration": 8760,
		"admin":    "spoofed",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Ban created successfully", body["message"])
	ban := body["ban"].(map[string]any)
	assert.Equal(t, float64(1), ban["id"])
	assert.Equal(t, "moderator", ban["admin"], "issuer comes from the token")
	assert.Equal(t, "manual", ban["type"])
	assert.Equal(t, "Permanent", ban["duration_label"])
	assert.Equal(t, float64(0), ban["expires_at"])

	w, body = e.do(t, model.RoleViewer, http.MethodGet, "/api/bans/check?license=license:abc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["banned"])

	w, body = e.do(t, model.RoleViewer, http.MethodGet, "/api/bans?filter=active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total"])

	w, body = e.do(t, model.RoleModerator, http.MethodDelete, "/api/bans/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ban removed successfully", body["message"])

	w, _ = e.do(t, model.RoleModerator, http.MethodDelete, "/api/bans/1", nil)
	assert.Equal(t, http.StatusOK, w.Code, "repeat revoke succeeds")

	w, body = e.do(t, model.RoleModerator, http.MethodDelete, "/api/bans/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Ban not found", body["error"])

	w, _ = e.do(t, model.RoleModerator, http.MethodDelete, "/api/bans/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = e.do(t, model.RoleViewer, http.MethodGet, "/api/bans?filter=expired", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total"])

	w, body = e.do(t, model.RoleViewer, http.MethodGet, "/api/bans/check?license=license:abc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["banned"])
	assert.Empty(t, body["bans"])
}

func TestCreateBanValidation(t *testing.T) {
	e := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
		want string
	}{
		{"empty reason", map[string]any{"license": "l", "reason": " ", "duration": 1}, "reason is required"},
		{"negative duration", map[string]any{"license": "l", "reason": "x", "duration": -1}, "duration must not be negative"},
		{"missing duration", map[string]any{"license": "l", "reason": "x"}, "duration is required"},
		{"no identity", map[string]any{"reason": "x", "duration": 1}, "one of license, steam or discord is required"},
		{"bad json", "{", ""},
		{"unknown field", map[string]any{"license": "l", "reason": "x", "duration": 1, "extra": true}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := e.do(t, model.RoleAdmin, http.MethodPost, "/api/bans", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, false, body["success"])
			if tt.want != "" {
				assert.Equal(t, tt.want, body["error"])
			}
		})
	}
}

func TestListValidation(t *testing.T) {
	e := newTestServer(t, nil)
	for _, path := range []string{"/api/bans?filter=bogus", "/api/bans?limit=-1", "/api/violations?offset=x", "/api/activity?limit=no"} {
		w, _ := e.do(t, model.RoleViewer, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestViolationReportAndAutoBan(t *testing.T) {
	e := newTestServer(t, nil)
	report := map[string]any{"name": "Cheater", "license": "license:abc", "type": "speed_hack", "details": "80 m/s"}

	var body map[string]any
	for i := 0; i < 3; i++ {
		var w *httptest.ResponseRecorder
		w, body = e.do(t, model.RoleGameServer, http.MethodPost, "/api/violations", report)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, true, body["accepted"])
	}
	require.NotNil(t, body["auto_ban"])
	autoBan := body["auto_ban"].(map[string]any)
	assert.Equal(t, "auto", autoBan["type"])
	assert.Equal(t, "system", autoBan["admin"])

	_, body = e.do(t, model.RoleViewer, http.MethodGet, "/api/violations?filter=speed_hack", nil)
	assert.Equal(t, float64(1), body["total"])
	v := body["violations"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(3), v["count"])

	_, body = e.do(t, model.RoleViewer, http.MethodGet, "/api/statistics", nil)
	stats := body["data"].(map[string]any)
	assert.Equal(t, float64(1), stats["auto_bans"])
	assert.Equal(t, float64(1), stats["total_violations"])
	assert.Equal(t, float64(1), stats["recent_violations"])
}

func TestViolationRejectedByPolicyIsNotAnError(t *testing.T) {
	e := newTestServer(t, nil)
	w, body := e.do(t, model.RoleAdmin, http.MethodPut, "/api/settings", map[string]any{"weapon_check_enabled": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	settings := body["settings"].(map[string]any)
	assert.Equal(t, false, settings["weapon_check_enabled"])
	assert.Equal(t, true, settings["speed_check_enabled"], "omitted fields keep their value")

	w, body = e.do(t, model.RoleGameServer, http.MethodPost, "/api/violations", map[string]any{"license": "l", "type": "weapon_spawn"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["accepted"])
}

func TestSettingsValidation(t *testing.T) {
	e := newTestServer(t, nil)
	w, body := e.do(t, model.RoleAdmin, http.MethodPut, "/api/settings", map[string]any{"max_violations": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "max_violations must be at least 1", body["error"])

	_, body = e.do(t, model.RoleViewer, http.MethodGet, "/api/settings", nil)
	settings := body["settings"].(map[string]any)
	assert.Equal(t, float64(3), settings["max_violations"])
}

type remoteBans map[string]bool

func (m remoteBans) IsBanned(_ context.Context, identifier string) (bool, error) {
	return m[identifier], nil
}

func TestCheckBanConsultsRemote(t *testing.T) {
	e := newTestServerWith(t, registry.Options{Remote: remoteBans{"discord:77": true}}, nil)

	w, body := e.do(t, model.RoleGameServer, http.MethodGet, "/api/bans/check?license=license:new&discord=discord:77", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["banned"])
	assert.Equal(t, true, body["remote"])
	assert.Empty(t, body["bans"])

	_, body = e.do(t, model.RoleGameServer, http.MethodGet, "/api/bans/check?license=license:new", nil)
	assert.Equal(t, false, body["banned"])
	assert.Equal(t, false, body["remote"])
}

func TestSettingsPartialUpdate(t *testing.T) {
	e := newTestServer(t, nil)
	w, body := e.do(t, model.RoleAdmin, http.MethodPut, "/api/settings", map[string]any{"ban_duration": 48})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	settings := body["settings"].(map[string]any)
	assert.Equal(t, float64(48), settings["ban_duration"])
	assert.Equal(t, float64(3), settings["max_violations"], "omitted keys keep their value")

	w, _ = e.do(t, model.RoleAdmin, http.MethodPut, "/api/settings", `{"max_violatons": 4}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	rec := httptest.NewRecorder()
	e.srv.writeErr(rec, httptest.NewRequest(http.MethodPut, "/api/settings", nil),
		fmt.Errorf("registry: update settings: %w", model.ErrConflict), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPlayersAndActivity(t *testing.T) {
	e := newTestServer(t, nil)

	w, body := e.do(t, model.RoleGameServer, http.MethodPost, "/api/players", map[string]any{"id": 12, "name": "Alice", "license": "license:alice", "ping": 30})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, body["banned"])

	_, body = e.do(t, model.RoleViewer, http.MethodGet, "/api/players?search=ali", nil)
	assert.Equal(t, float64(1), body["total"])

	w, _ = e.do(t, model.RoleGameServer, http.MethodDelete, "/api/players/12", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, body = e.do(t, model.RoleGameServer, http.MethodDelete, "/api/players/12", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Player not found", body["error"])

	_, body = e.do(t, model.RoleViewer, http.MethodGet, "/api/activity?limit=1", nil)
	activity := body["activity"].([]any)
	require.Len(t, activity, 1)
	assert.Equal(t, "player", activity[0].(map[string]any)["type"])
}

func TestClearViolations(t *testing.T) {
	e := newTestServer(t, nil)
	_, _ = e.do(t, model.RoleGameServer, http.MethodPost, "/api/violations", map[string]any{"license": "l", "type": "speed_hack"})

	w, body := e.do(t, model.RoleModerator, http.MethodDelete, "/api/violations/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), body["removed"], "fresh violations are kept")

	w, _ = e.do(t, model.RoleModerator, http.MethodDelete, "/api/violations/clear?older_than_days=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecoverFromPanic(t *testing.T) {
	e := newTestServer(t, nil)
	h := e.srv.withRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), msgInternal)
	assert.Equal(t, int64(1), e.srv.metrics.Panics.Load())
}

func TestRateLimit(t *testing.T) {
	e := newTestServer(t, func(c *Config) {
		c.RateLimit = 2
		c.RateWindow = time.Hour
	})
	for i := 0; i < 2; i++ {
		w, _ := e.do(t, model.RoleViewer, http.MethodGet, "/api/statistics", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w, _ := e.do(t, model.RoleViewer, http.MethodGet, "/api/statistics", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w, _ = e.do(t, noRole, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code, "health is exempt")
}

func TestIPRateLimiterRefillsAndEvicts(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newIPRateLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		ok, _ := l.Allow("10.0.0.1")
		require.True(t, ok)
	}
	ok, retry := l.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, retry)
	assert.Equal(t, "31", retryAfterSeconds(retry))

	ok, _ = l.Allow("10.0.0.2")
	assert.True(t, ok, "buckets are per IP")

	now = now.Add(30 * time.Second)
	ok, _ = l.Allow("10.0.0.1")
	assert.True(t, ok, "one token refilled")

	now = now.Add(2 * time.Minute)
	l.Evict(time.Minute)
	assert.Equal(t, 0, l.size())
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestServer(t, nil)
	_, _ = e.do(t, model.RoleModerator, http.MethodPost, "/api/bans", map[string]any{"license": "l", "reason": "x", "duration": 1})

	w := httptest.NewRecorder()
	e.srv.MetricsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	assert.Contains(t, out, "gowarden_bans_issued_total 1\n")
	assert.Contains(t, out, "gowarden_http_requests_total 1\n")
	assert.Contains(t, out, "# TYPE gowarden_bans_active gauge\n")
}

func TestSettingsYAML(t *testing.T) {
	base := model.DefaultSettings()
	got, err := ImportSettingsYAML([]byte("max_violations: 5\nspeed_check_enabled: false\n"), base)
	require.NoError(t, err)
	assert.Equal(t, 5, got.MaxViolations)
	assert.False(t, got.SpeedCheckEnabled)
	assert.Equal(t, base.BanDuration, got.BanDuration)

	_, err = ImportSettingsYAML([]byte("max_violatons: 5\n"), base)
	assert.Error(t, err, "unknown key")

	_, err = ImportSettingsYAML([]byte("ban_duration: -2\n"), base)
	assert.ErrorIs(t, err, model.ErrInvalidSettings)

	out, err := ExportSettingsYAML(got)
	require.NoError(t, err)
	again, err := ImportSettingsYAML(out, model.Settings{})
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestDetail(t *testing.T) {
	_, err := registry.NewSettingsStore(model.Settings{})
	assert.Equal(t, "max_violations must be at least 1", detail(err, model.ErrInvalidSettings))
	assert.Equal(t, "not found", detail(model.ErrNotFound, model.ErrNotFound))
}
