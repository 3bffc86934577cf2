package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gowarden/pkg/client"
	"github.com/NicolasHaas/gowarden/pkg/model"
	"github.com/NicolasHaas/gowarden/pkg/version"
)

// Result types rendered by the commands. JSON and YAML output use the same
// field names as the API.

// BanList is the result of `bans list`.
type BanList struct {
	Bans  []model.Ban `json:"bans"`
	Total int         `json:"total"`
}

// ViolationList is the result of `violations list`.
type ViolationList struct {
	Violations []model.Violation `json:"violations"`
	Total      int               `json:"total"`
}

// ClearResult is the result of `violations clear`.
type ClearResult struct {
	Removed int `json:"removed"`
}

// PlayerList is the result of `players`.
type PlayerList struct {
	Players []model.Player `json:"players"`
	Total   int            `json:"total"`
}

// ActivityList is the result of `activity`.
type ActivityList struct {
	Activity []model.ActivityEvent `json:"activity"`
}

// TokenResult is the result of `token`. Token is the raw secret.
type TokenResult struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Token string `json:"token"`
	File  string `json:"file"`
}

// ProfileList is the result of `profile list`. Tokens are not shown.
type ProfileList struct {
	Current  string        `json:"current"`
	Profiles []ProfileInfo `json:"profiles"`
}

// ProfileInfo describes one saved profile.
type ProfileInfo struct {
	Name     string `json:"name"`
	Server   string `json:"server"`
	LastUsed int64  `json:"last_used,omitempty"`
}

// outputResult writes result in the given format.
func outputResult(w io.Writer, result any, format string) error {
	switch format {
	case "json":
		return outputJSON(w, result)
	case "yaml":
		return outputYAML(w, result)
	case "table", "":
		return outputTable(w, result)
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

func outputJSON(w io.Writer, result any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// outputYAML goes through JSON so both formats share the API field names.
func outputYAML(w io.Writer, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return err
	}
	out, err := yaml.Marshal(intsFromNumbers(generic))
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// intsFromNumbers converts json.Number leaves to int64 where possible so
// unix timestamps are not rendered in exponent form.
func intsFromNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = intsFromNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = intsFromNumbers(e)
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}

func outputTable(out io.Writer, result any) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	switch r := result.(type) {
	case model.Statistics:
		outputStatsTable(w, r)
	case BanList:
		fmt.Fprintf(w, "TOTAL\t%d\n\n", r.Total)
		outputBansTable(w, r.Bans)
	case model.Ban:
		outputBansTable(w, []model.Ban{r})
	case client.CheckResult:
		status := "NOT BANNED"
		switch {
		case r.Banned && r.Remote:
			status = "BANNED (other server)"
		case r.Banned:
			status = "BANNED"
		}
		fmt.Fprintf(w, "STATUS:\t%s\n", status)
		if len(r.Bans) > 0 {
			fmt.Fprintln(w)
			outputBansTable(w, r.Bans)
		}
	case ViolationList:
		fmt.Fprintf(w, "TOTAL\t%d\n\n", r.Total)
		fmt.Fprintln(w, "ID\tNAME\tLICENSE\tTYPE\tCOUNT\tLAST SEEN\tDETAILS")
		for _, v := range r.Violations {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
				v.ID, dash(v.Name), dash(v.License), v.Type, v.Count, formatUnix(v.Timestamp), truncate(v.Details, 40))
		}
	case ClearResult:
		fmt.Fprintf(w, "REMOVED:\t%d\n", r.Removed)
	case PlayerList:
		fmt.Fprintf(w, "TOTAL\t%d\n\n", r.Total)
		fmt.Fprintln(w, "ID\tNAME\tLICENSE\tSTEAM\tDISCORD\tPING\tCONNECTED")
		for _, p := range r.Players {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
				p.ID, p.Name, dash(p.License), dash(p.Steam), dash(p.Discord), p.Ping, formatUnix(p.ConnectedAt))
		}
	case ActivityList:
		fmt.Fprintln(w, "TIME\tTYPE\tDETAILS")
		for _, e := range r.Activity {
			fmt.Fprintf(w, "%s\t%s\t%s\n", formatUnix(e.Timestamp), e.Type, e.Details)
		}
	case model.Settings:
		outputSettingsTable(w, r)
	case TokenResult:
		fmt.Fprintf(w, "NAME:\t%s\n", r.Name)
		fmt.Fprintf(w, "ROLE:\t%s\n", r.Role)
		fmt.Fprintf(w, "FILE:\t%s\n", r.File)
		fmt.Fprintf(w, "TOKEN:\t%s\n", r.Token)
		fmt.Fprintln(w, "\nThe token is shown only once; the file stores its hash.")
	case ProfileList:
		fmt.Fprintln(w, "CURRENT\tNAME\tSERVER\tLAST USED")
		for _, p := range r.Profiles {
			mark := ""
			if p.Name == r.Current {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, p.Name, p.Server, formatUnix(p.LastUsed))
		}
	case version.Info:
		fmt.Fprintf(w, "VERSION:\t%s\n", r.Version)
		fmt.Fprintf(w, "COMMIT:\t%s\n", r.Commit)
		fmt.Fprintf(w, "BUILT:\t%s\n", r.Date)
	default:
		// Fall back to JSON for unknown types
		return outputJSON(out, result)
	}
	return nil
}

func outputStatsTable(w io.Writer, s model.Statistics) {
	fmt.Fprintf(w, "ONLINE PLAYERS:\t%d\n", s.OnlinePlayers)
	fmt.Fprintf(w, "ACTIVE BANS:\t%d\n", s.ActiveBans)
	fmt.Fprintf(w, "TOTAL BANS:\t%d\n", s.TotalBans)
	fmt.Fprintf(w, "  AUTO:\t%d\n", s.AutoBans)
	fmt.Fprintf(w, "  MANUAL:\t%d\n", s.ManualBans)
	fmt.Fprintf(w, "VIOLATIONS (24H):\t%d\n", s.RecentViolations)
	fmt.Fprintf(w, "TOTAL VIOLATIONS:\t%d\n", s.TotalViolations)
}

func outputBansTable(w io.Writer, bans []model.Ban) {
	fmt.Fprintln(w, "ID\tIDENTITY\tTYPE\tSTATUS\tDURATION\tEXPIRES\tADMIN\tREASON")
	for _, b := range bans {
		status := "active"
		if !b.Active {
			status = "revoked"
		} else if !b.Enforced(time.Now()) {
			status = "expired"
		}
		expires := "never"
		if !b.IsPermanent() {
			expires = formatUnix(b.ExpiresAt())
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			b.ID, identityLabel(b.Identity()), b.Type, status, model.FormatDuration(b.Duration), expires, b.Admin, truncate(b.Reason, 48))
	}
}

func outputSettingsTable(w io.Writer, s model.Settings) {
	// Same keys `settings set` accepts.
	data, _ := json.Marshal(s)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rows map[string]any
	_ = dec.Decode(&rows)
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(w, "KEY\tVALUE")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%v\n", k, rows[k])
	}
}

func identityLabel(id model.Identity) string {
	var parts []string
	for _, v := range []string{id.License, id.Steam, id.Discord} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return dash(strings.Join(parts, ","))
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
