package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/NicolasHaas/gowarden/pkg/model"
	"github.com/NicolasHaas/gowarden/pkg/query"
	"github.com/NicolasHaas/gowarden/pkg/registry"
	"github.com/NicolasHaas/gowarden/pkg/version"
)

const msgInternal = "Internal server error"

// envelope is the common response body: success plus route-specific fields.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, body envelope) {
	if body == nil {
		body = envelope{}
	}
	body["success"] = true
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{"success": false, "error": msg})
}

// writeErr maps a registry error onto a status code. Unexpected errors are
// logged and hidden behind a generic message.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, detail(err, model.ErrValidation))
	case errors.Is(err, model.ErrInvalidSettings):
		writeError(w, http.StatusBadRequest, detail(err, model.ErrInvalidSettings))
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, model.ErrConflict):
		writeError(w, http.StatusConflict, "Settings changed concurrently, please retry")
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

// detail strips the wrapping context from err and returns the text that
// follows the sentinel, e.g. "reason is required".
func detail(err, sentinel error) string {
	msg := err.Error()
	marker := sentinel.Error() + ": "
	if i := strings.LastIndex(msg, marker); i >= 0 {
		return msg[i+len(marker):]
	}
	return sentinel.Error()
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	return decodeJSON(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes), v)
}

func decodeJSON(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", model.ErrValidation, err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id must be a positive integer", model.ErrValidation)
	}
	return id, nil
}

func pageFrom(r *http.Request) (query.Page, error) {
	q := r.URL.Query()
	return query.ParsePage(q.Get("offset"), q.Get("limit"), q.Get("filter"), q.Get("search"))
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Endpoint not found")
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, envelope{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   version.String(),
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, envelope{"data": s.reg.Statistics(time.Now())})
}

// ---- Bans ----

func (s *Server) handleListBans(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		s.writeErr(w, r, err, "")
		return
	}
	bans, total, err := s.reg.ListBans(page)
	if err != nil {
		s.writeErr(w, r, err, "")
		return
	}
	writeOK(w, envelope{"bans": bans, "total": total})
}

type createBanRequest struct {
	License  string `json:"license"`
	Steam    string `json:"steam"`
	Discord  string `json:"discord"`
	Reason   string `json:"reason"`
	Duration *int   `json:"duration"`
	Admin    string `json:"admin"` // ignored, the token name is recorded instead
}

func (s *Server) handleCreateBan(w http.ResponseWriter, r *http.Request) {
	var req createBanRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeErr(w, r, err, "")
		return
	}
	if req.Duration == nil {
		writeError(w, http.StatusBadRequest, "duration is required")
		return
	}
	p, _ := principalFrom(r.Context())
	identity := model.Identity{License: req.License, Steam: req.Steam, Discord: req.Discord}
	ban, err := s.reg.IssueManualBan(r.Context(), identity, req.Reason, *req.Duration, p.Name)
	if err != nil {
		s.writeErr(w, r, err, "")
		return
	}
	writeOK(w, envelope{"ban": ban, "message": "Ban created successfully"})
}

func (s *Server) handleRevokeBan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err, "")
		return
	}
	p, _ := principalFrom(r.Context())
	ban, err := s.reg.Revoke(r.Context(), id, p.Name)
	if err != nil {
		s.writeErr(w, r, err, "Ban not found")
		return
	}
	writeOK(w, envelope{"ban": ban, "message": "Ban removed successfully"})
}

func (s *Server) handleCheckBan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	identity := model.Identity{License: q.Get("license"), Steam: q.Get("steam"), Discord: q.Get("discord")}.Normalize()
	if identity.IsZero() {
		writeError(w, http.StatusBadRequest, "one of license, steam or discord is required")
		return
	}
	bans := s.reg.CheckIdentity(identity)
	if bans == nil {
		bans = []model.Ban{}
	}
	remote := false
	if len(bans) == 0 {
		var err error
		remote, err = s.reg.CheckRemote(r.Context(), identity)
		if err != nil {
			// Local bans still answer the check.
			s.logger.Warn("remote ban check failed", "err", err)
		}
	}
	writeOK(w, envelope{"banned": len(bans) > 0 || remote, "remote": remote, "bans": bans})
}

// ---- Violations ----

func (s *Server) handleListViolations(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		s.writeErr(w, r, err, "")
		return
	}
	violations, total := s.reg.ListViolations(page)
	writeOK(w, envelope{"violations": violations, "total": total})
}

func (s *Server) handleReportViolation(w http.ResponseWriter, r *http.Request) {
	var report model.ViolationReport
	if err := s.decode(w, r, &report); err != nil {
		s.writeErr(w, r, err, "")
		return
	}
	res, err := s.reg.RecordViolation(r.Context(), report)
	if errors.Is(err, model.ErrDetectionDisabled) {
		writeOK(w, envelope{"accepted": false, "message": "Detection disabled for this check"})
		return
	}
	if err != nil && res.Violation == nil {
		s.writeErr(w, r, err, "")
		return
	}
	if err != nil {
		// recorded, but the auto-ban failed
		s.logger.Error("auto-ban failed", "license", report.License, "err", err)
	}
	writeOK(w, envelope{"accepted": res.Accepted, "violation": res.Violation, "auto_ban": res.AutoBan})
}

func (s *Server) handleClearViolations(w http.ResponseWriter, r *http.Request) {
	olderThan := registry.DefaultPruneAge
	if v := r.URL.Query().Get("older_than_days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 1 {
			writeError(w, http.StatusBadRequest, "older_than_days must be a positive integer")
			return
		}
		olderThan = time.Duration(days) * 24 * time.Hour
	}
	removed, err := s.reg.ClearOldViolations(r.Context(), olderThan)
	if err != nil {
		s.writeErr(w, r, err, "")
		return
	}
	writeOK(w, envelope{"removed": removed, "message": fmt.Sprintf("Cleared %d violations", removed)})
}

// ---- Players ----

func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	players, total := s.reg.ListPlayers(r.URL.Query().Get("search"))
	writeOK(w, envelope{"players": players, "total": total})
}

func (s *Server) handlePlayerConnected(w http.ResponseWriter, r *http.Request) {
	var p model.Player
	if err := s.decode(w, r, &p); err != nil {
		s.writeErr(w, r, err, "")
		return
	}
	player, bans, err := s.reg.PlayerConnected(r.Context(), p)
	if err != nil {
		s.writeErr(w, r, err, "")
		return
	}
	if bans == nil {
		bans = []model.Ban{}
	}
	writeOK(w, envelope{"player": player, "banned": len(bans) > 0, "bans": bans})
}

func (s *Server) handlePlayerDisconnected(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err, "")
		return
	}
	if err := s.reg.PlayerDisconnected(r.Context(), id); err != nil {
		s.writeErr(w, r, err, "Player not found")
		return
	}
	writeOK(w, nil)
}

// ---- Activity & settings ----

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeOK(w, envelope{"activity": s.reg.Activity().Recent(limit)})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, envelope{"settings": s.reg.Settings().Get()})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		s.writeErr(w, r, fmt.Errorf("%w: invalid JSON body: %v", model.ErrValidation, err), "")
		return
	}
	p, _ := principalFrom(r.Context())
	// Fields absent from the body keep their current value. The overlay is
	// reapplied if another update wins the race.
	saved, err := s.reg.UpdateSettings(r.Context(), func(next *model.Settings) error {
		return decodeJSON(bytes.NewReader(body), next)
	}, p.Name)
	if err != nil {
		s.writeErr(w, r, err, "")
		return
	}
	writeOK(w, envelope{"settings": saved, "message": "Settings saved successfully"})
}
