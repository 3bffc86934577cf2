package server

import (
	"fmt"
	"net/http"
	"time"
)

// MetricsHandler serves /metrics in Prometheus text exposition format and
// a plain /healthz probe.
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("gowarden_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("gowarden_http_requests_total", "API requests served.", "counter", m.Requests.Load())
	write("gowarden_http_requests_in_flight", "API requests currently being served.", "gauge", m.InFlight.Load())
	write("gowarden_http_client_errors_total", "API responses with a 4xx status.", "counter", m.ClientErrors.Load())
	write("gowarden_http_server_errors_total", "API responses with a 5xx status.", "counter", m.ServerErrors.Load())
	write("gowarden_http_panics_total", "Recovered handler panics.", "counter", m.Panics.Load())
	write("gowarden_http_rate_limited_total", "Requests rejected by the rate limiter.", "counter", m.RateLimited.Load())
	write("gowarden_http_request_duration_ms_total", "Summed request handling time in milliseconds.", "counter", m.RequestMillis.Load())

	write("gowarden_auth_success_total", "Requests with a valid token.", "counter", m.SuccessfulAuths.Load())
	write("gowarden_auth_failed_total", "Requests with a missing or unknown token.", "counter", m.FailedAuths.Load())
	write("gowarden_auth_forbidden_total", "Requests denied by role.", "counter", m.Forbidden.Load())

	c := s.reg.Counters()
	write("gowarden_bans_issued_total", "Bans issued, manual and automatic.", "counter", c.BansIssued)
	write("gowarden_auto_bans_total", "Bans issued by the auto-ban policy.", "counter", c.AutoBans)
	write("gowarden_bans_revoked_total", "Bans revoked.", "counter", c.BansRevoked)
	write("gowarden_violations_recorded_total", "Violation reports accepted.", "counter", c.ViolationsRecorded)
	write("gowarden_violations_rejected_total", "Violation reports rejected by policy.", "counter", c.ViolationsRejected)
	write("gowarden_violations_pruned_total", "Violations removed by clear.", "counter", c.ViolationsPruned)
	write("gowarden_player_connects_total", "Player connect notifications.", "counter", c.PlayersConnected)
	write("gowarden_side_effect_errors_total", "Durable writes or syncs that could not run.", "counter", c.SideEffectErrors)

	st := s.reg.Statistics(time.Now())
	write("gowarden_players_online", "Connected players.", "gauge", int64(st.OnlinePlayers))
	write("gowarden_bans_active", "Bans with the active flag set.", "gauge", int64(st.ActiveBans))
	write("gowarden_bans", "Ban records.", "gauge", int64(st.TotalBans))
	write("gowarden_violations", "Violation records.", "gauge", int64(st.TotalViolations))

	if s.queue != nil {
		q := s.queue.Stats()
		write("gowarden_writeback_submitted_total", "Jobs submitted to the writeback queue.", "counter", q.Submitted)
		write("gowarden_writeback_completed_total", "Writeback jobs completed.", "counter", q.Completed)
		write("gowarden_writeback_retried_total", "Writeback job retries.", "counter", q.Retried)
		write("gowarden_writeback_failed_total", "Writeback jobs that ran out of attempts.", "counter", q.Failed)
		write("gowarden_writeback_dropped_total", "Writeback jobs dropped on a full queue.", "counter", q.Dropped)
	}
}
