package server

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// Metrics tracks HTTP boundary statistics. Domain counters live on the
// registry and the writeback queue and are read when rendering.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Request counters
	Requests      atomic.Int64 // all /api requests
	ClientErrors  atomic.Int64 // 4xx responses
	ServerErrors  atomic.Int64 // 5xx responses
	Panics        atomic.Int64 // recovered handler panics
	RateLimited   atomic.Int64 // requests rejected by the rate limiter
	InFlight      atomic.Int64 // requests currently being served
	RequestMillis atomic.Int64 // summed handler latency

	// Auth counters
	FailedAuths     atomic.Int64 // missing or unknown tokens
	SuccessfulAuths atomic.Int64 // resolved tokens
	Forbidden       atomic.Int64 // authenticated but lacking permission
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	Requests      int64 `json:"requests"`
	ClientErrors  int64 `json:"client_errors"`
	ServerErrors  int64 `json:"server_errors"`
	Panics        int64 `json:"panics"`
	RateLimited   int64 `json:"rate_limited"`
	InFlight      int64 `json:"in_flight"`
	RequestMillis int64 `json:"request_millis"`

	FailedAuths     int64 `json:"failed_auths"`
	SuccessfulAuths int64 `json:"successful_auths"`
	Forbidden       int64 `json:"forbidden"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:          uptime.Truncate(time.Second).String(),
		UptimeSeconds:   int64(uptime.Seconds()),
		Requests:        m.Requests.Load(),
		ClientErrors:    m.ClientErrors.Load(),
		ServerErrors:    m.ServerErrors.Load(),
		Panics:          m.Panics.Load(),
		RateLimited:     m.RateLimited.Load(),
		InFlight:        m.InFlight.Load(),
		RequestMillis:   m.RequestMillis.Load(),
		FailedAuths:     m.FailedAuths.Load(),
		SuccessfulAuths: m.SuccessfulAuths.Load(),
		Forbidden:       m.Forbidden.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func (m *Metrics) observe(status int, d time.Duration) {
	m.Requests.Add(1)
	m.RequestMillis.Add(d.Milliseconds())
	switch {
	case status >= 500:
		m.ServerErrors.Add(1)
	case status >= 400:
		m.ClientErrors.Add(1)
	}
}

// LogSummary writes a periodic metrics summary to the logger.
func (s *Server) LogSummary() {
	m := s.metrics.Snapshot()
	c := s.reg.Counters()
	s.logger.Info("metrics",
		"uptime", m.Uptime,
		"requests", m.Requests,
		"server_errors", m.ServerErrors,
		"failed_auths", m.FailedAuths,
		"bans_issued", c.BansIssued,
		"auto_bans", c.AutoBans,
		"violations", c.ViolationsRecorded,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (s *Server) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.LogSummary()
			}
		}
	}()
}
