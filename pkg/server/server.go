// Package server implements the GoWarden HTTP API.
package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/NicolasHaas/gowarden/pkg/auth"
	"github.com/NicolasHaas/gowarden/pkg/datastore"
	"github.com/NicolasHaas/gowarden/pkg/model"
	"github.com/NicolasHaas/gowarden/pkg/registry"
	"github.com/NicolasHaas/gowarden/pkg/writeback"
)

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Data, Queue and Syncer and closes them on shutdown.
type Dependencies struct {
	Registry *registry.Registry
	Auth     *auth.Authenticator
	Queue    *writeback.Queue              // optional
	Data     datastore.DataProviderFactory // optional
	Syncer   io.Closer                     // optional, e.g. *bansync.RedisSyncer
	Logger   *slog.Logger
}

// Server is the GoWarden API server.
type Server struct {
	cfg     Config
	reg     *registry.Registry
	auth    *auth.Authenticator
	queue   *writeback.Queue
	data    datastore.DataProviderFactory
	syncer  io.Closer
	metrics *Metrics
	limiter *ipRateLimiter
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		reg:     deps.Registry,
		auth:    deps.Auth,
		queue:   deps.Queue,
		data:    deps.Data,
		syncer:  deps.Syncer,
		metrics: NewMetrics(),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	if cfg.RateLimit > 0 && cfg.RateWindow > 0 {
		s.limiter = newIPRateLimiter(cfg.RateLimit, cfg.RateWindow)
	}
	return s
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler builds the /api router with its middleware chain.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	api := router.PathPrefix("/api").Subrouter()
	api.NotFoundHandler = router.NotFoundHandler
	api.MethodNotAllowedHandler = router.MethodNotAllowedHandler

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	view := s.require(model.PermViewRecords)
	api.Handle("/statistics", view(s.handleStatistics)).Methods(http.MethodGet)
	api.Handle("/bans", view(s.handleListBans)).Methods(http.MethodGet)
	api.Handle("/bans/check", view(s.handleCheckBan)).Methods(http.MethodGet)
	api.Handle("/violations", view(s.handleListViolations)).Methods(http.MethodGet)
	api.Handle("/players", view(s.handleListPlayers)).Methods(http.MethodGet)
	api.Handle("/activity", view(s.handleActivity)).Methods(http.MethodGet)
	api.Handle("/settings", view(s.handleGetSettings)).Methods(http.MethodGet)

	api.Handle("/bans", s.require(model.PermIssueBan)(s.handleCreateBan)).Methods(http.MethodPost)
	api.Handle("/bans/{id}", s.require(model.PermRevokeBan)(s.handleRevokeBan)).Methods(http.MethodDelete)
	api.Handle("/violations/clear", s.require(model.PermClearViolations)(s.handleClearViolations)).Methods(http.MethodDelete)
	api.Handle("/settings", s.require(model.PermEditSettings)(s.handlePutSettings)).Methods(http.MethodPut)

	report := s.require(model.PermReportEvents)
	api.Handle("/violations", report(s.handleReportViolation)).Methods(http.MethodPost)
	api.Handle("/players", report(s.handlePlayerConnected)).Methods(http.MethodPost)
	api.Handle("/players/{id}", report(s.handlePlayerDisconnected)).Methods(http.MethodDelete)

	var h http.Handler = router
	h = s.withRateLimit(h)
	h = s.withRecover(h)
	h = withCORS(h)
	h = withSecurityHeaders(h)
	h = s.withRequestLog(h)
	return h
}
