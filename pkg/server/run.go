package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve listens on the configured addresses until ctx is cancelled or a
// listener fails, then shuts everything down.
func (s *Server) Serve(ctx context.Context) error {
	if s.reg == nil || s.auth == nil {
		return fmt.Errorf("server: missing registry or auth dependency")
	}

	apiSrv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if s.cfg.TLS {
		cert, err := loadOrGenerateTLS(s.cfg)
		if err != nil {
			return fmt.Errorf("server: tls: %w", err)
		}
		apiSrv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	apiLn, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		var err error
		if s.cfg.TLS {
			err = apiSrv.ServeTLS(apiLn, "", "")
		} else {
			err = apiSrv.Serve(apiLn)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: api: %w", err)
		}
	}()

	var metricsSrv *http.Server
	if s.cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:              s.cfg.MetricsAddr,
			Handler:           s.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			s.logger.Info("metrics HTTP listening", "addr", s.cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server: metrics: %w", err)
			}
		}()
	}

	s.logger.Info("GoWarden server running", "addr", apiLn.Addr().String(), "tls", s.cfg.TLS)

	// Start periodic metrics logging (every 60s)
	s.StartPeriodicLog(60*time.Second, s.ctx.Done())
	if s.limiter != nil {
		go s.evictLimiters(5 * time.Minute)
	}

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down...")
	case runErr = <-errCh:
		s.logger.Error("listener failed, shutting down", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api shutdown", "err", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	s.Shutdown(shutdownCtx)
	return runErr
}

// Shutdown stops background work, drains pending durable writes and closes
// owned dependencies.
func (s *Server) Shutdown(ctx context.Context) {
	s.cancel()
	if s.queue != nil {
		if err := s.queue.Close(ctx); err != nil {
			s.logger.Warn("writeback queue not drained", "err", err, "stats", s.queue.Stats())
		}
	}
	if s.syncer != nil {
		if err := s.syncer.Close(); err != nil {
			s.logger.Warn("close ban sync", "err", err)
		}
	}
	if s.data != nil {
		if err := s.data.Close(); err != nil {
			s.logger.Warn("close datastore", "err", err)
		}
	}
}

// evictLimiters drops per-IP limiters idle for longer than one rate window.
func (s *Server) evictLimiters(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Evict(s.cfg.RateWindow)
		}
	}
}
