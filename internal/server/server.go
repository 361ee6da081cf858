// Package server provides the opsdesk HTTP server.
//
// It mounts the versioned API, the Prometheus metrics endpoint, and
// Kubernetes-style health probes, and implements graceful shutdown
// with connection draining.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/opsdesk/opsdesk/internal/health"
)

// Server is the opsdesk HTTP server.
type Server struct {
	httpServer      *http.Server
	probeManager    *health.ProbeManager
	inShutdown      atomic.Bool
	shutdownTimeout time.Duration
}

// Config holds server configuration.
type Config struct {
	// Address is the listen address (e.g. ":8080").
	Address string

	// ShutdownTimeout is the maximum time to wait for connections to
	// drain. Defaults to 30 seconds.
	ShutdownTimeout time.Duration

	// ReadTimeout bounds reading the entire request. Defaults to 10s.
	ReadTimeout time.Duration

	// WriteTimeout bounds response writes. Defaults to 10s.
	WriteTimeout time.Duration

	// IdleTimeout bounds keep-alive waits. Defaults to 60s.
	IdleTimeout time.Duration
}

// New creates a server serving api under /api/, metricsHandler under
// /metrics, and the probe endpoints.
func New(probeManager *health.ProbeManager, api http.Handler, metricsHandler http.Handler, cfg Config) *Server {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	s := &Server{
		probeManager:    probeManager,
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)
	mux.HandleFunc("/health/startup", s.handleStartup)
	// /healthz maps to readiness for older probe configs.
	mux.HandleFunc("/healthz", s.handleReadiness)

	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	if api != nil {
		mux.Handle("/api/", api)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start marks initialization complete and serves until Shutdown.
// Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.probeManager.MarkInitialized()
	return s.httpServer.ListenAndServe()
}

// Shutdown drains connections gracefully: readiness starts failing,
// keep-alives are disabled, and existing requests get up to
// ShutdownTimeout to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.probeManager.MarkShutdown()
	s.httpServer.SetKeepAlivesEnabled(false)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// IsShuttingDown reports whether shutdown has begun.
func (s *Server) IsShuttingDown() bool {
	return s.inShutdown.Load()
}

func (s *Server) writeProbeResponse(w http.ResponseWriter, result *health.ProbeResult, unhealthyStatus int) {
	w.Header().Set("Content-Type", "application/json")
	if result.Status == health.StatusUnhealthy {
		w.WriteHeader(unhealthyStatus)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(result)
}

// handleLiveness serves GET /health/live. It always returns 200 while
// the process is responsive, even during shutdown.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeProbeResponse(w, s.probeManager.CheckLiveness(r.Context()), http.StatusOK)
}

// handleReadiness serves GET /health/ready, returning 503 when the
// server is shutting down or a dependency check fails.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeProbeResponse(w, s.probeManager.CheckReadiness(r.Context()), http.StatusServiceUnavailable)
}

// handleStartup serves GET /health/startup, returning 503 until
// initialization completes.
func (s *Server) handleStartup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeProbeResponse(w, s.probeManager.CheckStartup(r.Context()), http.StatusServiceUnavailable)
}
