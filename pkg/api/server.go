// Package api exposes scan initiation, status, history, remediation and
// snapshot diffs over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/agentguard/prompt-scanner/internal/models"
	"github.com/agentguard/prompt-scanner/pkg/auth"
	"github.com/agentguard/prompt-scanner/pkg/config"
	"github.com/agentguard/prompt-scanner/pkg/remediation"
)

// ScanInitiator starts scans
type ScanInitiator interface {
	InitiateScan(ctx context.Context, ownerID, agentID string) (*models.Scan, error)
}

// ScanReader reads scan records
type ScanReader interface {
	Get(ctx context.Context, scanID string) (*models.Scan, error)
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*models.Scan, error)
}

// AgentDirectory resolves agents by id
type AgentDirectory interface {
	GetAgent(ctx context.Context, agentID string) (*models.Agent, error)
}

// Remediator hardens prompts from completed scans
type Remediator interface {
	Remediate(ctx context.Context, ownerID, scanID string) (*remediation.Result, error)
}

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// StatsFunc reports a component's runtime counters for /health
type StatsFunc func() interface{}

// Dependencies are the collaborators the API serves
type Dependencies struct {
	Initiator  ScanInitiator
	Scans      ScanReader
	Agents     AgentDirectory
	Remediator Remediator
	Auth       *auth.Authenticator
	Checks     map[string]ReadinessCheck
	Stats      map[string]StatsFunc
}

// Server represents the HTTP API server
type Server struct {
	config     *config.Config
	deps       Dependencies
	router     *mux.Router
	httpServer *http.Server
	logger     *logrus.Logger
	ready      atomic.Bool
}

// NewServer creates a new API server instance
func NewServer(cfg *config.Config, deps Dependencies, logger *logrus.Logger) *Server {
	s := &Server{
		config: cfg,
		deps:   deps,
		router: mux.NewRouter(),
		logger: logger,
	}

	s.setupRoutes()

	readTimeout, _ := cfg.ParseDuration(cfg.Server.ReadTimeout)
	writeTimeout, _ := cfg.ParseDuration(cfg.Server.WriteTimeout)

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        s.router,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	return s
}

// setupRoutes configures HTTP routes and middleware
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.requestSizeLimitMiddleware)

	apiRouter := s.router.PathPrefix("/api").Subrouter()
	if s.deps.Auth != nil {
		apiRouter.Use(s.deps.Auth.Middleware)
	}

	apiRouter.HandleFunc("/agents/{agentId}/scans", s.handleInitiateScan).Methods(http.MethodPost)
	apiRouter.HandleFunc("/agents/{agentId}/scans", s.handleListScans).Methods(http.MethodGet)
	apiRouter.HandleFunc("/scans/{scanId}", s.handleGetScan).Methods(http.MethodGet)
	apiRouter.HandleFunc("/scans/{scanId}/remediate", s.handleRemediate).Methods(http.MethodPost)
	apiRouter.HandleFunc("/scans/{scanId}/diff", s.handleDiff).Methods(http.MethodGet)

	s.router.HandleFunc("/health", HealthHandler(s.deps.Stats)).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReadiness).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.WithFields(logrus.Fields{
		"port": s.config.Server.Port,
	}).Info("Starting HTTP server")

	s.ready.Store(true)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	s.ready.Store(false)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// SetReady sets the readiness status
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// HealthHandler reports liveness plus the counters of each component in stats
func HealthHandler(stats map[string]StatsFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{"status": "healthy"}
		if len(stats) > 0 {
			components := make(map[string]interface{}, len(stats))
			for name, fn := range stats {
				components[name] = fn()
			}
			body["components"] = components
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// handleReadiness reports not ready until started and while any dependency check fails
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		s.logger.WithField("failed_checks", failed).Warn("Readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not ready",
			"checks": failed,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// loggingMiddleware assigns a request id and logs all HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		s.logger.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": r.RemoteAddr,
			"status_code": rw.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("HTTP request")
	})
}

// requestSizeLimitMiddleware enforces maximum request size
func (s *Server) requestSizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Server.MaxRequestSize > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxRequestSize)
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
