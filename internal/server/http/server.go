// Package httpserver provides the HTTP REST API server for the keyword research service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/keyword-research-service/internal/batch"
	"github.com/helixir/keyword-research-service/internal/domain"
	"github.com/helixir/keyword-research-service/internal/eventual"
	"github.com/helixir/keyword-research-service/internal/idempotency"
	"github.com/helixir/keyword-research-service/internal/observability"
)

// BatchService is the batch submission surface used by the HTTP server.
// It is implemented by batch.Manager.
type BatchService interface {
	SubmitBatch(ctx context.Context, keywords []string, params domain.SharedParams) (*batch.Handle, error)
	Handle(clientID string, id uuid.UUID) (*batch.Handle, error)
	Get(ctx context.Context, clientID string, id uuid.UUID) (domain.BatchSnapshot, error)
	List(ctx context.Context, clientID string) ([]domain.BatchSnapshot, error)
	Cancel(clientID string, id uuid.UUID) (domain.BatchSnapshot, error)
}

// RecordReader reads tracking record results with retries.
type RecordReader interface {
	Read(ctx context.Context, recordID string, kind domain.ResultKind) (eventual.Outcome, error)
}

// IdempotencyStore maps Idempotency-Key headers to batches.
type IdempotencyStore interface {
	Reserve(ctx context.Context, clientID, key string) (idempotency.Reservation, error)
	Commit(ctx context.Context, clientID, key string, batchID uuid.UUID) error
	Release(ctx context.Context, clientID, key string) error
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators of the HTTP server.
type Dependencies struct {
	Batches BatchService
	Records RecordReader
	// Idempotency is optional; nil disables Idempotency-Key handling.
	Idempotency IdempotencyStore
	// Checks are probed by the readiness endpoint, keyed by name.
	Checks  map[string]HealthChecker
	Metrics *observability.Metrics
}

// Server is the HTTP REST API server.
type Server struct {
	router      chi.Router
	httpServer  *http.Server
	batches     BatchService
	records     RecordReader
	idempotency IdempotencyStore
	checks      map[string]HealthChecker
	metrics     *observability.Metrics
	validate    *validator.Validate
	logger      zerolog.Logger

	progressInterval time.Duration
	progressMaxAge   time.Duration

	// closing is closed on Shutdown so that open progress streams end.
	closing   chan struct{}
	closeOnce sync.Once
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(cfg Config, deps Dependencies, logger zerolog.Logger) *Server {
	s := &Server{
		batches:          deps.Batches,
		records:          deps.Records,
		idempotency:      deps.Idempotency,
		checks:           deps.Checks,
		metrics:          deps.Metrics,
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		logger:           logger.With().Str("component", "http-server").Logger(),
		progressInterval: sseQueryInterval,
		progressMaxAge:   sseMaxDuration,
		closing:          make(chan struct{}),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(correlationIDMiddleware)
	r.Use(requestLoggerMiddleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1/clients/{clientID}/keyword-batches", func(r chi.Router) {
		r.Use(clientContextMiddleware)

		r.Post("/", s.submitBatch)
		r.Get("/", s.listBatches)
		r.Get("/{batchID}", s.getBatch)
		r.Delete("/{batchID}", s.cancelBatch)
		r.Get("/{batchID}/progress", s.streamProgress)
	})

	r.Get("/api/v1/tracking-records/{recordID}/keywords", s.getRecordKeywords)

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown ends open progress streams and gracefully shuts down the HTTP
// server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler probes every registered dependency.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	resp := map[string]string{"status": "ready"}
	status := http.StatusOK
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Str("dependency", name).Msg("readiness check failed")
			resp[name] = "unhealthy"
			resp["status"] = "not_ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp[name] = "healthy"
	}
	writeJSON(w, status, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
