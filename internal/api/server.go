// Package api exposes the pipeline over HTTP: run listing and
// triggering, live lifecycle events via SSE, and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/swage/internal/events"
	"github.com/mattjoyce/swage/internal/pipeline"
	"github.com/mattjoyce/swage/internal/step"
	"github.com/mattjoyce/swage/internal/tracking"
)

// RunDriver is the pipeline surface the API triggers and reports on.
type RunDriver interface {
	Run(ctx context.Context, requested string) error
	Status() pipeline.Status
}

// RunStore is the tracking read surface the API serves.
type RunStore interface {
	ListGroups(ctx context.Context, limit int) ([]tracking.RunGroup, error)
	GetGroup(ctx context.Context, groupID string) (*tracking.RunGroup, error)
	LatestGroup(ctx context.Context) (*tracking.RunGroup, error)
	StepsForGroup(ctx context.Context, groupID string) ([]tracking.StepRun, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	APIKey string
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	driver    RunDriver
	store     RunStore
	registry  *step.Registry
	hub       *events.Hub
	metrics   *Metrics
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	// runCtx bounds API-triggered runs to the server lifecycle, not to
	// the triggering request.
	runCtx context.Context
	// runSem enforces single-flight execution: concurrent runs would
	// race over artifact aliases and the scratch directory.
	runSem chan struct{}
}

// New creates an API server.
func New(config Config, driver RunDriver, store RunStore, registry *step.Registry, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		driver:    driver,
		store:     store,
		registry:  registry,
		hub:       hub,
		metrics:   NewMetrics(),
		logger:    logger,
		startedAt: time.Now(),
		runCtx:    context.Background(),
		runSem:    make(chan struct{}, 1),
	}
}

// Start starts the HTTP server (blocking until ctx is cancelled).
func (s *Server) Start(ctx context.Context) error {
	s.runCtx = ctx
	go s.metrics.Watch(ctx, s.hub)

	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Long enough for SSE watchers; they reconnect with Last-Event-ID.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/metrics", s.metrics.Handler().ServeHTTP)
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/steps", s.handleListSteps)
			r.Get("/runs", s.handleListRuns)
			r.Post("/runs", s.handleStartRun)
			r.Get("/runs/{groupID}", s.handleGetRun)
			r.Get("/events", s.handleEvents)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
