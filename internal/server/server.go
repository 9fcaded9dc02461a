// Package server exposes the fusion service over HTTP with lifecycle
// management: routing, auth, rate limiting, metrics and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphaelgruber/datafuse-go/internal/config"
	"github.com/raphaelgruber/datafuse-go/internal/metrics"
	"github.com/raphaelgruber/datafuse-go/internal/service"
)

// Server wraps the HTTP server with its dependencies.
type Server struct {
	cfg       config.Config
	version   string
	logger    *slog.Logger
	svc       *service.FusionService
	jobs      *service.JobManager
	collector *metrics.Collector
	http      *http.Server
}

// New wires the service layer into an HTTP server.
func New(cfg config.Config, version string, logger *slog.Logger) *Server {
	collector := metrics.NewCollector()
	s := &Server{
		cfg:       cfg,
		version:   version,
		logger:    logger,
		svc:       service.NewFusionService(cfg.Engine(), collector),
		jobs:      service.NewJobManager(cfg.JobTTL),
		collector: collector,
	}
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(LoggingMiddleware(s.logger, s.collector))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Liveness and scrape endpoints stay outside auth and rate limits.
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
		}
		if s.cfg.JWTSecret != "" {
			r.Use(JWTMiddleware(s.cfg.JWTSecret))
		}
		r.Use(BodyLimit(s.cfg.MaxBodyBytes))

		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Post("/fuse", s.handleFuse)
		r.Post("/fuse/async", s.handleFuseAsync)
		r.Get("/fuse/async/{id}", s.handleJobStatus)
		r.Get("/jobs", s.handleJobs)
		r.Post("/fuse/upload", s.handleUpload)
	})

	return r
}

// Run starts the server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.cfg.ListenAddr, "version", s.version)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
