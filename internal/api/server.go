// Package api serves the HTTP query API of the platform.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/AwesomeGRV/ErrorBudget/internal/app"
	"github.com/AwesomeGRV/ErrorBudget/internal/metrics"
)

// ServerConfig is the configuration of the API server
type ServerConfig struct {
	App      *app.App
	Addr     string
	Logger   *zap.Logger
	Recorder metrics.Recorder
	// Gatherer backs /metrics.
	Gatherer prometheus.Gatherer
	// IngestRateLimit caps accepted ingest requests per second. Zero disables the limit.
	IngestRateLimit float64
	IngestBurst     int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	TimeNowFunc     func() time.Time
}

func (c *ServerConfig) defaults() error {
	if c.App == nil {
		return fmt.Errorf("app is required")
	}
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Recorder == nil {
		c.Recorder = metrics.NoopRecorder
	}
	if c.Gatherer == nil {
		c.Gatherer = prometheus.DefaultGatherer
	}
	if c.IngestBurst <= 0 {
		c.IngestBurst = 100
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.TimeNowFunc == nil {
		c.TimeNowFunc = time.Now
	}
	return nil
}

// Server is the HTTP API server
type Server struct {
	app      *app.App
	router   *chi.Mux
	server   *http.Server
	logger   *zap.Logger
	metrics  metrics.Recorder
	gatherer prometheus.Gatherer
	limiter  *rate.Limiter
	now      func() time.Time
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	limit := rate.Inf
	if cfg.IngestRateLimit > 0 {
		limit = rate.Limit(cfg.IngestRateLimit)
	}

	s := &Server{
		app:      cfg.App,
		router:   chi.NewRouter(),
		logger:   cfg.Logger.Named("api"),
		metrics:  cfg.Recorder,
		gatherer: cfg.Gatherer,
		limiter:  rate.NewLimiter(limit, cfg.IngestBurst),
		now:      cfg.TimeNowFunc,
	}
	s.routes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.logger))
	r.Use(measure(s.metrics))
	r.Use(middleware.Recoverer)

	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// The query API answers both unversioned and under /api/v1.
	r.Group(s.apiRoutes)
	r.Route("/api/v1", s.apiRoutes)
}

func (s *Server) apiRoutes(r chi.Router) {
	r.Get("/health", s.handleHealth)

	r.Route("/services", func(r chi.Router) {
		r.Get("/", s.handleListServices)
		r.Post("/", s.handleCreateService)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetService)
			r.Put("/", s.handleUpdateService)
			r.Delete("/", s.handleDisableService)
			r.Get("/slos", s.handleListSLOs)
			r.Get("/slo-status", s.handleSLOStatus)
			r.Get("/error-budget", s.handleErrorBudget)
		})
	})

	r.Route("/slos", func(r chi.Router) {
		r.Post("/", s.handleCreateSLO)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSLO)
			r.Put("/", s.handleUpdateSLO)
			r.Delete("/", s.handleDisableSLO)
		})
	})

	r.Get("/deploy-check", s.handleDeployCheck)
	r.Post("/metrics/ingest", s.handleIngest)
}

// ServeHTTP makes the Server an http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}
