// Package server provides the HTTP server and routing for quantlab.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/config"
	"github.com/aristath/quantlab/internal/di"
	optimizationhandlers "github.com/aristath/quantlab/internal/modules/optimization/handlers"
	reporthandlers "github.com/aristath/quantlab/internal/modules/report/handlers"
	simulationhandlers "github.com/aristath/quantlab/internal/modules/simulation/handlers"
)

// apiTimeout bounds every request except the event stream
const apiTimeout = 10 * time.Minute

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Config    *config.Config
	Container *di.Container    // DI container with all services
	Jobs      *di.JobInstances // may be nil
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	cfg       *config.Config
	container *di.Container
	system    *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg.Config,
		container: cfg.Container,
	}
	s.system = NewSystemHandlers(cfg.Container, cfg.Jobs, cfg.Log)

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	// no WriteTimeout: backtests and the event stream outlive it
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	// Recover from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging and request metrics
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", s.container.Metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		// Long-lived websocket, outside the request timeout
		stream := NewEventsStreamHandler(s.container.EventBus, s.log)
		r.Get("/events/stream", stream.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(apiTimeout))

			simulationhandlers.NewHandler(
				s.container.SimulationConfig,
				s.container.ReportRepo,
				s.container.EventBus,
				s.container.Metrics,
				s.log,
			).RegisterRoutes(r)

			optimizationhandlers.NewHandler(s.container.Metrics, s.log).RegisterRoutes(r)

			reporthandlers.NewHandler(s.container.ReportRepo, s.log).RegisterRoutes(r)

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.system.HandleStatus)
				r.Post("/jobs/{name}", s.system.HandleRunJob) // report_retention, report_archive
			})
		})
	})
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs every request and records it under its route pattern
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.container.Metrics.ObserveHTTP(r.Method, route, status, elapsed)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", elapsed).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
