package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"teststability/internal/history"
	"teststability/internal/project"
	"teststability/internal/recorder"
	"teststability/internal/scm"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// HTTP server timeouts. Large reports take a while to upload.
	HTTPReadTimeout  = 60 * time.Second
	HTTPWriteTimeout = 60 * time.Second
	HTTPIdleTimeout  = 120 * time.Second

	// Request timeout for middleware
	RequestTimeout = 60 * time.Second

	// Shutdown waits this long for in-flight requests.
	ShutdownTimeout = 30 * time.Second

	// Rate limiting - requests per minute
	GlobalRateLimit = 120 // Global rate limit per minute
	IngestRateLimit = 30  // Report submission rate limit per minute
)

// Server represents the HTTP server
type Server struct {
	Registry    *project.Registry
	Store       *history.Store
	LockManager *recorder.LockManager
	Commits     scm.CommitLookup // optional
	Metrics     *Metrics
	Logger      *slog.Logger
	TestMode    bool // disables rate limiting

	httpServer *http.Server
}

// NewServer creates a new server instance. commits may be nil, in which case
// builds are recorded with whatever metadata the request carries.
func NewServer(registry *project.Registry, store *history.Store, commits scm.CommitLookup, logger *slog.Logger, testMode bool) *Server {
	return &Server{
		Registry:    registry,
		Store:       store,
		LockManager: recorder.NewLockManager(),
		Commits:     commits,
		Metrics:     NewMetrics(),
		Logger:      logger,
		TestMode:    testMode,
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))
	r.Use(NewLoggingMiddleware(s.Logger))

	// Rate limiting middleware (only if not in test mode)
	if !s.TestMode {
		r.Use(NewRateLimitMiddleware(GlobalRateLimit, s.Logger))
	}

	r.Get("/health", s.HandleHealth)
	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())

	r.Route("/status/{job}", func(r chi.Router) {
		r.Get("/", s.HandleStatus)
		r.Get("/regressions", s.HandleRegressions)
		r.Get("/builds/{number}", s.HandleBuild)
		r.Get("/builds/{number}/tests/*", s.HandleTest)
	})

	// Submission route with stricter rate limit
	if !s.TestMode {
		r.With(NewIngestRateLimitMiddleware(IngestRateLimit, s.Logger)).Post("/in/{job}", s.HandleIngest)
	} else {
		r.Post("/in/{job}", s.HandleIngest)
	}

	return r
}

// Start starts the HTTP server and blocks until it stops. It returns nil
// after a graceful Shutdown.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("Starting server", "addr", addr)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and closes the
// history store.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	if s.httpServer != nil {
		shutdownErr = s.httpServer.Shutdown(ctx)
	}

	if s.Store != nil {
		if err := s.Store.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}
	return shutdownErr
}
