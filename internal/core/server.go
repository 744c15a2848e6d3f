// Package core provides the HTTP chassis for the push pipeline API. It owns
// the chi router, the global middleware chain, the error envelope, request
// validation, and the health endpoint. Domain handlers are mounted through
// RouteRegistrars so this package never imports them.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Smalik1203/ktscb-sub006/internal/config"
)

// Server encapsulates the dependencies of the HTTP API so tests can inject
// fakes and entry points can wire the real implementations.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// Hasher verifies service keys. Nil means bcrypt.
	Hasher PasswordHasher

	// HealthProbes are executed by GET /health.
	HealthProbes []HealthProbe

	// Idempotency backs the Idempotency-Key header. Nil disables it.
	Idempotency IdempotencyStore

	// RouteRegistrars mount the protected routes. They run inside the
	// service-key group.
	RouteRegistrars []func(r chi.Router)

	closers []func(context.Context) error
	router  *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty router.
// The caller mounts routes with MountRoutes once registrars are set.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the underlying chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a resource to close during Shutdown. Closers run in
// reverse registration order.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// Shutdown releases registered resources. Every closer runs even when an
// earlier one fails; the errors are joined.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")
	start := time.Now()

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.Logger.Error("error closing resource", "error", err)
			errs = append(errs, err)
		}
	}

	s.Logger.Info("server shutdown complete", "duration", time.Since(start))
	return errors.Join(errs...)
}
