// Package core provides the API chassis for the saasbase platform. It owns
// the chi router and enforces cross-cutting concerns (panic recovery,
// request correlation, security headers, structured logging, CORS)
// before requests reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"saasbase/internal/config"
	"saasbase/internal/types"
)

// SessionResolver validates a raw session ID from a cookie and returns the
// session plus its user. Implemented by the auth service; injected so the
// middleware can be tested with a fake.
type SessionResolver interface {
	ResolveSession(ctx context.Context, sessionID string) (*types.Session, *types.User, error)
}

// Server encapsulates the router and shared dependencies, allowing distinct
// configuration per environment and easy injection during testing.
type Server struct {
	Config   *config.Config
	Logger   *slog.Logger
	Sessions SessionResolver

	// RouteRegistrars are invoked under /v1 when MountRoutes runs. Populated
	// by the application entry point to avoid import cycles between core and
	// handler packages.
	RouteRegistrars []func(chi.Router)

	// PublicRegistrars are mounted at the router root, outside /v1 and
	// outside the auth middleware (webhook endpoints, OAuth callbacks).
	PublicRegistrars []func(chi.Router)

	router *chi.Mux

	// closers are shut down in order during Shutdown (DB pools etc.).
	closers []func()
}

// NewServer builds a Server with the core chassis prepared for route
// mounting. It fails fast on nil critical dependencies.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for tests and route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a cleanup function to run during Shutdown.
func (s *Server) OnShutdown(fn func()) {
	s.closers = append(s.closers, fn)
}

// Shutdown releases server-held resources (database pools and the like).
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")
	for _, fn := range s.closers {
		fn()
	}
	s.Logger.Info("server shutdown complete")
	return nil
}
