package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/polyglot-keyconf/internal/core/ports"
	"github.com/tjfontaine/polyglot-keyconf/internal/engine"
)

// MessageHandler is the conversation engine as seen by the HTTP conduit.
type MessageHandler interface {
	Handle(ctx context.Context, msg engine.Message) engine.Result
}

// Config configures a Server.
type Config struct {
	Timeout time.Duration
	Logger  *slog.Logger
	Engine  MessageHandler
	// Audit backs GET /admin/updates. Nil leaves the route unregistered.
	Audit ports.AuditStore
	// Auth guards the admin routes. Nil leaves them open.
	Auth ports.AuthProvider
}

// Server is the HTTP conduit in front of the engine.
type Server struct {
	Router *chi.Mux
	logger *slog.Logger
	engine MessageHandler
	audit  ports.AuditStore
}

// New builds the router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(timeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "keyconf")
	})

	s := &Server{
		Router: r,
		logger: logger,
		engine: cfg.Engine,
		audit:  cfg.Audit,
	}

	r.Get("/healthz", s.handleHealth)
	r.Post("/v1/messages", s.handleMessage)
	if s.audit != nil {
		r.Route("/admin", func(r chi.Router) {
			if cfg.Auth != nil {
				r.Use(AuthMiddleware(cfg.Auth))
			}
			r.Get("/updates", s.handleListUpdates)
		})
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}
