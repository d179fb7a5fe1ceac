package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/halcyon-sec/soar/internal/eventstore"
	"github.com/halcyon-sec/soar/internal/hub"
	"github.com/halcyon-sec/soar/internal/ratelimit"
	"github.com/halcyon-sec/soar/internal/session"
)

// Server is the soar HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Limiter is optional; nil disables command rate limiting.
type ServerConfig struct {
	Sessions *session.Manager
	Hub      *hub.Hub
	Store    eventstore.Store
	Logger   *slog.Logger
	Limiter  ratelimit.Limiter

	// RunCtx bounds the lifetime of runs started over HTTP.
	RunCtx context.Context

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Sessions: cfg.Sessions,
		Hub:      cfg.Hub,
		Store:    cfg.Store,
		Logger:   cfg.Logger,
		Version:  cfg.Version,
		RunCtx:   cfg.RunCtx,
	})

	commandRL := rateLimitMiddleware(cfg.Limiter, sessionKeyFunc)

	mux := http.NewServeMux()

	// Session commands (rate limited per session).
	mux.Handle("POST /v1/sessions/{session_id}/start", commandRL(http.HandlerFunc(h.HandleStartRun)))
	mux.Handle("POST /v1/sessions/{session_id}/approve", commandRL(http.HandlerFunc(h.HandleApprove)))
	mux.Handle("POST /v1/sessions/{session_id}/cancel", commandRL(http.HandlerFunc(h.HandleCancel)))

	// Audit trail.
	mux.HandleFunc("GET /v1/events/recent", h.HandleRecentEvents)

	// Event feed (long-lived connection, no rate limit).
	mux.HandleFunc("GET /v1/feed", h.HandleFeed)

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → body limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = bodyLimitMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
