// Package server hosts the HTTP control plane: engine lifecycle, deal
// history, balances, confirmations, metrics and the live WebSocket stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/skinarb/internal/domain"
	"github.com/alanyoungcy/skinarb/internal/server/handler"
	"github.com/alanyoungcy/skinarb/internal/server/middleware"
	"github.com/alanyoungcy/skinarb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is requests per minute per client. Zero, or a nil Limiter,
	// disables limiting.
	RateLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Nil optional handlers leave their routes unregistered.
type Handlers struct {
	Health        *handler.HealthHandler
	Engine        *handler.EngineHandler
	Deals         *handler.DealHandler
	Balances      *handler.BalanceHandler
	Confirmations *handler.ConfirmationHandler
	Guard         *handler.GuardHandler
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Options carries the optional cross-cutting collaborators.
type Options struct {
	Hub     *ws.Hub
	Limiter domain.RateLimiter
	// Recorder receives per-request metrics when set.
	Recorder middleware.RequestRecorder
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (metrics, CORS, logging, rate limit, auth) and
// attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      newHandler(cfg, handlers, opts, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// newHandler builds the routed and wrapped handler. Split out so tests can
// drive it with httptest.
func newHandler(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Engine status and lifecycle.
	if handlers.Engine != nil {
		mux.HandleFunc("GET /api/stats", handlers.Engine.GetStats)
		mux.HandleFunc("GET /api/state", handlers.Engine.GetState)
		mux.HandleFunc("POST /api/engine/{action}", handlers.Engine.Control)
	}

	if handlers.Deals != nil {
		mux.HandleFunc("GET /api/deals", handlers.Deals.ListDeals)
		mux.HandleFunc("GET /api/deals/{id}", handlers.Deals.GetDeal)
	}
	if handlers.Balances != nil {
		mux.HandleFunc("GET /api/balances", handlers.Balances.GetBalances)
	}
	if handlers.Confirmations != nil {
		mux.HandleFunc("GET /api/confirmations", handlers.Confirmations.ListPending)
		mux.HandleFunc("POST /api/confirmations/resolve", handlers.Confirmations.Resolve)
	}
	if handlers.Guard != nil {
		mux.HandleFunc("GET /api/guard/code", handlers.Guard.GetCode)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if opts.Hub != nil {
		mux.HandleFunc("GET /ws", opts.Hub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	if opts.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(opts.Limiter, cfg.RateLimit, time.Minute, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	if opts.Recorder != nil {
		h = middleware.Metrics(opts.Recorder)(h)
	}
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
