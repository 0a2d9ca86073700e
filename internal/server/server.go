package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/smartwinnr/callturn/internal/api"
	"github.com/smartwinnr/callturn/internal/auth"
	"github.com/smartwinnr/callturn/internal/config"
	"github.com/smartwinnr/callturn/internal/metrics"
	"github.com/smartwinnr/callturn/internal/middleware"
	"github.com/smartwinnr/callturn/internal/websocket"
)

// Pinger reports whether a backing service is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all service dependencies for the server
type Dependencies struct {
	Tokens       *auth.TokenService
	CallHandler  *api.CallHandler
	TokenHandler *api.TokenHandler // mounted in development only
	WSHandler    *websocket.Handler
	Limiter      *middleware.RateLimiter
	Metrics      *metrics.Metrics
	PubSub       Pinger // optional, checked by /readyz
	Logger       *slog.Logger
}

// New creates an HTTP server with all routes configured.
func New(cfg *config.Config, deps *Dependencies) *http.Server {
	return &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      NewHandler(cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewHandler builds the routed and wrapped handler.
func NewHandler(cfg *config.Config, deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Register routes
	registerRoutes(mux, cfg, deps)

	// Wrap with middleware
	return chainMiddleware(mux,
		requestIDMiddleware,
		corsMiddleware(cfg),
		loggingMiddleware(deps.Logger),
		recoverMiddleware(deps.Logger),
	)
}

func registerRoutes(mux *http.ServeMux, cfg *config.Config, deps *Dependencies) {
	// Health check - essential for docker, k8s, load balancers
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Ready check - verifies pub/sub connectivity
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.PubSub != nil {
			if err := deps.PubSub.Ping(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"not ready","error":"pubsub unavailable"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	if cfg.MetricsEnabled && deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	// =========================================================================
	// Token routes (development only)
	// =========================================================================
	if cfg.IsDevelopment() && deps.TokenHandler != nil {
		mux.HandleFunc("POST /tokens", deps.TokenHandler.Issue)
	}

	// =========================================================================
	// Call routes (require call token)
	// =========================================================================
	authMiddleware := auth.Middleware(deps.Tokens)
	protect := func(h http.Handler) http.Handler {
		if deps.Limiter != nil {
			h = deps.Limiter.Middleware(h)
		}
		return authMiddleware(h)
	}
	agentOnly := auth.RequireScope(auth.ScopeAgent)

	mux.Handle("GET /calls/{id}", protect(http.HandlerFunc(deps.CallHandler.GetCall)))
	mux.Handle("POST /calls/{id}/messages", protect(agentOnly(http.HandlerFunc(deps.CallHandler.PostMessage))))
	mux.Handle("DELETE /calls/{id}", protect(agentOnly(http.HandlerFunc(deps.CallHandler.EndCall))))

	// =========================================================================
	// WebSocket route
	// =========================================================================
	mux.Handle("GET /ws", deps.WSHandler)
}
