package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smartwinnr/callturn/internal/api"
	"github.com/smartwinnr/callturn/internal/auth"
	"github.com/smartwinnr/callturn/internal/call"
	"github.com/smartwinnr/callturn/internal/config"
	"github.com/smartwinnr/callturn/internal/metrics"
	"github.com/smartwinnr/callturn/internal/middleware"
	"github.com/smartwinnr/callturn/internal/pubsub"
	"github.com/smartwinnr/callturn/internal/server"
	"github.com/smartwinnr/callturn/internal/turn"
	"github.com/smartwinnr/callturn/internal/vad"
	"github.com/smartwinnr/callturn/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Structured logging from the start
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Create context for initialization
	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize PubSub (in-memory for single instance, Redis for several)
	var ps pubsub.PubSub
	var pinger server.Pinger
	switch cfg.PubSubType {
	case "redis":
		rps, err := pubsub.NewRedisPubSub(initCtx, cfg.RedisURL)
		if err != nil {
			return err
		}
		ps, pinger = rps, rps
		logger.Info("connected to redis pubsub")
	default:
		ps = pubsub.NewMemoryPubSub()
	}
	defer ps.Close()

	m := metrics.New()

	tokens, err := auth.NewTokenService(cfg.CallTokenSigningKey, cfg.CallTokenTTL)
	if err != nil {
		return err
	}

	vadParams := vad.Params{
		SpeechThreshold:  cfg.VADSpeechThreshold,
		SilenceThreshold: cfg.VADSilenceThreshold,
		StartFrames:      cfg.VADStartFrames,
		StopFrames:       cfg.VADStopFrames,
	}
	if err := vadParams.Validate(); err != nil {
		return err
	}

	sessions := call.NewManager(call.Config{
		Turn: turn.Options{
			Debounce:     cfg.TurnDebounce,
			AIFirst:      cfg.TurnAIFirst,
			Mode:         cfg.TurnInputMode,
			NotifyBuffer: cfg.TurnNotifyBuffer,
		},
		VAD: vadParams,
	}, ps, m, logger)

	httpLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMin)
	wsLimiter := middleware.NewRateLimiter(cfg.WSRateLimitPerMin)

	// Initialize WebSocket hub and handler
	wsHub := websocket.NewHub(websocket.HubDeps{
		Tokens:   tokens,
		Sessions: sessions,
		PubSub:   ps,
		Limiter:  wsLimiter,
		Metrics:  m,
		Logger:   logger,
	})

	// Create server
	srv := server.New(cfg, &server.Dependencies{
		Tokens:       tokens,
		CallHandler:  api.NewCallHandler(sessions, ps, logger),
		TokenHandler: api.NewTokenHandler(tokens, logger),
		WSHandler:    websocket.NewHandler(wsHub, cfg.AllowedOrigins, logger),
		Limiter:      httpLimiter,
		Metrics:      m,
		PubSub:       pinger,
		Logger:       logger,
	})

	// Graceful shutdown setup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				httpLimiter.Cleanup()
				wsLimiter.Cleanup()
			}
		}
	})

	g.Go(func() error {
		logger.Info("starting server", "addr", cfg.ServerAddr, "pubsub", cfg.PubSubType, "input_mode", cfg.TurnInputMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		// Wait for interrupt
		<-gctx.Done()
		logger.Info("shutting down gracefully...")

		// Give active connections 10 seconds to finish
		timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer timeoutCancel()

		sessions.Close(timeoutCtx)
		if err := srv.Shutdown(timeoutCtx); err != nil {
			logger.Error("forced shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}
