package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartwinnr/callturn/internal/api"
	"github.com/smartwinnr/callturn/internal/auth"
	"github.com/smartwinnr/callturn/internal/call"
	"github.com/smartwinnr/callturn/internal/config"
	"github.com/smartwinnr/callturn/internal/metrics"
	"github.com/smartwinnr/callturn/internal/middleware"
	"github.com/smartwinnr/callturn/internal/pubsub"
	"github.com/smartwinnr/callturn/internal/websocket"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() *config.Config {
	return &config.Config{
		ServerAddr:      "127.0.0.1:0",
		Env:             "development",
		MetricsEnabled:  true,
		RateLimitPerMin: 600,
	}
}

func setupServer(t *testing.T, cfg *config.Config, pinger Pinger) (http.Handler, *auth.TokenService) {
	t.Helper()

	logger := testLogger()
	ps := pubsub.NewMemoryPubSub()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	tokens, err := auth.NewTokenService("test-signing-key-with-enough-bytes", 0)
	require.NoError(t, err)

	sessions := call.NewManager(call.Config{}, ps, m, logger)
	hub := websocket.NewHub(websocket.HubDeps{Tokens: tokens, Sessions: sessions, PubSub: ps, Metrics: m, Logger: logger})

	t.Cleanup(func() {
		sessions.Close(context.Background())
		_ = ps.Close()
	})

	return NewHandler(cfg, &Dependencies{
		Tokens:       tokens,
		CallHandler:  api.NewCallHandler(sessions, ps, logger),
		TokenHandler: api.NewTokenHandler(tokens, logger),
		WSHandler:    websocket.NewHandler(hub, cfg.AllowedOrigins, logger),
		Limiter:      middleware.NewRateLimiter(cfg.RateLimitPerMin),
		Metrics:      m,
		PubSub:       pinger,
		Logger:       logger,
	}), tokens
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Health Tests
// =============================================================================

func TestHealthz(t *testing.T) {
	h, _ := setupServer(t, testConfig(), nil)

	rec := do(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	up, _ := setupServer(t, testConfig(), pingerFunc(func(context.Context) error { return nil }))
	assert.Equal(t, http.StatusOK, do(up, httptest.NewRequest(http.MethodGet, "/readyz", nil)).Code)

	down, _ := setupServer(t, testConfig(), pingerFunc(func(context.Context) error { return errors.New("dial tcp: refused") }))
	assert.Equal(t, http.StatusServiceUnavailable, do(down, httptest.NewRequest(http.MethodGet, "/readyz", nil)).Code)
}

func TestMetricsRoute(t *testing.T) {
	h, _ := setupServer(t, testConfig(), nil)
	rec := do(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "callturn_calls_active")

	cfg := testConfig()
	cfg.MetricsEnabled = false
	h, _ = setupServer(t, cfg, nil)
	assert.Equal(t, http.StatusNotFound, do(h, httptest.NewRequest(http.MethodGet, "/metrics", nil)).Code)
}

// =============================================================================
// Route Auth Tests
// =============================================================================

func TestCallRoutes_Auth(t *testing.T) {
	h, tokens := setupServer(t, testConfig(), nil)

	clientToken, _, err := tokens.GenerateCallToken("call-1", "user", "", auth.ScopeClient)
	require.NoError(t, err)
	agentToken, _, err := tokens.GenerateCallToken("call-1", "bot", "", auth.ScopeAgent)
	require.NoError(t, err)

	body := `{"type":"bot-started-speaking"}`

	req := httptest.NewRequest(http.MethodPost, "/calls/call-1/messages", strings.NewReader(body))
	assert.Equal(t, http.StatusUnauthorized, do(h, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/calls/call-1/messages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+clientToken)
	assert.Equal(t, http.StatusForbidden, do(h, req).Code)

	// Agent token passes auth; the call has no session yet
	req = httptest.NewRequest(http.MethodPost, "/calls/call-1/messages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+agentToken)
	assert.Equal(t, http.StatusNotFound, do(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/calls/call-1", nil)
	req.Header.Set("Authorization", "Bearer "+clientToken)
	assert.Equal(t, http.StatusNotFound, do(h, req).Code)
}

func TestTokenRoute_DevelopmentOnly(t *testing.T) {
	body := `{"participant_id":"user"}`

	dev, _ := setupServer(t, testConfig(), nil)
	rec := do(dev, httptest.NewRequest(http.MethodPost, "/tokens", strings.NewReader(body)))
	assert.Equal(t, http.StatusCreated, rec.Code)

	cfg := testConfig()
	cfg.Env = "production"
	prod, _ := setupServer(t, cfg, nil)
	rec = do(prod, httptest.NewRequest(http.MethodPost, "/tokens", strings.NewReader(body)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Middleware Tests
// =============================================================================

func TestRequestID(t *testing.T) {
	h, _ := setupServer(t, testConfig(), nil)

	rec := do(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = do(h, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestCORS(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.AllowedOrigins = []string{"https://app.example"}
	h, _ := setupServer(t, cfg, nil)

	req := httptest.NewRequest(http.MethodOptions, "/calls/call-1", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := do(h, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = do(h, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverMiddleware(t *testing.T) {
	h := recoverMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := do(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
