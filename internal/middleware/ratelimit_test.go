package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/smartwinnr/callturn/internal/auth"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(60) // burst of 6

	for i := 0; i < 6; i++ {
		assert.True(t, rl.Allow("a"), "request %d within burst", i)
	}
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys are independent")
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(10) // burst of 5
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(addr string, claims *auth.Claims) int {
		req := httptest.NewRequest(http.MethodGet, "/calls/1", nil)
		req.RemoteAddr = addr
		if claims != nil {
			req = req.WithContext(auth.WithClaims(req.Context(), claims))
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, send("10.0.0.1:1234", nil))
	}
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:5678", nil), "port does not reset the budget")

	claims := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user"}, CallID: "1"}
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1234", claims), "authenticated callers are keyed by subject")
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(60)
	rl.getLimiter("fresh")
	for i := 0; i < 6; i++ {
		rl.Allow("busy")
	}
	assert.Equal(t, 2, rl.Len())

	rl.Cleanup()

	assert.Equal(t, 1, rl.Len(), "only the limiter with a full bucket is dropped")
}
