package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartwinnr/callturn/internal/auth"
	"github.com/smartwinnr/callturn/internal/call"
	"github.com/smartwinnr/callturn/internal/domain"
	"github.com/smartwinnr/callturn/internal/pubsub"
	"github.com/smartwinnr/callturn/internal/turn"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupCallHandler(t *testing.T) (*CallHandler, *call.Manager) {
	t.Helper()

	ps := pubsub.NewMemoryPubSub()
	sessions := call.NewManager(call.Config{
		Turn: turn.Options{Debounce: 30 * time.Millisecond},
	}, ps, nil, testLogger())

	t.Cleanup(func() {
		sessions.Close(context.Background())
		_ = ps.Close()
	})

	return NewCallHandler(sessions, ps, testLogger()), sessions
}

func startCall(t *testing.T, sessions *call.Manager, callID string) *call.Session {
	t.Helper()
	ctx := context.Background()
	_, err := sessions.JoinCall(ctx, callID, "user", domain.RoleLocal, "Ada")
	require.NoError(t, err)
	s, err := sessions.JoinCall(ctx, callID, "bot", domain.RoleRemote, "Coach")
	require.NoError(t, err)
	return s
}

func newCallRequest(method, callID, body string, scope auth.Scope) *http.Request {
	req := httptest.NewRequest(method, "/calls/"+callID, strings.NewReader(body))
	req.SetPathValue("id", callID)
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "agent-1"},
		CallID:           "call-1",
		Scope:            scope,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// =============================================================================
// GetCall Tests
// =============================================================================

func TestGetCall_ReturnsSnapshot(t *testing.T) {
	h, sessions := setupCallHandler(t)
	startCall(t, sessions, "call-1")

	rec := httptest.NewRecorder()
	h.GetCall(rec, newCallRequest(http.MethodGet, "call-1", "", auth.ScopeClient))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp CallStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "call-1", resp.CallID)
	assert.Len(t, resp.Participants, 2)
	assert.Len(t, resp.State.Participants, 2)
	assert.True(t, resp.State.SessionStarted)
	assert.Equal(t, domain.OwnerUser, resp.State.Turn.Owner)
}

func TestGetCall_WrongCall(t *testing.T) {
	h, sessions := setupCallHandler(t)
	startCall(t, sessions, "call-2")

	rec := httptest.NewRecorder()
	h.GetCall(rec, newCallRequest(http.MethodGet, "call-2", "", auth.ScopeClient))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetCall_NotFound(t *testing.T) {
	h, _ := setupCallHandler(t)

	rec := httptest.NewRecorder()
	h.GetCall(rec, newCallRequest(http.MethodGet, "call-1", "", auth.ScopeClient))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCall_Unauthenticated(t *testing.T) {
	h, _ := setupCallHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/calls/call-1", nil)
	req.SetPathValue("id", "call-1")
	rec := httptest.NewRecorder()
	h.GetCall(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// PostMessage Tests
// =============================================================================

func TestPostMessage_DrivesTurn(t *testing.T) {
	h, sessions := setupCallHandler(t)
	s := startCall(t, sessions, "call-1")

	rec := httptest.NewRecorder()
	h.PostMessage(rec, newCallRequest(http.MethodPost, "call-1", `{"type":"bot-started-speaking"}`, auth.ScopeAgent))
	require.Equal(t, http.StatusAccepted, rec.Code)

	assert.Eventually(t, func() bool {
		snap, err := s.Snapshot()
		if err != nil {
			return false
		}
		for _, p := range snap.Participants {
			if p.ID == "bot" {
				return p.IsSpeaking
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestPostMessage_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"type":`},
		{"missing type", `{"payload":{}}`},
		{"unknown type", `{"type":"bot-transcription"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, sessions := setupCallHandler(t)
			startCall(t, sessions, "call-1")

			rec := httptest.NewRecorder()
			h.PostMessage(rec, newCallRequest(http.MethodPost, "call-1", tt.body, auth.ScopeAgent))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPostMessage_NoSession(t *testing.T) {
	h, _ := setupCallHandler(t)

	rec := httptest.NewRecorder()
	h.PostMessage(rec, newCallRequest(http.MethodPost, "call-1", `{"type":"bot-started-speaking"}`, auth.ScopeAgent))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// EndCall Tests
// =============================================================================

func TestEndCall(t *testing.T) {
	h, sessions := setupCallHandler(t)
	startCall(t, sessions, "call-1")

	rec := httptest.NewRecorder()
	h.EndCall(rec, newCallRequest(http.MethodDelete, "call-1", "", auth.ScopeAgent))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err := sessions.GetSession("call-1")
	assert.ErrorIs(t, err, domain.ErrCallNotFound)

	rec = httptest.NewRecorder()
	h.EndCall(rec, newCallRequest(http.MethodDelete, "call-1", "", auth.ScopeAgent))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
