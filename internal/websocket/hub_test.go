package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartwinnr/callturn/internal/auth"
	"github.com/smartwinnr/callturn/internal/call"
	"github.com/smartwinnr/callturn/internal/pubsub"
	"github.com/smartwinnr/callturn/internal/turn"
)

type hubFixture struct {
	server   *httptest.Server
	hub      *Hub
	tokens   *auth.TokenService
	sessions *call.Manager
}

func setupHub(t *testing.T) *hubFixture {
	t.Helper()

	logger := testLogger()
	ps := pubsub.NewMemoryPubSub()
	tokens, err := auth.NewTokenService("test-signing-key-with-enough-bytes", time.Hour)
	require.NoError(t, err)

	sessions := call.NewManager(call.Config{
		Turn: turn.Options{Debounce: 30 * time.Millisecond},
	}, ps, nil, logger)

	hub := NewHub(HubDeps{
		Tokens:   tokens,
		Sessions: sessions,
		PubSub:   ps,
		Logger:   logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(NewHandler(hub, nil, logger))

	t.Cleanup(func() {
		server.Close()
		cancel()
		sessions.Close(context.Background())
		_ = ps.Close()
	})

	return &hubFixture{server: server, hub: hub, tokens: tokens, sessions: sessions}
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *hubFixture) token(t *testing.T, callID, participantID string, scope auth.Scope) string {
	t.Helper()
	token, _, err := f.tokens.GenerateCallToken(callID, participantID, "Test", scope)
	require.NoError(t, err)
	return token
}

func send(t *testing.T, conn *websocket.Conn, eventType string, payload interface{}) {
	t.Helper()
	msg, err := NewMessage(eventType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil reads messages until one of the given type arrives and match
// accepts it.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", eventType)
		if msg.Type == eventType && (match == nil || match(msg.Payload)) {
			return msg.Payload
		}
	}
}

func authenticate(t *testing.T, conn *websocket.Conn, token string) AuthSuccessPayload {
	t.Helper()
	send(t, conn, EventTypeAuth, AuthPayload{Token: token})
	raw := readUntil(t, conn, EventTypeAuthSuccess, nil)

	var p AuthSuccessPayload
	require.NoError(t, json.Unmarshal(raw, &p))
	return p
}

// =============================================================================
// Hub Tests
// =============================================================================

func TestHub_RequiresAuth(t *testing.T) {
	f := setupHub(t)
	conn := f.dial(t)

	send(t, conn, EventTypeSpeakingLocal, SpeakingLocalPayload{Speaking: true})

	var p ErrorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, EventTypeError, nil), &p))
	assert.Equal(t, "not_authenticated", p.Code)
}

func TestHub_RejectsBadToken(t *testing.T) {
	f := setupHub(t)
	conn := f.dial(t)

	send(t, conn, EventTypeAuth, AuthPayload{Token: "not-a-token"})

	var p ErrorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, EventTypeError, nil), &p))
	assert.Equal(t, "auth_failed", p.Code)
}

func TestHub_UnknownEvent(t *testing.T) {
	f := setupHub(t)
	conn := f.dial(t)

	send(t, conn, "bogus.event", nil)

	var p ErrorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, EventTypeError, nil), &p))
	assert.Equal(t, "unknown_event", p.Code)
}

func TestHub_AuthSuccess(t *testing.T) {
	f := setupHub(t)
	conn := f.dial(t)

	p := authenticate(t, conn, f.token(t, "call-1", "user", auth.ScopeClient))

	assert.Equal(t, "call-1", p.CallID)
	assert.Equal(t, "user", p.ParticipantID)
	assert.Equal(t, "client", p.Scope)
	assert.Nil(t, p.State)
	assert.Eventually(t, func() bool { return f.hub.ClientCount("call-1") == 1 }, time.Second, 10*time.Millisecond)
}

func TestHub_ServerMessageDrivesTurn(t *testing.T) {
	f := setupHub(t)
	conn := f.dial(t)
	authenticate(t, conn, f.token(t, "call-1", "user", auth.ScopeClient))

	send(t, conn, EventTypeParticipantJoined, ParticipantJoinedPayload{ParticipantID: "user", Role: "local"})
	send(t, conn, EventTypeParticipantJoined, ParticipantJoinedPayload{ParticipantID: "bot", Role: "remote"})
	readUntil(t, conn, call.EventTypeParticipantCount, func(raw json.RawMessage) bool {
		var p call.ParticipantCountPayload
		return json.Unmarshal(raw, &p) == nil && p.Count == 2
	})

	send(t, conn, EventTypeServerMessage, map[string]string{"type": "user-started-speaking"})
	readUntil(t, conn, turn.EventTypeParticipantState, func(raw json.RawMessage) bool {
		var p turn.ParticipantStateChanged
		return json.Unmarshal(raw, &p) == nil && p.ParticipantID == "user" && p.IsSpeaking
	})

	send(t, conn, EventTypeServerMessage, map[string]string{"type": "user-stopped-speaking"})
	raw := readUntil(t, conn, turn.EventTypeTurnChanged, nil)

	var changed turn.TurnChanged
	require.NoError(t, json.Unmarshal(raw, &changed))
	assert.Equal(t, 1, changed.CurrentTurn)
	assert.Equal(t, "ai", string(changed.Owner))

	// The AI turn marks the bot as thinking
	readUntil(t, conn, turn.EventTypeParticipantState, func(raw json.RawMessage) bool {
		var p turn.ParticipantStateChanged
		return json.Unmarshal(raw, &p) == nil && p.ParticipantID == "bot" && p.IsThinking
	})
}

func TestHub_DisconnectLeavesJoinedParticipants(t *testing.T) {
	f := setupHub(t)
	conn := f.dial(t)
	authenticate(t, conn, f.token(t, "call-1", "user", auth.ScopeClient))

	send(t, conn, EventTypeParticipantJoined, ParticipantJoinedPayload{Role: "local"})
	assert.Eventually(t, func() bool {
		s, err := f.sessions.GetSession("call-1")
		return err == nil && s.ParticipantCount() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	// The last participant leaving ends the call
	assert.Eventually(t, func() bool {
		_, err := f.sessions.GetSession("call-1")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_AudioMuted(t *testing.T) {
	f := setupHub(t)
	conn := f.dial(t)
	authenticate(t, conn, f.token(t, "call-1", "user", auth.ScopeClient))

	send(t, conn, EventTypeParticipantJoined, ParticipantJoinedPayload{ParticipantID: "bot", Role: "remote"})
	readUntil(t, conn, call.EventTypeParticipantCount, nil)

	// The token's participant has not joined yet
	send(t, conn, EventTypeAudioMuted, AudioMutedPayload{Muted: true})
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, EventTypeError, nil), &p))
	assert.Equal(t, "unknown_participant", p.Code)

	send(t, conn, EventTypeParticipantJoined, ParticipantJoinedPayload{ParticipantID: "user", Role: "local"})
	readUntil(t, conn, call.EventTypeParticipantCount, func(raw json.RawMessage) bool {
		var c call.ParticipantCountPayload
		return json.Unmarshal(raw, &c) == nil && c.Count == 2
	})

	send(t, conn, EventTypeAudioMuted, "yes")
	require.NoError(t, json.Unmarshal(readUntil(t, conn, EventTypeError, nil), &p))
	assert.Equal(t, "invalid_payload", p.Code)
}
