package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/smartwinnr/callturn/internal/auth"
	"github.com/smartwinnr/callturn/internal/call"
	"github.com/smartwinnr/callturn/internal/domain"
	"github.com/smartwinnr/callturn/internal/metrics"
	"github.com/smartwinnr/callturn/internal/middleware"
	"github.com/smartwinnr/callturn/internal/pubsub"
	"github.com/smartwinnr/callturn/internal/remote"
)

// Hub maintains the set of active clients and routes their events into call sessions
type Hub struct {
	// Clients by call ID
	calls map[string]map[*Client]bool

	// Channel for registering clients
	register chan *Client

	// Channel for unregistering clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex for thread-safe access
	mu sync.RWMutex

	// Dependencies
	tokens   *auth.TokenService
	sessions *call.Manager
	pubsub   pubsub.PubSub
	limiter  *middleware.RateLimiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// HubDeps holds the Hub's collaborators
type HubDeps struct {
	Tokens   *auth.TokenService
	Sessions *call.Manager
	PubSub   pubsub.PubSub
	Limiter  *middleware.RateLimiter // optional
	Metrics  *metrics.Metrics        // optional
	Logger   *slog.Logger
}

// NewHub creates a new Hub
func NewHub(deps HubDeps) *Hub {
	return &Hub{
		calls:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		tokens:     deps.Tokens,
		sessions:   deps.Sessions,
		pubsub:     deps.PubSub,
		limiter:    deps.Limiter,
		metrics:    deps.Metrics,
		logger:     deps.Logger.With("component", "websocket"),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.close()
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.metrics.WebSocketOpened()
	// Client not authenticated yet, just track it
	h.logger.Debug("client connected", "remote_addr", client.conn.RemoteAddr())
}

func (h *Hub) handleUnregister(client *Client) {
	callID := client.CallID()

	h.mu.Lock()
	if clients, ok := h.calls[callID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.calls, callID)
		}
	}
	h.mu.Unlock()

	// Participants this connection registered go with it
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range client.Joined() {
		if err := h.sessions.LeaveCall(ctx, callID, id); err != nil && !errors.Is(err, domain.ErrCallNotFound) {
			h.logger.Debug("leave on disconnect", "call_id", callID, "participant_id", id, "error", err)
		}
	}

	client.close()
	h.metrics.WebSocketClosed()
	h.logger.Debug("client disconnected", "call_id", callID, "participant_id", client.ParticipantID())
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.calls {
		for client := range clients {
			client.close()
		}
	}
	h.calls = make(map[string]map[*Client]bool)
}

// HandleMessage processes incoming WebSocket messages
func (h *Hub) HandleMessage(ctx context.Context, client *Client, msg *Message) {
	h.metrics.WebSocketMessage(msg.Type)

	if h.limiter != nil && client.IsAuthenticated() && !h.limiter.Allow(client.CallID()+"/"+client.ParticipantID()) {
		client.sendError("rate_limited", "Too many events")
		return
	}

	switch msg.Type {
	case EventTypeAuth:
		h.handleAuth(ctx, client, msg.Payload)
	case EventTypeParticipantJoined:
		h.handleParticipantJoined(ctx, client, msg.Payload)
	case EventTypeParticipantLeft:
		h.handleParticipantLeft(ctx, client, msg.Payload)
	case EventTypeSpeakingLocal:
		h.handleSpeakingLocal(client, msg.Payload)
	case EventTypeAudioLevel:
		h.handleAudioLevel(client, msg.Payload)
	case EventTypeAudioMuted:
		h.handleAudioMuted(client, msg.Payload)
	case EventTypeActiveSpeakerChanged:
		h.handleActiveSpeaker(client, msg.Payload)
	case EventTypeServerMessage:
		h.handleServerMessage(ctx, client, msg.Payload)
	case EventTypeCallEnd:
		h.handleCallEnd(ctx, client)
	default:
		client.sendError("unknown_event", "Unknown event type: "+msg.Type)
	}
}

func (h *Hub) handleAuth(ctx context.Context, client *Client, payload json.RawMessage) {
	if client.IsAuthenticated() {
		client.sendError("already_authenticated", "Connection is already authenticated")
		return
	}

	var p AuthPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError("invalid_payload", "Invalid auth payload")
		return
	}

	claims, err := h.tokens.ValidateCallToken(p.Token)
	if err != nil {
		client.sendError("auth_failed", "Invalid or expired token")
		return
	}

	// Forward everything published for the call to this connection
	sub, err := h.pubsub.Subscribe(ctx, pubsub.Topics.Call(claims.CallID), func(ctx context.Context, m *pubsub.Message) {
		_ = client.Send(&Message{Type: m.Type, Payload: m.Payload, Timestamp: time.Now()})
	})
	if err != nil {
		h.logger.Error("failed to subscribe client to call", "call_id", claims.CallID, "error", err)
		client.sendError("subscribe_failed", "Could not subscribe to call events")
		return
	}

	client.SetClaims(claims)
	client.setCallSub(sub)

	h.mu.Lock()
	if h.calls[claims.CallID] == nil {
		h.calls[claims.CallID] = make(map[*Client]bool)
	}
	h.calls[claims.CallID][client] = true
	h.mu.Unlock()

	success := AuthSuccessPayload{
		CallID:        claims.CallID,
		ParticipantID: claims.ParticipantID(),
		Scope:         string(claims.Scope),
	}
	if s, err := h.sessions.GetSession(claims.CallID); err == nil {
		if snap, err := s.Snapshot(); err == nil {
			success.State = &snap
		}
	}
	msg, _ := NewMessage(EventTypeAuthSuccess, success)
	_ = client.Send(msg)

	h.logger.Info("client authenticated", "call_id", claims.CallID, "participant_id", claims.ParticipantID(), "scope", claims.Scope)
}

func (h *Hub) handleParticipantJoined(ctx context.Context, client *Client, payload json.RawMessage) {
	if !h.requireAuth(client) {
		return
	}

	var p ParticipantJoinedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError("invalid_payload", "Invalid participant payload")
		return
	}
	if p.ParticipantID == "" {
		p.ParticipantID = client.ParticipantID()
	}
	if p.Name == "" && p.ParticipantID == client.ParticipantID() {
		p.Name = client.Claims().Name
	}

	if _, err := h.sessions.JoinCall(ctx, client.CallID(), p.ParticipantID, p.Role, p.Name); err != nil {
		h.sendDomainError(client, err)
		return
	}
	client.MarkJoined(p.ParticipantID)
}

func (h *Hub) handleParticipantLeft(ctx context.Context, client *Client, payload json.RawMessage) {
	if !h.requireAuth(client) {
		return
	}

	var p ParticipantLeftPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ParticipantID == "" {
		client.sendError("invalid_payload", "Invalid participant payload")
		return
	}

	if err := h.sessions.LeaveCall(ctx, client.CallID(), p.ParticipantID); err != nil {
		h.sendDomainError(client, err)
		return
	}
	client.MarkLeft(p.ParticipantID)
}

func (h *Hub) handleSpeakingLocal(client *Client, payload json.RawMessage) {
	s := h.session(client)
	if s == nil {
		return
	}

	var p SpeakingLocalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError("invalid_payload", "Invalid speaking payload")
		return
	}
	if err := s.LocalSpeaking(client.ParticipantID(), p.Speaking); err != nil {
		h.sendDomainError(client, err)
	}
}

func (h *Hub) handleAudioLevel(client *Client, payload json.RawMessage) {
	s := h.session(client)
	if s == nil {
		return
	}

	var p AudioLevelPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Level < 0 || p.Level > 1 {
		client.sendError("invalid_payload", "Audio level must be between 0 and 1")
		return
	}
	if err := s.AudioLevel(client.ParticipantID(), p.Level); err != nil {
		h.sendDomainError(client, err)
	}
}

func (h *Hub) handleAudioMuted(client *Client, payload json.RawMessage) {
	s := h.session(client)
	if s == nil {
		return
	}

	var p AudioMutedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError("invalid_payload", "Invalid mute payload")
		return
	}
	if err := s.LocalMuted(client.ParticipantID(), p.Muted); err != nil {
		h.sendDomainError(client, err)
	}
}

func (h *Hub) handleActiveSpeaker(client *Client, payload json.RawMessage) {
	s := h.session(client)
	if s == nil {
		return
	}

	var p ActiveSpeakerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError("invalid_payload", "Invalid active speaker payload")
		return
	}
	s.ActiveSpeakerChanged(p.ParticipantID)
}

// handleServerMessage relays a server pipeline message received by the
// client (e.g. over the call SDK's app-message channel).
func (h *Hub) handleServerMessage(ctx context.Context, client *Client, payload json.RawMessage) {
	if !h.requireAuth(client) {
		return
	}

	m, err := remote.Decode(payload)
	if err != nil {
		reason := metrics.DropMalformed
		if errors.Is(err, domain.ErrUnknownMessageType) {
			reason = metrics.DropUnknownType
		}
		h.metrics.SignalDropped(reason)
		h.logger.Debug("ignoring relayed server message", "call_id", client.CallID(), "error", err)
		return
	}

	if err := remote.Publish(ctx, h.pubsub, client.CallID(), m); err != nil {
		h.logger.Error("failed to publish server message", "call_id", client.CallID(), "error", err)
		client.sendError("publish_failed", "Could not deliver server message")
	}
}

func (h *Hub) handleCallEnd(ctx context.Context, client *Client) {
	if !h.requireAuth(client) {
		return
	}
	if err := h.sessions.EndCall(ctx, client.CallID(), call.EndReasonRequested); err != nil {
		h.sendDomainError(client, err)
	}
}

func (h *Hub) requireAuth(client *Client) bool {
	if !client.IsAuthenticated() {
		client.sendError("not_authenticated", "Must authenticate first")
		return false
	}
	return true
}

func (h *Hub) session(client *Client) *call.Session {
	if !h.requireAuth(client) {
		return nil
	}
	s, err := h.sessions.GetSession(client.CallID())
	if err != nil {
		h.sendDomainError(client, err)
		return nil
	}
	return s
}

func (h *Hub) sendDomainError(client *Client, err error) {
	switch {
	case errors.Is(err, domain.ErrCallNotFound):
		client.sendError("call_not_found", "Call has no active session")
	case errors.Is(err, domain.ErrCallEnded):
		client.sendError("call_ended", "Call has ended")
	case errors.Is(err, domain.ErrUnknownParticipant):
		client.sendError("unknown_participant", "Participant is not in the call")
	case errors.Is(err, domain.ErrParticipantExists):
		client.sendError("participant_exists", "Participant already joined")
	case errors.Is(err, domain.ErrLocalAlreadyPresent):
		client.sendError("local_exists", "Call already has a local participant")
	case errors.Is(err, domain.ErrInvalidRole):
		client.sendError("invalid_role", "Invalid participant role")
	default:
		h.logger.Error("call operation failed", "call_id", client.CallID(), "error", err)
		client.sendError("internal", "Internal error")
	}
}

// ClientCount returns the number of authenticated clients on a call
func (h *Hub) ClientCount(callID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.calls[callID])
}
