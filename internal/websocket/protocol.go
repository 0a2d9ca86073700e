package websocket

import (
	"encoding/json"
	"time"

	"github.com/smartwinnr/callturn/internal/domain"
	"github.com/smartwinnr/callturn/internal/turn"
)

// Event types for client -> server
const (
	EventTypeAuth                 = "auth"
	EventTypeParticipantJoined    = "participant.joined"
	EventTypeParticipantLeft      = "participant.left"
	EventTypeSpeakingLocal        = "speaking.local"
	EventTypeAudioLevel           = "audio.level"
	EventTypeAudioMuted           = "audio.muted"
	EventTypeActiveSpeakerChanged = "active_speaker.changed"
	EventTypeServerMessage        = "server.message"
	EventTypeCallEnd              = "call.end"
)

// Event types for server -> client. Turn and call events published on the
// call topic are forwarded under their own type.
const (
	EventTypeError       = "error"
	EventTypeAuthSuccess = "auth.success"
)

// Message is the base WebSocket message envelope
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// NewMessage creates a message with the current timestamp
func NewMessage(eventType string, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      eventType,
		Payload:   payloadBytes,
		Timestamp: time.Now(),
	}, nil
}

// ============================================================================
// Client -> Server Payloads
// ============================================================================

// AuthPayload for authenticating the WebSocket connection
type AuthPayload struct {
	Token string `json:"token"` // call token
}

// ParticipantJoinedPayload relays a call SDK participant-joined callback
type ParticipantJoinedPayload struct {
	ParticipantID string      `json:"participant_id"`
	Role          domain.Role `json:"role"`
	Name          string      `json:"name,omitempty"`
}

// ParticipantLeftPayload relays a call SDK participant-left callback
type ParticipantLeftPayload struct {
	ParticipantID string `json:"participant_id"`
}

// SpeakingLocalPayload carries a client-side speaking estimate for the
// authenticated participant
type SpeakingLocalPayload struct {
	Speaking bool `json:"speaking"`
}

// AudioLevelPayload carries a sampled local audio level in [0, 1]
type AudioLevelPayload struct {
	Level float64 `json:"level"`
}

// AudioMutedPayload relays the local microphone state
type AudioMutedPayload struct {
	Muted bool `json:"muted"`
}

// ActiveSpeakerPayload relays the call SDK's active-speaker callback
type ActiveSpeakerPayload struct {
	ParticipantID string `json:"participant_id"`
}

// ============================================================================
// Server -> Client Payloads
// ============================================================================

// ErrorPayload for error responses
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthSuccessPayload confirms successful authentication
type AuthSuccessPayload struct {
	CallID        string         `json:"call_id"`
	ParticipantID string         `json:"participant_id"`
	Scope         string         `json:"scope"`
	State         *turn.Snapshot `json:"state,omitempty"`
}
