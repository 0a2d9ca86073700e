package turn

import "github.com/smartwinnr/callturn/internal/domain"

// Event types for coordinator -> presentation notifications
const (
	EventTypeParticipantState   = "turn.participant_state"
	EventTypeTurnChanged        = "turn.changed"
	EventTypeParticipantRemoved = "turn.participant_removed"
)

// Notification is a state change produced by the coordinator.
type Notification interface {
	EventType() string
}

// ParticipantStateChanged reports a speaking or thinking edge for one participant.
type ParticipantStateChanged struct {
	ParticipantID   string      `json:"participant_id"`
	Role            domain.Role `json:"role"`
	IsSpeaking      bool        `json:"is_speaking"`
	IsThinking      bool        `json:"is_thinking"`
	IsActiveSpeaker bool        `json:"is_active_speaker"`
	Turn            int         `json:"turn"`
}

func (ParticipantStateChanged) EventType() string { return EventTypeParticipantState }

// TurnChanged reports a turn switch.
type TurnChanged struct {
	CurrentTurn int              `json:"current_turn"`
	Owner       domain.TurnOwner `json:"owner"`
}

func (TurnChanged) EventType() string { return EventTypeTurnChanged }

// ParticipantRemoved tells the presentation layer to release whatever it
// rendered for a participant that left. It is not a speaking transition.
type ParticipantRemoved struct {
	ParticipantID string      `json:"participant_id"`
	Role          domain.Role `json:"role"`
	WasSpeaking   bool        `json:"was_speaking"`
	WasThinking   bool        `json:"was_thinking"`
}

func (ParticipantRemoved) EventType() string { return EventTypeParticipantRemoved }

// Notifier receives coordinator notifications, in order, on a single
// goroutine owned by the coordinator. Implementations should not block for long.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }
