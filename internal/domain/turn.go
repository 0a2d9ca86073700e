package domain

import "time"

// TurnOwner is the side expected to be the primary speaker.
type TurnOwner string

const (
	OwnerUser TurnOwner = "user"
	OwnerAI   TurnOwner = "ai"
)

// TurnAction marks whether a record opens or closes a speaking span.
type TurnAction string

const (
	ActionStarted TurnAction = "started"
	ActionStopped TurnAction = "stopped"
)

// TurnRecord is one entry of the append-only turn history.
type TurnRecord struct {
	Turn        int            `json:"turn"`
	Speaker     TurnOwner      `json:"speaker"`
	SpeakerID   string         `json:"speaker_id"`
	SpeakerName string         `json:"speaker_name,omitempty"`
	Action      TurnAction     `json:"action"`
	Timestamp   time.Time      `json:"timestamp"`
	Duration    *time.Duration `json:"duration,omitempty"` // only on stopped records
}

// TurnState is the per-call turn bookkeeping.
type TurnState struct {
	CurrentTurn int          `json:"current_turn"`
	Owner       TurnOwner    `json:"owner"`
	History     []TurnRecord `json:"history"`
}

// Clone returns a deep copy safe to hand outside the owning goroutine.
func (s *TurnState) Clone() TurnState {
	out := TurnState{
		CurrentTurn: s.CurrentTurn,
		Owner:       s.Owner,
		History:     make([]TurnRecord, len(s.History)),
	}
	copy(out.History, s.History)
	return out
}
