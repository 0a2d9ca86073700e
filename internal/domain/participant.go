package domain

import "time"

// Role identifies which side of the call a participant is on.
type Role string

const (
	RoleLocal  Role = "local"
	RoleRemote Role = "remote"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleLocal || r == RoleRemote
}

// Owner returns the turn owner a speaking participant of this role represents.
func (r Role) Owner() TurnOwner {
	if r == RoleLocal {
		return OwnerUser
	}
	return OwnerAI
}

// ParticipantState is the speaking/thinking state of one call participant.
// IsActiveSpeaker always mirrors IsSpeaking; it is kept as its own field
// because clients render it separately.
type ParticipantState struct {
	ID              string    `json:"id"`
	Role            Role      `json:"role"`
	Name            string    `json:"name,omitempty"`
	IsSpeaking      bool      `json:"is_speaking"`
	IsThinking      bool      `json:"is_thinking"`
	IsActiveSpeaker bool      `json:"is_active_speaker"`
	LastSpokenAt    time.Time `json:"last_spoken_at,omitempty"`
	TurnNumber      int       `json:"turn_number"`
	JoinedAt        time.Time `json:"joined_at"`
}

// IsLocal reports whether the participant is the local (user) side.
func (p *ParticipantState) IsLocal() bool {
	return p.Role == RoleLocal
}
