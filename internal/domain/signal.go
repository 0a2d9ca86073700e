package domain

// MessageKind is an authoritative speaking signal pushed by the server/AI pipeline.
type MessageKind string

const (
	UserStartedSpeaking MessageKind = "user-started-speaking"
	UserStoppedSpeaking MessageKind = "user-stopped-speaking"
	BotStartedSpeaking  MessageKind = "bot-started-speaking"
	BotStoppedSpeaking  MessageKind = "bot-stopped-speaking"
)

// Valid reports whether k is one of the four known kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case UserStartedSpeaking, UserStoppedSpeaking, BotStartedSpeaking, BotStoppedSpeaking:
		return true
	}
	return false
}

// Role returns the participant role the message refers to.
func (k MessageKind) Role() Role {
	if k == UserStartedSpeaking || k == UserStoppedSpeaking {
		return RoleLocal
	}
	return RoleRemote
}

// Speaking returns true for the *-started-speaking kinds.
func (k MessageKind) Speaking() bool {
	return k == UserStartedSpeaking || k == BotStartedSpeaking
}

// InputMode selects which signal sources drive the local participant.
type InputMode string

const (
	// InputModeMessages trusts server messages only; local heuristic signals are ignored.
	InputModeMessages InputMode = "messages"
	// InputModeHeuristic also accepts on-device speaking signals for the local participant.
	InputModeHeuristic InputMode = "heuristic"
)

// Valid reports whether m is a known mode.
func (m InputMode) Valid() bool {
	return m == InputModeMessages || m == InputModeHeuristic
}
