package call

// Event types published on a call topic alongside turn notifications
const (
	EventTypeParticipantCount = "call.participant_count"
	EventTypeCallEnded        = "call.ended"
)

// ParticipantCountPayload is published whenever the roster changes.
type ParticipantCountPayload struct {
	CallID        string `json:"call_id"`
	ParticipantID string `json:"participant_id"`
	Action        string `json:"action"` // joined or left
	Count         int    `json:"count"`
}

// CallEndedPayload is published once when a call's session is torn down.
type CallEndedPayload struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason"`
}
