package domain

import "errors"

// Domain errors - use these for consistent error handling
var (
	// Call errors
	ErrCallNotFound = errors.New("call not found")
	ErrCallEnded    = errors.New("call has ended")

	// Participant errors
	ErrUnknownParticipant  = errors.New("unknown participant")
	ErrParticipantExists   = errors.New("participant already registered")
	ErrLocalAlreadyPresent = errors.New("call already has a local participant")
	ErrInvalidRole         = errors.New("invalid participant role")

	// Signal errors
	ErrMalformedMessage   = errors.New("malformed server message")
	ErrUnknownMessageType = errors.New("unknown server message type")

	// Token errors
	ErrTokenInvalid = errors.New("invalid token")
	ErrWrongCall    = errors.New("token is not valid for this call")
)
