package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/smartwinnr/callturn/internal/auth"
	"github.com/smartwinnr/callturn/internal/call"
	"github.com/smartwinnr/callturn/internal/domain"
	"github.com/smartwinnr/callturn/internal/pubsub"
	"github.com/smartwinnr/callturn/internal/remote"
	"github.com/smartwinnr/callturn/internal/turn"
)

const maxMessageBytes = 64 * 1024

// CallHandler handles call-related HTTP endpoints
type CallHandler struct {
	sessions *call.Manager
	pubsub   pubsub.PubSub
	logger   *slog.Logger
}

// NewCallHandler creates a new CallHandler
func NewCallHandler(sessions *call.Manager, ps pubsub.PubSub, logger *slog.Logger) *CallHandler {
	return &CallHandler{
		sessions: sessions,
		pubsub:   ps,
		logger:   logger,
	}
}

// CallStateResponse is the body of GET /calls/{id}
type CallStateResponse struct {
	CallID       string             `json:"call_id"`
	Participants []call.Participant `json:"participants"`
	State        turn.Snapshot      `json:"state"`
}

// GetCall godoc
// @Summary Get live turn state of a call
// @Tags calls
// @Security BearerAuth
// @Produce json
// @Param id path string true "Call ID"
// @Success 200 {object} CallStateResponse
// @Router /calls/{id} [get]
func (h *CallHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	callID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	s, err := h.sessions.GetSession(callID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	snap, err := s.Snapshot()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CallStateResponse{
		CallID:       callID,
		Participants: s.Participants(),
		State:        snap,
	})
}

// PostMessage godoc
// @Summary Deliver a server speaking message to a call
// @Tags calls
// @Security BearerAuth
// @Accept json
// @Param id path string true "Call ID"
// @Success 202
// @Router /calls/{id}/messages [post]
func (h *CallHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	callID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if _, err := h.sessions.GetSession(callID); err != nil {
		h.writeDomainError(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := remote.Decode(body)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if err := remote.Publish(r.Context(), h.pubsub, callID, m); err != nil {
		h.logger.Error("failed to publish server message", "call_id", callID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to deliver message")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// EndCall godoc
// @Summary End a call and release its turn state
// @Tags calls
// @Security BearerAuth
// @Param id path string true "Call ID"
// @Success 204
// @Router /calls/{id} [delete]
func (h *CallHandler) EndCall(w http.ResponseWriter, r *http.Request) {
	callID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if err := h.sessions.EndCall(r.Context(), callID, call.EndReasonRequested); err != nil {
		h.writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// authorize checks that the caller's token is bound to the call in the path
func (h *CallHandler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return "", false
	}

	callID := r.PathValue("id")
	if err := claims.Authorize(callID); err != nil {
		writeError(w, http.StatusForbidden, "Token is not valid for this call")
		return "", false
	}
	return callID, true
}

func (h *CallHandler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrCallNotFound), errors.Is(err, domain.ErrCallEnded):
		writeError(w, http.StatusNotFound, "Call not found")
	case errors.Is(err, domain.ErrMalformedMessage):
		writeError(w, http.StatusBadRequest, "Malformed message")
	case errors.Is(err, domain.ErrUnknownMessageType):
		writeError(w, http.StatusBadRequest, "Unknown message type")
	default:
		h.logger.Error("call request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}
