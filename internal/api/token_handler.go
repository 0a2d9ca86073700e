package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/smartwinnr/callturn/internal/auth"
)

// TokenHandler issues call tokens. Only mounted in development; production
// tokens come from the application backend sharing the signing key.
type TokenHandler struct {
	tokens *auth.TokenService
	logger *slog.Logger
}

func NewTokenHandler(tokens *auth.TokenService, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		tokens: tokens,
		logger: logger,
	}
}

// IssueTokenRequest is the body of POST /tokens. An empty CallID starts a new call.
type IssueTokenRequest struct {
	CallID        string     `json:"call_id"`
	ParticipantID string     `json:"participant_id"`
	Name          string     `json:"name"`
	Scope         auth.Scope `json:"scope"`
}

// IssueTokenResponse is returned by POST /tokens
type IssueTokenResponse struct {
	CallID    string    `json:"call_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issue godoc
// @Summary Issue a call token (development only)
// @Tags tokens
// @Accept json
// @Produce json
// @Success 201 {object} IssueTokenResponse
// @Router /tokens [post]
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ParticipantID == "" {
		writeError(w, http.StatusBadRequest, "participant_id is required")
		return
	}
	if req.Scope == "" {
		req.Scope = auth.ScopeClient
	}
	if !req.Scope.Valid() {
		writeError(w, http.StatusBadRequest, "scope must be client or agent")
		return
	}
	if req.CallID == "" {
		req.CallID = uuid.NewString()
	}

	token, expiresAt, err := h.tokens.GenerateCallToken(req.CallID, req.ParticipantID, req.Name, req.Scope)
	if err != nil {
		h.logger.Error("failed to issue call token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusCreated, IssueTokenResponse{
		CallID:    req.CallID,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
