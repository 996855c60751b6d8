package stream_api

import (
	"context"
	"encoding/json"
	"net/http"

	"ms-checkout/internal/apperrors"
	"ms-checkout/internal/auth"
	"ms-checkout/internal/models"
	"ms-checkout/internal/streaming"
	"ms-checkout/internal/utils"

	"github.com/go-chi/chi/v5"
)

type StreamService interface {
	Authorize(ctx context.Context, userID, eventID string, client streaming.ClientInfo) (*models.StreamGrant, error)
	Heartbeat(ctx context.Context, userID, sessionID string) error
	Verify(ctx context.Context, token string) (*models.StreamVerification, error)
	Terminate(ctx context.Context, userID, sessionID string) error
	ListActiveSessions(ctx context.Context, userID string) ([]models.StreamSession, error)
}

type Handler struct {
	StreamService StreamService
}

func NewHandler(svc StreamService) *Handler {
	return &Handler{StreamService: svc}
}

// Authorize → POST /streaming/auth {eventId}
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req models.StreamAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, apperrors.Validation("stream_api.Authorize", map[string]string{"body": "invalid JSON"}))
		return
	}

	grant, err := h.StreamService.Authorize(r.Context(), auth.UserID(r.Context()), req.EventID, streaming.ClientInfo{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("stream access granted", grant))
}

// Heartbeat → POST /streaming/heartbeat {sessionId}
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req models.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, apperrors.Validation("stream_api.Heartbeat", map[string]string{"body": "invalid JSON"}))
		return
	}
	if err := h.StreamService.Heartbeat(r.Context(), auth.UserID(r.Context()), req.SessionID); err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("heartbeat recorded", nil))
}

// Verify → GET /streaming/verify?token=
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	v, err := h.StreamService.Verify(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("stream token valid", v))
}

// ListSessions → GET /streaming/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.StreamService.ListActiveSessions(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("active sessions", sessions))
}

// Terminate → DELETE /streaming/sessions/{sessionID}
func (h *Handler) Terminate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.StreamService.Terminate(r.Context(), auth.UserID(r.Context()), sessionID); err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("session terminated", nil))
}
