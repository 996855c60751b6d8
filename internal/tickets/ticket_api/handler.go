package ticket_api

import (
	"context"
	"encoding/json"
	"net/http"

	"ms-checkout/internal/apperrors"
	"ms-checkout/internal/auth"
	"ms-checkout/internal/models"
	"ms-checkout/internal/utils"

	"github.com/go-chi/chi/v5"
)

type TicketService interface {
	ScanTicket(ctx context.Context, qrData string) (*models.ScanResult, error)
	GetTicketForUser(ctx context.Context, ticketID, userID string) (*models.Ticket, error)
	ListUserTickets(ctx context.Context, userID string) ([]models.Ticket, error)
	RenderQR(ctx context.Context, ticketID, userID string) ([]byte, error)
}

type Handler struct {
	TicketService TicketService
}

func NewHandler(svc TicketService) *Handler {
	return &Handler{TicketService: svc}
}

// ScanTicket → POST /tickets/scan {qrData}; manager or admin only
func (h *Handler) ScanTicket(w http.ResponseWriter, r *http.Request) {
	var req models.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, apperrors.Validation("ticket_api.ScanTicket", map[string]string{"body": "invalid JSON"}))
		return
	}

	result, err := h.TicketService.ScanTicket(r.Context(), req.QRData)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(result.Message, result))
}

// ViewTicket → GET /tickets/{ticketID}
func (h *Handler) ViewTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.TicketService.GetTicketForUser(r.Context(), chi.URLParam(r, "ticketID"), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ticket", ticket))
}

// ListMyTickets → GET /tickets
func (h *Handler) ListMyTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.TicketService.ListUserTickets(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("tickets", tickets))
}

// TicketQR → GET /tickets/{ticketID}/qr.png
func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	png, err := h.TicketService.RenderQR(r.Context(), chi.URLParam(r, "ticketID"), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
