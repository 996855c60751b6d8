package order_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"ms-checkout/internal/apperrors"
	"ms-checkout/internal/auth"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type OrderService interface {
	CheckoutTickets(ctx context.Context, userID string, req models.TicketCheckoutRequest) (*models.CheckoutResponse, error)
	CheckoutPPV(ctx context.Context, userID string, req models.PpvCheckoutRequest) (*models.CheckoutResponse, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListUserOrders(ctx context.Context, userID string, limit, offset int) ([]*models.Order, error)
	RefundOrder(ctx context.Context, orderID string, amount *decimal.Decimal, reason string) (*models.Order, error)
	RetryFulfillment(ctx context.Context, orderID string) (*models.Order, error)
}

type TicketLister interface {
	ListOrderTickets(ctx context.Context, orderID string) ([]models.Ticket, error)
}

// OrderDetail is the order as its owner sees it, with the tickets it produced.
type OrderDetail struct {
	*models.Order
	Tickets []models.Ticket `json:"tickets,omitempty"`
}

type Handler struct {
	OrderService OrderService
	Tickets      TicketLister
	Logger       *logger.Logger
}

func NewHandler(orderService OrderService, tickets TicketLister, log *logger.Logger) *Handler {
	return &Handler{
		OrderService: orderService,
		Tickets:      tickets,
		Logger:       log,
	}
}

// CheckoutTickets → POST /checkout/ticket
func (h *Handler) CheckoutTickets(w http.ResponseWriter, r *http.Request) {
	var req models.TicketCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, apperrors.Validation("order_api.CheckoutTickets", map[string]string{"body": "invalid JSON"}))
		return
	}

	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("CheckoutTickets: user=%s event=%s", userID, req.EventID))

	resp, err := h.OrderService.CheckoutTickets(r.Context(), userID, req)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("CheckoutTickets: %v", err))
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("order created", resp))
}

// CheckoutPPV → POST /checkout/ppv
func (h *Handler) CheckoutPPV(w http.ResponseWriter, r *http.Request) {
	var req models.PpvCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, apperrors.Validation("order_api.CheckoutPPV", map[string]string{"body": "invalid JSON"}))
		return
	}

	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("CheckoutPPV: user=%s event=%s", userID, req.EventID))

	resp, err := h.OrderService.CheckoutPPV(r.Context(), userID, req)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("CheckoutPPV: %v", err))
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("order created", resp))
}

// GetOrder → GET /orders/{orderID}; owners and admins only
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, err := h.OrderService.GetOrder(r.Context(), orderID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if order.UserID != auth.UserID(r.Context()) && !auth.HasRole(r.Context(), auth.RoleAdmin) {
		utils.WriteError(w, apperrors.NotFound("order_api.GetOrder", "order %s not found", orderID))
		return
	}

	detail := OrderDetail{Order: order}
	if h.Tickets != nil && order.OrderType == models.OrderKindTicket {
		detail.Tickets, err = h.Tickets.ListOrderTickets(r.Context(), order.ID)
		if err != nil {
			utils.WriteError(w, err)
			return
		}
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("order", detail))
}

// ListMyOrders → GET /orders?limit=&offset=
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	orders, err := h.OrderService.ListUserOrders(r.Context(), auth.UserID(r.Context()), limit, offset)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("orders", orders))
}

// RefundOrder → POST /orders/{orderID}/refund {amount?, reason?}; admin only
func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	const op = "order_api.RefundOrder"
	orderID := chi.URLParam(r, "orderID")

	var req models.RefundRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.WriteError(w, apperrors.Validation(op, map[string]string{"body": "invalid JSON"}))
			return
		}
	}

	var amount *decimal.Decimal
	if req.Amount != "" {
		d, err := decimal.NewFromString(req.Amount)
		if err != nil {
			utils.WriteError(w, apperrors.Validation(op, map[string]string{"amount": "must be a decimal number"}))
			return
		}
		amount = &d
	}

	h.Logger.LogSecurity("REFUND_REQUESTED", fmt.Sprintf("admin %s refunds order %s", auth.UserID(r.Context()), orderID))
	order, err := h.OrderService.RefundOrder(r.Context(), orderID, amount, req.Reason)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("order refunded", order))
}

// RetryFulfillment → POST /orders/{orderID}/fulfillment; admin only
func (h *Handler) RetryFulfillment(w http.ResponseWriter, r *http.Request) {
	order, err := h.OrderService.RetryFulfillment(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("order fulfilled", order))
}
