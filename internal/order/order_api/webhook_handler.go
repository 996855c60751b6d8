package order_api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/order"
	"ms-checkout/internal/utils"
)

const maxWebhookBody = 1 << 20

type WebhookProcessor interface {
	ProcessPaymentWebhook(ctx context.Context, body []byte, query url.Values) *order.WebhookResult
}

type WebhookHandler struct {
	Processor WebhookProcessor
	Logger    *logger.Logger
}

func NewWebhookHandler(p WebhookProcessor, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{Processor: p, Logger: log}
}

// PaymentProviderWebhook → POST /webhooks/payment-provider
//
// Always answers 200 so the provider does not retry into a failing handler;
// the outcome is kept in the webhook audit table instead.
func (h *WebhookHandler) PaymentProviderWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.Logger.Error("PAYMENT", fmt.Sprintf("read webhook body: %v", err))
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("received", map[string]string{"outcome": "error"}))
		return
	}

	result := h.Processor.ProcessPaymentWebhook(r.Context(), body, r.URL.Query())
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("received", map[string]string{
		"outcome": result.Outcome,
	}))
}
