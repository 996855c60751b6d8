package order

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"ms-checkout/internal/apperrors"
	"ms-checkout/internal/metrics"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order/db"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WebhookResult is what happened to one provider callback. The transport
// acknowledges every callback; Err is for logs and the audit table.
type WebhookResult struct {
	Outcome string
	OrderID string
	Err     error
}

// ProcessPaymentWebhook parses, verifies and applies a provider callback and
// stores an audit row for it whatever the outcome.
func (s *OrderService) ProcessPaymentWebhook(ctx context.Context, body []byte, query url.Values) *WebhookResult {
	received := s.now()
	ev := &models.WebhookEvent{
		ID:         uuid.NewString(),
		Provider:   s.Gateway.Name(),
		ReceivedAt: received,
	}

	result := s.applyWebhook(ctx, body, query, ev)

	ev.Outcome = result.Outcome
	if result.Err != nil {
		ev.ProcessingError = result.Err.Error()
	}
	ev.ProcessedAt = s.now()
	if err := s.DB.RecordWebhookEvent(ctx, ev); err != nil {
		s.Logger.Error("PAYMENT", fmt.Sprintf("store webhook audit row: %v", err))
	}
	metrics.RecordWebhook(ev.Provider, result.Outcome)

	if result.Err != nil {
		s.Logger.Error("PAYMENT", fmt.Sprintf("webhook %s for order %q: %v", result.Outcome, result.OrderID, result.Err))
	} else {
		s.Logger.LogPayment("WEBHOOK", result.OrderID, result.Outcome)
	}
	return result
}

func (s *OrderService) applyWebhook(ctx context.Context, body []byte, query url.Values, ev *models.WebhookEvent) *WebhookResult {
	n, err := s.Gateway.ParseWebhook(body, query)
	if err != nil {
		ev.Payload = map[string]interface{}{"raw": string(body)}
		return &WebhookResult{Outcome: models.WebhookOutcomeRejected, Err: err}
	}

	ev.Payload = n.Raw
	ev.ProviderTransactionID = n.TransactionID
	ev.MerchantOrderID = n.MerchantOrderID
	ev.Success = n.Success

	if err := s.Gateway.VerifyWebhookSignature(n); err != nil {
		s.Logger.LogSecurity("WEBHOOK_SIGNATURE", fmt.Sprintf("rejected callback for transaction %s, order %s: %v",
			n.TransactionID, n.MerchantOrderID, err))
		return &WebhookResult{Outcome: models.WebhookOutcomeRejected, OrderID: n.MerchantOrderID, Err: err}
	}
	ev.SignatureValid = true

	orderID, err := s.resolveOrderID(ctx, n)
	switch {
	case apperrors.IsKind(err, apperrors.KindConflict):
		s.Logger.LogSecurity("WEBHOOK_MISMATCH", fmt.Sprintf("transaction %s: %v", n.TransactionID, err))
		return &WebhookResult{Outcome: models.WebhookOutcomeRejected, OrderID: n.MerchantOrderID, Err: err}
	case apperrors.IsKind(err, apperrors.KindValidation):
		return &WebhookResult{Outcome: models.WebhookOutcomeRejected, OrderID: n.MerchantOrderID, Err: err}
	case err != nil:
		return &WebhookResult{Outcome: models.WebhookOutcomeUnmatched, Err: err}
	}
	ev.MerchantOrderID = orderID

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return &WebhookResult{Outcome: models.WebhookOutcomeUnmatched, OrderID: orderID, Err: err}
	}
	if err := matchPayment(order, n); err != nil {
		s.Logger.LogSecurity("WEBHOOK_MISMATCH", fmt.Sprintf("transaction %s for order %s: %v", n.TransactionID, orderID, err))
		if n.Success {
			// captured, but not what the order asked for
			reason := fmt.Sprintf("payment %s does not match order: %v", n.TransactionID, err)
			if flagErr := s.DB.FlagReconciliation(ctx, orderID, reason, s.now()); flagErr != nil {
				s.Logger.Error("ORDER", fmt.Sprintf("flag reconciliation for %s: %v", orderID, flagErr))
			}
		}
		return &WebhookResult{Outcome: models.WebhookOutcomeRejected, OrderID: orderID, Err: err}
	}

	if n.Success {
		_, outcome, err := s.completeOrder(ctx, orderID, n.TransactionID, completionPayload(n))
		if err != nil && outcome == "" {
			outcome = models.WebhookOutcomeError
		}
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			outcome = models.WebhookOutcomeUnmatched
		}
		return &WebhookResult{Outcome: outcome, OrderID: orderID, Err: err}
	}

	reason := n.FailureMessage
	if reason == "" {
		reason = "Payment failed"
	}
	order, err = s.FailOrder(ctx, orderID, reason)
	switch {
	case apperrors.IsKind(err, apperrors.KindNotFound):
		return &WebhookResult{Outcome: models.WebhookOutcomeUnmatched, OrderID: orderID, Err: err}
	case err != nil:
		return &WebhookResult{Outcome: models.WebhookOutcomeError, OrderID: orderID, Err: err}
	case order.Status != models.OrderStatusFailed:
		return &WebhookResult{Outcome: outcomeDuplicate, OrderID: orderID}
	}
	return &WebhookResult{Outcome: outcomeFailed, OrderID: orderID}
}

// resolveOrderID finds the order through the provider's order id, which the
// signature covers. An echoed merchant_order_id is not signed and must agree.
func (s *OrderService) resolveOrderID(ctx context.Context, n *models.GatewayNotification) (string, error) {
	const op = "order.resolveOrderID"

	if n.GatewayOrderID == "" {
		return "", apperrors.New(apperrors.KindValidation, op, "callback carries no gateway order id")
	}
	orderID, err := s.DB.GetOrderIDByGatewayOrderID(ctx, n.GatewayOrderID)
	if err != nil {
		if db.IsNotFound(err) {
			return "", apperrors.NotFound(op, "no order for gateway order %s", n.GatewayOrderID)
		}
		return "", apperrors.Wrap(apperrors.KindInternal, op, err, "lookup gateway order %s", n.GatewayOrderID)
	}
	if n.MerchantOrderID != "" && n.MerchantOrderID != orderID {
		return "", apperrors.New(apperrors.KindConflict, op,
			fmt.Sprintf("merchant order %s does not own gateway order %s", n.MerchantOrderID, n.GatewayOrderID))
	}
	return orderID, nil
}

// matchPayment checks the callback against the transaction opened for it at checkout.
func matchPayment(order *models.Order, n *models.GatewayNotification) error {
	const op = "order.matchPayment"

	var txn *models.PaymentTransaction
	for _, t := range order.Transactions {
		if t.GatewayOrderID == n.GatewayOrderID {
			txn = t
			break
		}
	}
	switch {
	case txn == nil:
		return apperrors.New(apperrors.KindConflict, op, fmt.Sprintf("no transaction for gateway order %s", n.GatewayOrderID))
	case !decimal.New(n.AmountCents, -2).Equal(txn.Amount):
		return apperrors.New(apperrors.KindConflict, op,
			fmt.Sprintf("paid %s, order total is %s", decimal.New(n.AmountCents, -2).StringFixed(2), txn.Amount.StringFixed(2)))
	case !strings.EqualFold(n.Currency, txn.Currency):
		return apperrors.New(apperrors.KindConflict, op, fmt.Sprintf("paid in %q, order is in %s", n.Currency, txn.Currency))
	}
	return nil
}

func completionPayload(n *models.GatewayNotification) map[string]interface{} {
	payload := make(map[string]interface{}, len(n.Raw)+4)
	for k, v := range n.Raw {
		payload[k] = v
	}
	method := n.PaymentMethod
	if method == "" {
		method = "card"
	}
	payload["payment_method"] = method
	payload["amount"] = decimal.New(n.AmountCents, -2).StringFixed(2)
	payload["currency"] = n.Currency
	payload["transaction_id"] = n.TransactionID
	return payload
}
