package order

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"ms-checkout/internal/apperrors"
	"ms-checkout/internal/config"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/metrics"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order/db"
	"ms-checkout/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DBLayer interface {
	CreatePendingOrder(ctx context.Context, order *models.Order, items []*models.OrderItem,
		initiate func(ctx context.Context) (*models.PaymentTransaction, error)) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderIDByGatewayOrderID(ctx context.Context, gatewayOrderID string) (string, error)
	ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Order, error)
	ListStaleOrderIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	CompletePendingOrder(ctx context.Context, orderID string, c models.OrderCompletion) (bool, error)
	FailPendingOrder(ctx context.Context, orderID, status, reason string, at time.Time) (bool, error)
	FlagReconciliation(ctx context.Context, orderID, reason string, at time.Time) error
	ClearReconciliation(ctx context.Context, orderID string, at time.Time) error
	ClaimTransactionForRefund(ctx context.Context, id string, at time.Time) (bool, error)
	ReleaseRefundClaim(ctx context.Context, id string, at time.Time) error
	MarkTransactionRefunded(ctx context.Context, id string, response map[string]interface{}, at time.Time) (bool, error)
	RecordWebhookEvent(ctx context.Context, ev *models.WebhookEvent) error
}

type PaymentGateway interface {
	Name() string
	CreatePaymentIntent(ctx context.Context, req models.PaymentIntentRequest) (*models.PaymentIntent, error)
	ParseWebhook(body []byte, query url.Values) (*models.GatewayNotification, error)
	VerifyWebhookSignature(n *models.GatewayNotification) error
	ProcessRefund(ctx context.Context, transactionID string, amount decimal.Decimal) (map[string]interface{}, error)
}

type Fulfiller interface {
	FulfillTicketOrder(ctx context.Context, order *models.Order) (*models.FulfillmentReport, error)
	FulfillPpvOrder(ctx context.Context, order *models.Order) (*models.FulfillmentReport, error)
	RevokeOrderEntitlements(ctx context.Context, orderID string) (int, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// Catalog is the read side of events and ticket types owned by the catalog service.
type Catalog interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetTicketType(ctx context.Context, id string) (*models.TicketType, error)
	HasCompletedPpv(ctx context.Context, userID, eventID string) (bool, error)
}

type Options struct {
	TTL             time.Duration
	Currency        string
	ExpiryBatchSize int
	Topics          config.TopicConfig
}

// OrderService is the order ledger: it owns order, item and payment
// transaction state and drives fulfillment once a payment settles.
type OrderService struct {
	DB        DBLayer
	Catalog   Catalog
	Gateway   PaymentGateway
	Fulfiller Fulfiller
	Events    EventPublisher
	Logger    *logger.Logger

	opts Options
	now  func() time.Time
}

func NewOrderService(d DBLayer, catalog Catalog, gateway PaymentGateway, fulfiller Fulfiller,
	events EventPublisher, opts Options, log *logger.Logger) *OrderService {

	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.Currency == "" {
		opts.Currency = "EGP"
	}
	if opts.ExpiryBatchSize <= 0 {
		opts.ExpiryBatchSize = 100
	}
	return &OrderService{
		DB:        d,
		Catalog:   catalog,
		Gateway:   gateway,
		Fulfiller: fulfiller,
		Events:    events,
		Logger:    log,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Tests only.
func (s *OrderService) WithClock(now func() time.Time) *OrderService {
	s.now = now
	return s
}

// ---------------- CREATION ----------------

// CreateOrder validates and prices the items, then writes the pending order,
// its items and the initial payment transaction as one unit around the
// gateway handshake.
func (s *OrderService) CreateOrder(ctx context.Context, in models.CreateOrderInput) (*models.CreatedOrder, error) {
	const op = "order.CreateOrder"

	total, err := validateOrderInput(in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := &models.Order{
		ID:           uuid.NewString(),
		UserID:       in.UserID,
		OrderNumber:  utils.GenerateOrderNumber(now),
		OrderType:    in.OrderType,
		TotalAmount:  total,
		Currency:     s.opts.Currency,
		Status:       models.OrderStatusPending,
		ContactEmail: in.ContactEmail,
		ContactPhone: in.ContactPhone,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.opts.TTL),
		UpdatedAt:    now,
	}

	items := make([]*models.OrderItem, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, &models.OrderItem{
			ID:         uuid.NewString(),
			OrderID:    order.ID,
			ItemType:   it.ItemType,
			ItemID:     it.ItemID,
			ItemName:   it.ItemName,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))),
			CreatedAt:  now,
		})
	}

	var intent *models.PaymentIntent
	err = s.DB.CreatePendingOrder(ctx, order, items, func(ctx context.Context) (*models.PaymentTransaction, error) {
		var err error
		intent, err = s.Gateway.CreatePaymentIntent(ctx, models.PaymentIntentRequest{
			OrderID:       order.ID,
			Amount:        total,
			Currency:      order.Currency,
			CustomerEmail: in.ContactEmail,
			CustomerPhone: in.ContactPhone,
		})
		if err != nil {
			return nil, err
		}
		return &models.PaymentTransaction{
			ID:             uuid.NewString(),
			OrderID:        order.ID,
			PaymentGateway: s.Gateway.Name(),
			GatewayOrderID: intent.GatewayOrderID,
			PaymentToken:   intent.PaymentToken,
			Amount:         total,
			Currency:       order.Currency,
			Status:         models.TransactionStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}, nil
	})
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindGateway, apperrors.KindValidation:
			s.Logger.Warn("ORDER", fmt.Sprintf("order for user %s not created: %v", in.UserID, err))
			return nil, err
		}
		s.Logger.Error("ORDER", fmt.Sprintf("order for user %s not created: %v", in.UserID, err))
		return nil, apperrors.Wrap(apperrors.KindOrderCreation, op, err, "could not persist order")
	}

	metrics.RecordOrderCreated(order.OrderType)
	s.Logger.LogOrder("CREATED", order.ID, fmt.Sprintf("%s %s %s, %d item(s), expires %s",
		order.OrderNumber, order.TotalAmount.StringFixed(2), order.Currency, len(items), order.ExpiresAt.Format(time.RFC3339)))
	s.publish(ctx, s.opts.Topics.OrderCreated, "order.created", order, "")

	return &models.CreatedOrder{Order: order, Intent: intent}, nil
}

func validateOrderInput(in models.CreateOrderInput) (decimal.Decimal, error) {
	const op = "order.CreateOrder"

	fields := map[string]string{}
	if in.UserID == "" {
		fields["userId"] = "is required"
	}
	if in.OrderType != models.OrderKindTicket && in.OrderType != models.OrderKindPPV {
		fields["orderType"] = "must be ticket or ppv"
	}
	if len(in.Items) == 0 {
		fields["items"] = "must contain at least one item"
	}

	total := decimal.Zero
	for i, it := range in.Items {
		key := fmt.Sprintf("items[%d]", i)
		if it.ItemType != in.OrderType {
			fields[key+".itemType"] = fmt.Sprintf("must match order type %q", in.OrderType)
		}
		if it.ItemID == "" {
			fields[key+".itemId"] = "is required"
		}
		if it.Quantity < 1 {
			fields[key+".quantity"] = "must be at least 1"
		} else if it.ItemType == models.OrderKindPPV && it.Quantity != 1 {
			fields[key+".quantity"] = "must be exactly 1 for pay-per-view"
		}
		if it.UnitPrice.IsNegative() {
			fields[key+".unitPrice"] = "must not be negative"
		}
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if len(fields) == 0 && !total.IsPositive() {
		fields["items"] = "order total must be greater than zero"
	}

	if len(fields) > 0 {
		return decimal.Zero, apperrors.Validation(op, fields)
	}
	return total, nil
}

// ---------------- READS ----------------

func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.DB.GetOrderByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperrors.NotFound("order.GetOrder", "order %s not found", id)
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, "order.GetOrder", err, "load order %s", id)
	}
	return order, nil
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID string, limit, offset int) ([]*models.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	orders, err := s.DB.ListOrdersByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "order.ListUserOrders", err, "list orders")
	}
	return orders, nil
}

// ---------------- TRANSITIONS ----------------

const (
	outcomeCompleted      = models.WebhookOutcomeCompleted
	outcomeDuplicate      = models.WebhookOutcomeDuplicate
	outcomeReconciliation = models.WebhookOutcomeReconciliation
	outcomeFailed         = models.WebhookOutcomeFailed
)

// CompleteOrder settles a pending order and fulfils it. Repeated calls return
// the settled order unchanged. A fulfillment shortfall leaves the order
// completed, flags it for reconciliation and returns a FulfillmentDiscrepancy error.
func (s *OrderService) CompleteOrder(ctx context.Context, orderID, transactionID string, payload map[string]interface{}) (*models.Order, error) {
	order, _, err := s.completeOrder(ctx, orderID, transactionID, payload)
	return order, err
}

func (s *OrderService) completeOrder(ctx context.Context, orderID, transactionID string, payload map[string]interface{}) (*models.Order, string, error) {
	const op = "order.CompleteOrder"

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, "", err
	}
	if order.IsTerminal() {
		return s.settledElsewhere(ctx, order, transactionID)
	}

	method, _ := payload["payment_method"].(string)
	if method == "" {
		method = "card"
	}

	applied, err := s.DB.CompletePendingOrder(ctx, orderID, models.OrderCompletion{
		TransactionID:   transactionID,
		PaymentMethod:   method,
		GatewayResponse: payload,
		At:              s.now(),
	})
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.KindInternal, op, err, "complete order %s", orderID)
	}
	if !applied {
		// lost the race against another delivery or the expiry sweep
		if order, err = s.GetOrder(ctx, orderID); err != nil {
			return nil, "", err
		}
		return s.settledElsewhere(ctx, order, transactionID)
	}

	metrics.RecordOrderTransition(models.OrderStatusCompleted)
	s.Logger.LogOrder("COMPLETED", orderID, fmt.Sprintf("transaction %s via %s", transactionID, method))

	if order, err = s.GetOrder(ctx, orderID); err != nil {
		return nil, "", err
	}

	if err := s.fulfill(ctx, order); err != nil {
		order, _ = s.GetOrder(ctx, orderID)
		return order, outcomeReconciliation, err
	}

	s.publish(ctx, s.opts.Topics.OrderCompleted, "order.completed", order, "")
	return order, outcomeCompleted, nil
}

// settledElsewhere handles a success signal for an order that is no longer pending.
func (s *OrderService) settledElsewhere(ctx context.Context, order *models.Order, transactionID string) (*models.Order, string, error) {
	if order.Status == models.OrderStatusCompleted {
		s.Logger.LogOrder("DUPLICATE", order.ID, fmt.Sprintf("already completed, ignoring transaction %s", transactionID))
		return order, outcomeDuplicate, nil
	}

	// money was captured for an order we already gave up on
	reason := fmt.Sprintf("payment %s succeeded after order became %s", transactionID, order.Status)
	if err := s.DB.FlagReconciliation(ctx, order.ID, reason, s.now()); err != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("flag reconciliation for %s: %v", order.ID, err))
	}
	s.Logger.Error("ORDER", fmt.Sprintf("order %s needs reconciliation: %s", order.ID, reason))
	order.NeedsReconciliation = true
	order.ReconciliationReason = reason
	s.publish(ctx, s.opts.Topics.OrderReconciliation, "order.reconciliation", order, reason)
	return order, outcomeReconciliation, nil
}

func (s *OrderService) fulfill(ctx context.Context, order *models.Order) error {
	const op = "order.fulfill"

	var (
		report *models.FulfillmentReport
		err    error
	)
	switch order.OrderType {
	case models.OrderKindTicket:
		report, err = s.Fulfiller.FulfillTicketOrder(ctx, order)
	case models.OrderKindPPV:
		report, err = s.Fulfiller.FulfillPpvOrder(ctx, order)
	default:
		err = fmt.Errorf("unknown order type %q", order.OrderType)
	}
	if err == nil && report != nil && report.Complete() {
		s.Logger.LogFulfillment("FULFILLED", order.ID, fmt.Sprintf("%d entitlement(s)", report.Requested))
		return nil
	}

	reason := "fulfillment failed"
	if report != nil {
		reason = fmt.Sprintf("fulfilled %d of %d entitlements", report.Created+report.Existing, report.Requested)
	}
	if err != nil {
		reason = fmt.Sprintf("%s: %v", reason, err)
	}
	if flagErr := s.DB.FlagReconciliation(ctx, order.ID, reason, s.now()); flagErr != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("flag reconciliation for %s: %v", order.ID, flagErr))
	}
	metrics.RecordFulfillmentDiscrepancy(order.OrderType)
	s.Logger.Error("FULFILL", fmt.Sprintf("order %s paid but under-fulfilled: %s", order.ID, reason))
	s.publish(ctx, s.opts.Topics.OrderReconciliation, "order.reconciliation", order, reason)

	return apperrors.Wrap(apperrors.KindFulfillmentDiscrepancy, op, err, "order %s: %s", order.ID, reason)
}

// RetryFulfillment re-runs fulfillment for a completed order flagged for
// reconciliation. Entitlements that already exist are not duplicated.
func (s *OrderService) RetryFulfillment(ctx context.Context, orderID string) (*models.Order, error) {
	const op = "order.RetryFulfillment"

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusCompleted {
		return nil, apperrors.New(apperrors.KindConflict, op, fmt.Sprintf("order is %s, not completed", order.Status))
	}
	if err := s.fulfill(ctx, order); err != nil {
		return nil, err
	}
	if err := s.DB.ClearReconciliation(ctx, orderID, s.now()); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, op, err, "clear reconciliation flag")
	}
	return s.GetOrder(ctx, orderID)
}

// FailOrder is a no-op for orders that are already terminal.
func (s *OrderService) FailOrder(ctx context.Context, orderID, reason string) (*models.Order, error) {
	const op = "order.FailOrder"

	if reason == "" {
		reason = "Payment failed"
	}
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsTerminal() {
		s.Logger.LogOrder("DUPLICATE", orderID, fmt.Sprintf("already %s, ignoring failure: %s", order.Status, reason))
		return order, nil
	}

	applied, err := s.DB.FailPendingOrder(ctx, orderID, models.OrderStatusFailed, reason, s.now())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, op, err, "fail order %s", orderID)
	}
	if order, err = s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	if applied {
		metrics.RecordOrderTransition(models.OrderStatusFailed)
		s.Logger.LogOrder("FAILED", orderID, reason)
		s.publish(ctx, s.opts.Topics.OrderFailed, "order.failed", order, reason)
	}
	return order, nil
}

// ExpireStaleOrders moves every pending order past its expiry to expired, in
// batches, and returns how many it changed.
func (s *OrderService) ExpireStaleOrders(ctx context.Context) (int, error) {
	const (
		op     = "order.ExpireStaleOrders"
		reason = "order expired before payment"
	)

	expired := 0
	for {
		ids, err := s.DB.ListStaleOrderIDs(ctx, s.now(), s.opts.ExpiryBatchSize)
		if err != nil {
			return expired, apperrors.Wrap(apperrors.KindInternal, op, err, "list stale orders")
		}

		for _, id := range ids {
			applied, err := s.DB.FailPendingOrder(ctx, id, models.OrderStatusExpired, reason, s.now())
			if err != nil {
				return expired, apperrors.Wrap(apperrors.KindInternal, op, err, "expire order %s", id)
			}
			if !applied {
				continue
			}
			expired++
			metrics.RecordOrderTransition(models.OrderStatusExpired)
			s.Logger.LogOrder("EXPIRED", id, reason)
			if order, err := s.DB.GetOrderByID(ctx, id); err == nil {
				s.publish(ctx, s.opts.Topics.OrderExpired, "order.expired", order, reason)
			}
		}

		if len(ids) < s.opts.ExpiryBatchSize {
			break
		}
	}

	if expired > 0 {
		s.Logger.LogProcess("EXPIRY_SWEEP", fmt.Sprintf("expired %d stale order(s)", expired))
	}
	return expired, nil
}

// RefundOrder refunds the captured payment of a completed order. A full refund
// revokes the order's entitlements; a partial one flags the order so an
// operator decides which entitlements to withdraw.
func (s *OrderService) RefundOrder(ctx context.Context, orderID string, amount *decimal.Decimal, reason string) (*models.Order, error) {
	const op = "order.RefundOrder"

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusCompleted {
		return nil, apperrors.New(apperrors.KindConflict, op, fmt.Sprintf("order is %s, only completed orders can be refunded", order.Status))
	}

	var captured *models.PaymentTransaction
	for _, txn := range order.Transactions {
		if txn.Status == models.TransactionStatusSuccess {
			captured = txn
			break
		}
	}
	if captured == nil {
		return nil, apperrors.New(apperrors.KindConflict, op, "order has no captured payment to refund")
	}

	refund := captured.Amount
	if amount != nil {
		if !amount.IsPositive() || amount.GreaterThan(captured.Amount) {
			return nil, apperrors.Validation(op, map[string]string{
				"amount": fmt.Sprintf("must be greater than 0 and at most %s", captured.Amount.StringFixed(2)),
			})
		}
		refund = *amount
	}

	claimed, err := s.DB.ClaimTransactionForRefund(ctx, captured.ID, s.now())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, op, err, "claim transaction %s", captured.ID)
	}
	if !claimed {
		return nil, apperrors.New(apperrors.KindConflict, op, "a refund for this order is already in progress or done")
	}

	response, err := s.Gateway.ProcessRefund(ctx, captured.TransactionID, refund)
	if err != nil {
		if relErr := s.DB.ReleaseRefundClaim(ctx, captured.ID, s.now()); relErr != nil {
			s.Logger.Error("ORDER", fmt.Sprintf("release refund claim on %s: %v", captured.ID, relErr))
		}
		return nil, err
	}
	if response == nil {
		response = map[string]interface{}{}
	}
	response["refund_amount"] = refund.StringFixed(2)
	if reason != "" {
		response["refund_reason"] = reason
	}

	marked, err := s.DB.MarkTransactionRefunded(ctx, captured.ID, response, s.now())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, op, err, "record refund for %s", orderID)
	}
	if !marked {
		return nil, apperrors.New(apperrors.KindInternal, op, fmt.Sprintf("transaction %s left refunding state before the refund was recorded", captured.ID))
	}
	s.Logger.LogOrder("REFUNDED", orderID, fmt.Sprintf("%s of %s %s", refund.StringFixed(2), captured.Amount.StringFixed(2), order.Currency))

	if refund.Equal(captured.Amount) {
		revoked, err := s.Fulfiller.RevokeOrderEntitlements(ctx, orderID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, op, err, "revoke entitlements for %s", orderID)
		}
		s.Logger.LogFulfillment("REVOKED", orderID, fmt.Sprintf("%d entitlement(s)", revoked))
	} else {
		note := fmt.Sprintf("partial refund of %s; entitlements need manual review", refund.StringFixed(2))
		if err := s.DB.FlagReconciliation(ctx, orderID, note, s.now()); err != nil {
			s.Logger.Error("ORDER", fmt.Sprintf("flag reconciliation for %s: %v", orderID, err))
		}
	}

	return s.GetOrder(ctx, orderID)
}
