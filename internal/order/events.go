package order

import (
	"context"
	"fmt"
	"time"

	"ms-checkout/internal/models"
)

// OrderEvent is the message published on every order lifecycle change.
type OrderEvent struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	UserID      string    `json:"userId"`
	OrderType   string    `json:"orderType"`
	Status      string    `json:"status"`
	TotalAmount string    `json:"totalAmount"`
	Currency    string    `json:"currency"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// publish is best effort: the database is the source of truth, events only notify.
func (s *OrderService) publish(ctx context.Context, topic, eventType string, order *models.Order, reason string) {
	if s.Events == nil || topic == "" || order == nil {
		return
	}
	ev := OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		OrderType:   order.OrderType,
		Status:      order.Status,
		TotalAmount: order.TotalAmount.StringFixed(2),
		Currency:    order.Currency,
		Reason:      reason,
		OccurredAt:  s.now(),
	}
	if err := s.Events.Publish(ctx, topic, order.ID, ev); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("Kafka publish error (%s) for %s: %v", eventType, order.ID, err))
	}
}
