package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-checkout/internal/apperrors"
	"ms-checkout/internal/models"
)

const maxTicketsPerType = 10

// CheckoutTickets prices a ticket cart from the catalog and opens an order for it.
func (s *OrderService) CheckoutTickets(ctx context.Context, userID string, req models.TicketCheckoutRequest) (*models.CheckoutResponse, error) {
	const op = "order.CheckoutTickets"

	fields := map[string]string{}
	if req.EventID == "" {
		fields["eventId"] = "is required"
	}
	if len(req.Tickets) == 0 {
		fields["tickets"] = "must contain at least one ticket type"
	}
	for i, sel := range req.Tickets {
		if sel.TicketTypeID == "" {
			fields[fmt.Sprintf("tickets[%d].ticketTypeId", i)] = "is required"
		}
		if sel.Quantity < 1 || sel.Quantity > maxTicketsPerType {
			fields[fmt.Sprintf("tickets[%d].quantity", i)] = fmt.Sprintf("must be between 1 and %d", maxTicketsPerType)
		}
	}
	if len(fields) > 0 {
		return nil, apperrors.Validation(op, fields)
	}

	items := make([]models.OrderItemInput, 0, len(req.Tickets))
	for i, sel := range req.Tickets {
		tt, err := s.Catalog.GetTicketType(ctx, sel.TicketTypeID)
		if err != nil {
			return nil, catalogError(op, err, "ticket type %s", sel.TicketTypeID)
		}
		if tt.EventID != req.EventID {
			return nil, apperrors.Validation(op, map[string]string{
				fmt.Sprintf("tickets[%d].ticketTypeId", i): "does not belong to this event",
			})
		}
		items = append(items, models.OrderItemInput{
			ItemType:  models.OrderKindTicket,
			ItemID:    tt.ID,
			ItemName:  tt.Name,
			Quantity:  sel.Quantity,
			UnitPrice: tt.Price,
		})
	}

	created, err := s.CreateOrder(ctx, models.CreateOrderInput{
		UserID:       userID,
		OrderType:    models.OrderKindTicket,
		Items:        items,
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
	})
	if err != nil {
		return nil, err
	}
	return checkoutResponse(created), nil
}

// CheckoutPPV opens an order for live-stream access to one event.
func (s *OrderService) CheckoutPPV(ctx context.Context, userID string, req models.PpvCheckoutRequest) (*models.CheckoutResponse, error) {
	const op = "order.CheckoutPPV"

	if req.EventID == "" {
		return nil, apperrors.Validation(op, map[string]string{"eventId": "is required"})
	}

	event, err := s.Catalog.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, catalogError(op, err, "event %s", req.EventID)
	}
	if !event.LiveStreamEnabled {
		return nil, apperrors.Validation(op, map[string]string{"eventId": "event has no live stream"})
	}
	if !event.StreamPrice.IsPositive() {
		return nil, apperrors.Validation(op, map[string]string{"eventId": "event has no stream price"})
	}

	owned, err := s.Catalog.HasCompletedPpv(ctx, userID, event.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, op, err, "check existing purchase")
	}
	if owned {
		return nil, apperrors.New(apperrors.KindConflict, op, "pay-per-view already purchased for this event")
	}

	created, err := s.CreateOrder(ctx, models.CreateOrderInput{
		UserID:    userID,
		OrderType: models.OrderKindPPV,
		Items: []models.OrderItemInput{{
			ItemType:  models.OrderKindPPV,
			ItemID:    event.ID,
			ItemName:  fmt.Sprintf("%s - Live Stream", event.Name),
			Quantity:  1,
			UnitPrice: event.StreamPrice,
		}},
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
	})
	if err != nil {
		return nil, err
	}
	return checkoutResponse(created), nil
}

func checkoutResponse(c *models.CreatedOrder) *models.CheckoutResponse {
	return &models.CheckoutResponse{
		OrderID:     c.Order.ID,
		OrderNumber: c.Order.OrderNumber,
		TotalAmount: c.Order.TotalAmount.StringFixed(2),
		Currency:    c.Order.Currency,
		PaymentURL:  c.Intent.PaymentURL,
		ExpiresAt:   c.Order.ExpiresAt,
	}
}

func catalogError(op string, err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(op, format+" not found", args...)
	}
	return apperrors.Wrap(apperrors.KindInternal, op, err, "load "+format, args...)
}
