package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TicketSelection struct {
	TicketTypeID string `json:"ticketTypeId"`
	Quantity     int    `json:"quantity"`
}

type TicketCheckoutRequest struct {
	EventID      string            `json:"eventId"`
	Tickets      []TicketSelection `json:"tickets"`
	ContactEmail string            `json:"contactEmail,omitempty"`
	ContactPhone string            `json:"contactPhone,omitempty"`
}

type PpvCheckoutRequest struct {
	EventID      string `json:"eventId"`
	ContactEmail string `json:"contactEmail,omitempty"`
	ContactPhone string `json:"contactPhone,omitempty"`
}

type CheckoutResponse struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	TotalAmount string    `json:"totalAmount"`
	Currency    string    `json:"currency"`
	PaymentURL  string    `json:"paymentUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// OrderItemInput is a priced line as the ledger receives it.
type OrderItemInput struct {
	ItemType  string
	ItemID    string
	ItemName  string
	Quantity  int
	UnitPrice decimal.Decimal
}

type CreateOrderInput struct {
	UserID       string
	OrderType    string
	Items        []OrderItemInput
	ContactEmail string
	ContactPhone string
}

type CreatedOrder struct {
	Order  *Order
	Intent *PaymentIntent
}

type RefundRequest struct {
	Amount string `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type ScanRequest struct {
	QRData string `json:"qrData"`
}

type StreamAuthRequest struct {
	EventID string `json:"eventId"`
}

type HeartbeatRequest struct {
	SessionID string `json:"sessionId"`
}
