package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const (
	EntitlementStatusCompleted = "completed"
	EntitlementStatusRefunded  = "refunded"
)

// Ticket is one admitted unit of a ticket order item. Unique per (order item, sequence).
type Ticket struct {
	bun.BaseModel `bun:"table:tickets,alias:t"`

	ID            string          `bun:"id,pk" json:"id"`
	OrderID       string          `bun:"order_id,notnull" json:"orderId"`
	OrderItemID   string          `bun:"order_item_id,notnull,unique:tickets_item_sequence" json:"orderItemId"`
	Sequence      int             `bun:"sequence,notnull,unique:tickets_item_sequence" json:"sequence"`
	UserID        string          `bun:"user_id,notnull" json:"userId"`
	EventID       string          `bun:"event_id,notnull" json:"eventId"`
	TicketTypeID  string          `bun:"ticket_type_id,notnull" json:"ticketTypeId"`
	UnitPrice     decimal.Decimal `bun:"unit_price,type:numeric(12,2),notnull" json:"unitPrice"`
	PaymentStatus string          `bun:"payment_status,notnull" json:"paymentStatus"`
	QRPayload     string          `bun:"qr_payload,notnull" json:"qrPayload"`
	ManualCode    string          `bun:"manual_code,notnull" json:"manualCode"`
	CheckedIn     bool            `bun:"checked_in,notnull" json:"checkedIn"`
	CheckedInAt   *time.Time      `bun:"checked_in_at" json:"checkedInAt,omitempty"`
	IssuedAt      time.Time       `bun:"issued_at,notnull" json:"issuedAt"`
}

// PpvPurchase grants live-stream access for one event. Unique per order item.
type PpvPurchase struct {
	bun.BaseModel `bun:"table:ppv_purchases,alias:pp"`

	ID            string          `bun:"id,pk" json:"id"`
	UserID        string          `bun:"user_id,notnull" json:"userId"`
	EventID       string          `bun:"event_id,notnull" json:"eventId"`
	OrderID       string          `bun:"order_id,notnull" json:"orderId"`
	OrderItemID   string          `bun:"order_item_id,notnull,unique" json:"orderItemId"`
	Price         decimal.Decimal `bun:"price,type:numeric(12,2),notnull" json:"price"`
	PaymentStatus string          `bun:"payment_status,notnull" json:"paymentStatus"`
	CreatedAt     time.Time       `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt     time.Time       `bun:"updated_at,notnull" json:"updatedAt"`
}

// FulfillmentReport compares what an order asked for with what was written.
type FulfillmentReport struct {
	OrderID   string   `json:"orderId"`
	Requested int      `json:"requested"`
	Created   int      `json:"created"`
	Existing  int      `json:"existing"`
	Failures  []string `json:"failures,omitempty"`
}

// Complete is true when every requested entitlement exists, whether created now or earlier.
func (r *FulfillmentReport) Complete() bool {
	return r.Created+r.Existing == r.Requested && len(r.Failures) == 0
}

const (
	ScanStatusValid       = "valid"
	ScanStatusUnpaid      = "unpaid"
	ScanStatusAlreadyUsed = "already_used"
)

type ScanResult struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Ticket  *Ticket `json:"ticket,omitempty"`
}
