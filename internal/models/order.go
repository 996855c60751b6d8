package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const (
	OrderKindTicket = "ticket"
	OrderKindPPV    = "ppv"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusFailed    = "failed"
	OrderStatusExpired   = "expired"
)

// Order is the settlement aggregate. Only a pending order may change status.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID                   string          `bun:"id,pk" json:"id"`
	UserID               string          `bun:"user_id,notnull" json:"userId"`
	OrderNumber          string          `bun:"order_number,notnull,unique" json:"orderNumber"`
	OrderType            string          `bun:"order_type,notnull" json:"orderType"`
	TotalAmount          decimal.Decimal `bun:"total_amount,type:numeric(12,2),notnull" json:"totalAmount"`
	Currency             string          `bun:"currency,notnull" json:"currency"`
	Status               string          `bun:"status,notnull" json:"status"`
	PaymentMethod        string          `bun:"payment_method,nullzero" json:"paymentMethod,omitempty"`
	ContactEmail         string          `bun:"contact_email,nullzero" json:"contactEmail,omitempty"`
	ContactPhone         string          `bun:"contact_phone,nullzero" json:"contactPhone,omitempty"`
	NeedsReconciliation  bool            `bun:"needs_reconciliation,notnull" json:"needsReconciliation"`
	ReconciliationReason string          `bun:"reconciliation_reason,nullzero" json:"reconciliationReason,omitempty"`
	CreatedAt            time.Time       `bun:"created_at,notnull" json:"createdAt"`
	ExpiresAt            time.Time       `bun:"expires_at,notnull" json:"expiresAt"`
	CompletedAt          *time.Time      `bun:"completed_at" json:"completedAt,omitempty"`
	UpdatedAt            time.Time       `bun:"updated_at,notnull" json:"updatedAt"`

	Items        []*OrderItem          `bun:"rel:has-many,join:id=order_id" json:"items,omitempty"`
	Transactions []*PaymentTransaction `bun:"rel:has-many,join:id=order_id" json:"transactions,omitempty"`
}

// IsTerminal reports whether the order can no longer transition.
func (o *Order) IsTerminal() bool {
	return o.Status != OrderStatusPending
}

// OrderItem is immutable once written.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items,alias:oi"`

	ID         string          `bun:"id,pk" json:"id"`
	OrderID    string          `bun:"order_id,notnull" json:"orderId"`
	ItemType   string          `bun:"item_type,notnull" json:"itemType"`
	ItemID     string          `bun:"item_id,notnull" json:"itemId"`
	ItemName   string          `bun:"item_name,notnull" json:"itemName"`
	Quantity   int             `bun:"quantity,notnull" json:"quantity"`
	UnitPrice  decimal.Decimal `bun:"unit_price,type:numeric(12,2),notnull" json:"unitPrice"`
	TotalPrice decimal.Decimal `bun:"total_price,type:numeric(12,2),notnull" json:"totalPrice"`
	CreatedAt  time.Time       `bun:"created_at,notnull" json:"createdAt"`
}

// OrderCompletion is what a successful payment writes onto the order and its transaction.
type OrderCompletion struct {
	TransactionID   string
	PaymentMethod   string
	GatewayResponse map[string]interface{}
	At              time.Time
}
