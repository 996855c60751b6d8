package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusSuccess   = "success"
	TransactionStatusFailed    = "failed"
	TransactionStatusRefunding = "refunding"
	TransactionStatusRefunded  = "refunded"
)

type PaymentTransaction struct {
	bun.BaseModel `bun:"table:payment_transactions,alias:pt"`

	ID              string                 `bun:"id,pk" json:"id"`
	OrderID         string                 `bun:"order_id,notnull" json:"orderId"`
	PaymentGateway  string                 `bun:"payment_gateway,notnull" json:"paymentGateway"`
	GatewayOrderID  string                 `bun:"gateway_order_id,nullzero" json:"gatewayOrderId,omitempty"`
	PaymentToken    string                 `bun:"payment_token,nullzero" json:"-"`
	Amount          decimal.Decimal        `bun:"amount,type:numeric(12,2),notnull" json:"amount"`
	Currency        string                 `bun:"currency,notnull" json:"currency"`
	Status          string                 `bun:"status,notnull" json:"status"`
	TransactionID   string                 `bun:"transaction_id,nullzero" json:"transactionId,omitempty"`
	GatewayResponse map[string]interface{} `bun:"gateway_response,type:jsonb" json:"gatewayResponse,omitempty"`
	ErrorMessage    string                 `bun:"error_message,nullzero" json:"errorMessage,omitempty"`
	CreatedAt       time.Time              `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt       time.Time              `bun:"updated_at,notnull" json:"updatedAt"`
}

// PaymentIntent is the gateway's answer to a checkout: where to send the payer.
type PaymentIntent struct {
	PaymentURL     string
	PaymentToken   string
	GatewayOrderID string
}

const (
	WebhookOutcomeCompleted      = "completed"
	WebhookOutcomeFailed         = "failed"
	WebhookOutcomeDuplicate      = "duplicate"
	WebhookOutcomeRejected       = "rejected"
	WebhookOutcomeUnmatched      = "unmatched"
	WebhookOutcomeReconciliation = "reconciliation"
	WebhookOutcomeError          = "error"
)

// WebhookEvent is the audit row kept for every provider callback, valid or not.
type WebhookEvent struct {
	bun.BaseModel `bun:"table:webhook_events,alias:we"`

	ID                    string                 `bun:"id,pk"`
	Provider              string                 `bun:"provider,notnull"`
	ProviderTransactionID string                 `bun:"provider_transaction_id,nullzero"`
	MerchantOrderID       string                 `bun:"merchant_order_id,nullzero"`
	Success               bool                   `bun:"success,notnull"`
	SignatureValid        bool                   `bun:"signature_valid,notnull"`
	Outcome               string                 `bun:"outcome,notnull"`
	ProcessingError       string                 `bun:"processing_error,nullzero"`
	Payload               map[string]interface{} `bun:"payload,type:jsonb"`
	ReceivedAt            time.Time              `bun:"received_at,notnull"`
	ProcessedAt           time.Time              `bun:"processed_at,notnull"`
}

type PaymentIntentRequest struct {
	OrderID       string
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
	CustomerPhone string
}

// GatewayNotification is a parsed provider callback. SignedFields holds the
// stringified values the provider's signature covers.
type GatewayNotification struct {
	TransactionID   string
	MerchantOrderID string
	GatewayOrderID  string
	Success         bool
	AmountCents     int64
	Currency        string
	PaymentMethod   string
	FailureMessage  string
	Signature       string
	SignedFields    map[string]string
	Raw             map[string]interface{}
}
