package database

import (
	"context"
	"fmt"

	"ms-checkout/internal/models"

	"github.com/uptrace/bun"
)

// Models lists every table owned or read by the checkout service, parents first.
var Models = []interface{}{
	(*models.Event)(nil),
	(*models.TicketType)(nil),
	(*models.Order)(nil),
	(*models.OrderItem)(nil),
	(*models.PaymentTransaction)(nil),
	(*models.WebhookEvent)(nil),
	(*models.Ticket)(nil),
	(*models.PpvPurchase)(nil),
	(*models.StreamSession)(nil),
}

// CreateSchema creates the tables straight from the bun models. Used by tests
// on SQLite and by local runs with DB_AUTO_CREATE_SCHEMA; production goes
// through the SQL migrations.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, m := range Models {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}

	indexes := []struct {
		model   interface{}
		name    string
		columns []string
	}{
		{(*models.OrderItem)(nil), "idx_order_items_order_id", []string{"order_id"}},
		{(*models.PaymentTransaction)(nil), "idx_payment_transactions_order_id", []string{"order_id"}},
		{(*models.PaymentTransaction)(nil), "idx_payment_transactions_gateway_order_id", []string{"gateway_order_id"}},
		{(*models.Order)(nil), "idx_orders_status_expires_at", []string{"status", "expires_at"}},
		{(*models.Ticket)(nil), "idx_tickets_order_id", []string{"order_id"}},
		{(*models.StreamSession)(nil), "idx_stream_sessions_user_event", []string{"user_id", "event_id", "is_active"}},
	}
	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
