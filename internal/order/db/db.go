package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-checkout/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- CREATION ----------------

// CreatePendingOrder writes the order, its items and the initial payment
// transaction in one database transaction. initiate runs inside it, so a
// failed gateway handshake or insert leaves no order row behind.
func (d *DB) CreatePendingOrder(ctx context.Context, order *models.Order, items []*models.OrderItem,
	initiate func(ctx context.Context) (*models.PaymentTransaction, error)) error {

	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}

		txn, err := initiate(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(txn).Exec(ctx); err != nil {
			return fmt.Errorf("insert payment transaction: %w", err)
		}
		order.Items = items
		order.Transactions = []*models.PaymentTransaction{txn}
		return nil
	})
}

// ---------------- READS ----------------

// GetOrderByID → order with items and transactions; sql.ErrNoRows when absent
func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	order := new(models.Order)
	err := d.Bun.NewSelect().
		Model(order).
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("oi.created_at ASC", "oi.id ASC")
		}).
		Relation("Transactions", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("pt.created_at ASC")
		}).
		Where("o.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrderIDByGatewayOrderID → resolves the provider's order id back to ours
func (d *DB) GetOrderIDByGatewayOrderID(ctx context.Context, gatewayOrderID string) (string, error) {
	var orderID string
	err := d.Bun.NewSelect().
		Model((*models.PaymentTransaction)(nil)).
		Column("order_id").
		Where("gateway_order_id = ?", gatewayOrderID).
		Limit(1).
		Scan(ctx, &orderID)
	if err != nil {
		return "", err
	}
	return orderID, nil
}

// ListOrdersByUser → newest first
func (d *DB) ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Order, error) {
	var orders []*models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Relation("Items").
		Relation("Transactions").
		Where("o.user_id = ?", userID).
		Order("o.created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ListStaleOrderIDs → pending orders whose expiry passed before the cutoff
func (d *DB) ListStaleOrderIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.Order)(nil)).
		Column("id").
		Where("status = ?", models.OrderStatusPending).
		Where("expires_at < ?", cutoff).
		Order("expires_at ASC").
		Limit(limit).
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ---------------- TRANSITIONS ----------------

// CompletePendingOrder moves a pending order to completed and its pending
// transaction to success. Returns false when the order was no longer pending.
func (d *DB) CompletePendingOrder(ctx context.Context, orderID string, c models.OrderCompletion) (bool, error) {
	applied := false
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Order)(nil)).
			Set("status = ?", models.OrderStatusCompleted).
			Set("payment_method = ?", c.PaymentMethod).
			Set("completed_at = ?", c.At).
			Set("updated_at = ?", c.At).
			Where("id = ?", orderID).
			Where("status = ?", models.OrderStatusPending).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("complete order: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		applied = true

		txn := &models.PaymentTransaction{
			Status:          models.TransactionStatusSuccess,
			TransactionID:   c.TransactionID,
			GatewayResponse: c.GatewayResponse,
			UpdatedAt:       c.At,
		}
		_, err = tx.NewUpdate().
			Model(txn).
			Column("status", "transaction_id", "gateway_response", "updated_at").
			Where("order_id = ?", orderID).
			Where("status = ?", models.TransactionStatusPending).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("settle payment transaction: %w", err)
		}
		return nil
	})
	return applied, err
}

// FailPendingOrder moves a pending order to status (failed or expired) and its
// pending transaction to failed. Returns false when the order was no longer pending.
func (d *DB) FailPendingOrder(ctx context.Context, orderID, status, reason string, at time.Time) (bool, error) {
	applied := false
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Order)(nil)).
			Set("status = ?", status).
			Set("updated_at = ?", at).
			Where("id = ?", orderID).
			Where("status = ?", models.OrderStatusPending).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("fail order: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		applied = true

		_, err = tx.NewUpdate().
			Model((*models.PaymentTransaction)(nil)).
			Set("status = ?", models.TransactionStatusFailed).
			Set("error_message = ?", reason).
			Set("updated_at = ?", at).
			Where("order_id = ?", orderID).
			Where("status = ?", models.TransactionStatusPending).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("fail payment transaction: %w", err)
		}
		return nil
	})
	return applied, err
}

// ClearReconciliation removes the follow-up flag once an operator retry succeeded.
func (d *DB) ClearReconciliation(ctx context.Context, orderID string, at time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("needs_reconciliation = ?", false).
		Set("reconciliation_reason = NULL").
		Set("updated_at = ?", at).
		Where("id = ?", orderID).
		Exec(ctx)
	return err
}

// FlagReconciliation marks an order for operator follow-up without touching its status.
func (d *DB) FlagReconciliation(ctx context.Context, orderID, reason string, at time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("needs_reconciliation = ?", true).
		Set("reconciliation_reason = ?", reason).
		Set("updated_at = ?", at).
		Where("id = ?", orderID).
		Exec(ctx)
	return err
}

// ClaimTransactionForRefund moves a successful transaction to refunding. Only
// one caller wins the claim.
func (d *DB) ClaimTransactionForRefund(ctx context.Context, id string, at time.Time) (bool, error) {
	return d.moveTransaction(ctx, id, models.TransactionStatusSuccess, models.TransactionStatusRefunding, at)
}

// ReleaseRefundClaim hands a claimed transaction back after the gateway refused the refund.
func (d *DB) ReleaseRefundClaim(ctx context.Context, id string, at time.Time) error {
	_, err := d.moveTransaction(ctx, id, models.TransactionStatusRefunding, models.TransactionStatusSuccess, at)
	return err
}

func (d *DB) moveTransaction(ctx context.Context, id, from, to string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.PaymentTransaction)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkTransactionRefunded finishes a claimed refund.
func (d *DB) MarkTransactionRefunded(ctx context.Context, id string, response map[string]interface{}, at time.Time) (bool, error) {
	txn := &models.PaymentTransaction{
		Status:          models.TransactionStatusRefunded,
		GatewayResponse: response,
		UpdatedAt:       at,
	}
	res, err := d.Bun.NewUpdate().
		Model(txn).
		Column("status", "gateway_response", "updated_at").
		Where("id = ?", id).
		Where("status = ?", models.TransactionStatusRefunding).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ---------------- AUDIT ----------------

func (d *DB) RecordWebhookEvent(ctx context.Context, ev *models.WebhookEvent) error {
	_, err := d.Bun.NewInsert().Model(ev).Exec(ctx)
	return err
}

// IsNotFound reports whether a read found no row.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
