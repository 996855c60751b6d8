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

// ---------------- CATALOG ----------------

// GetEvent → one event; sql.ErrNoRows when absent
func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	event := new(models.Event)
	err := d.Bun.NewSelect().Model(event).Where("e.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return event, nil
}

// GetTicketType → one ticket type; sql.ErrNoRows when absent
func (d *DB) GetTicketType(ctx context.Context, id string) (*models.TicketType, error) {
	tt := new(models.TicketType)
	err := d.Bun.NewSelect().Model(tt).Where("tt.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tt, nil
}

// HasCompletedPpv → whether the user already owns live access to the event
func (d *DB) HasCompletedPpv(ctx context.Context, userID, eventID string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.PpvPurchase)(nil)).
		Where("user_id = ?", userID).
		Where("event_id = ?", eventID).
		Where("payment_status = ?", models.EntitlementStatusCompleted).
		Exists(ctx)
}

// ---------------- TICKETS ----------------

// ExistingTicketSequences → sequence numbers already issued for an order item
func (d *DB) ExistingTicketSequences(ctx context.Context, orderItemID string) (map[int]bool, error) {
	var seqs []int
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Column("sequence").
		Where("order_item_id = ?", orderItemID).
		Scan(ctx, &seqs)
	if err != nil {
		return nil, err
	}
	existing := make(map[int]bool, len(seqs))
	for _, s := range seqs {
		existing[s] = true
	}
	return existing, nil
}

// InsertTicket returns false when the (order item, sequence) slot is already taken.
func (d *DB) InsertTicket(ctx context.Context, ticket *models.Ticket) (bool, error) {
	res, err := d.Bun.NewInsert().
		Model(ticket).
		On("CONFLICT (order_item_id, sequence) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	ticket := new(models.Ticket)
	err := d.Bun.NewSelect().Model(ticket).Where("t.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (d *DB) ListTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("t.order_id = ?", orderID).
		Order("t.order_item_id ASC", "t.sequence ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (d *DB) ListTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("t.user_id = ?", userID).
		Order("t.issued_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// ---------------- PPV ----------------

func (d *DB) PpvExistsForItem(ctx context.Context, orderItemID string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.PpvPurchase)(nil)).
		Where("order_item_id = ?", orderItemID).
		Exists(ctx)
}

// InsertPpvPurchase returns false when the order item already has a purchase.
func (d *DB) InsertPpvPurchase(ctx context.Context, p *models.PpvPurchase) (bool, error) {
	res, err := d.Bun.NewInsert().
		Model(p).
		On("CONFLICT (order_item_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (d *DB) ListPpvByOrder(ctx context.Context, orderID string) ([]models.PpvPurchase, error) {
	var purchases []models.PpvPurchase
	err := d.Bun.NewSelect().Model(&purchases).Where("pp.order_id = ?", orderID).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

// ---------------- REVOCATION ----------------

// RevokeOrderEntitlements marks every ticket and purchase of an order refunded.
func (d *DB) RevokeOrderEntitlements(ctx context.Context, orderID string, at time.Time) (int, error) {
	total := 0
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("payment_status = ?", models.EntitlementStatusRefunded).
			Where("order_id = ?", orderID).
			Where("payment_status <> ?", models.EntitlementStatusRefunded).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("revoke tickets: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)

		res, err = tx.NewUpdate().
			Model((*models.PpvPurchase)(nil)).
			Set("payment_status = ?", models.EntitlementStatusRefunded).
			Set("updated_at = ?", at).
			Where("order_id = ?", orderID).
			Where("payment_status <> ?", models.EntitlementStatusRefunded).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("revoke ppv purchases: %w", err)
		}
		n, _ = res.RowsAffected()
		total += int(n)
		return nil
	})
	return total, err
}

func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
