package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ms-checkout/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- ENTITLEMENTS ----------------

// GetEvent → one event; sql.ErrNoRows when absent
func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	event := new(models.Event)
	err := d.Bun.NewSelect().Model(event).Where("e.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return event, nil
}

// GetCompletedPpv → the user's completed purchase for an event; sql.ErrNoRows when none
func (d *DB) GetCompletedPpv(ctx context.Context, userID, eventID string) (*models.PpvPurchase, error) {
	p := new(models.PpvPurchase)
	err := d.Bun.NewSelect().
		Model(p).
		Where("pp.user_id = ?", userID).
		Where("pp.event_id = ?", eventID).
		Where("pp.payment_status = ?", models.EntitlementStatusCompleted).
		Order("pp.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ---------------- SESSIONS ----------------

// CountActiveSessions → active, unexpired sessions of a user for an event
func (d *DB) CountActiveSessions(ctx context.Context, userID, eventID string, now time.Time) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.StreamSession)(nil)).
		Where("user_id = ?", userID).
		Where("event_id = ?", eventID).
		Where("is_active = ?", true).
		Where("expires_at > ?", now).
		Count(ctx)
}

func (d *DB) InsertSession(ctx context.Context, s *models.StreamSession) error {
	_, err := d.Bun.NewInsert().Model(s).Exec(ctx)
	return err
}

func (d *DB) GetSession(ctx context.Context, id string) (*models.StreamSession, error) {
	s := new(models.StreamSession)
	err := d.Bun.NewSelect().Model(s).Where("ss.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// TouchSession records a heartbeat on an active session. Expiry is left alone.
func (d *DB) TouchSession(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.StreamSession)(nil)).
		Set("last_heartbeat = ?", at).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Where("is_active = ?", true).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeactivateSession returns false when the session was already inactive.
func (d *DB) DeactivateSession(ctx context.Context, id string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.StreamSession)(nil)).
		Set("is_active = ?", false).
		Where("id = ?", id).
		Where("is_active = ?", true).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (d *DB) ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]models.StreamSession, error) {
	var sessions []models.StreamSession
	err := d.Bun.NewSelect().
		Model(&sessions).
		Where("ss.user_id = ?", userID).
		Where("ss.is_active = ?", true).
		Where("ss.expires_at > ?", now).
		Order("ss.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
