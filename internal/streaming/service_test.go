package streaming_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"ms-checkout/internal/apperrors"
	"ms-checkout/internal/database"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/signer"
	"ms-checkout/internal/streaming"
	streamdb "ms-checkout/internal/streaming/db"
	streamredis "ms-checkout/internal/streaming/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func setupTestDB(t *testing.T) *bun.DB {
	sqldb, err := sql.Open(sqliteshim.ShimName, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, database.CreateSchema(context.Background(), bunDB))
	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

type fixture struct {
	bun     *bun.DB
	service *streaming.StreamService
	signer  *signer.Signer
	clock   *fakeClock
}

func newFixture(t *testing.T, limit int) *fixture {
	bunDB := setupTestDB(t)
	clock := &fakeClock{t: time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)}

	s, err := signer.New("stream-secret", signer.WithClock(clock.Now))
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	svc := streaming.NewStreamService(
		&streamdb.DB{Bun: bunDB},
		streamredis.NewSlotLock(client, time.Second, logger.Nop()),
		s, limit, logger.Nop(),
	).WithClock(clock.Now)

	ctx := context.Background()
	_, err = bunDB.NewInsert().Model(&models.Event{
		ID:                "event-1",
		Name:              "Cairo Fight Night",
		LiveStreamEnabled: true,
		StreamPrice:       decimal.RequireFromString("99.00"),
		StreamURL:         "https://stream.example.com/event-1",
	}).Exec(ctx)
	require.NoError(t, err)

	return &fixture{bun: bunDB, service: svc, signer: s, clock: clock}
}

func (f *fixture) grantPpv(t *testing.T, userID, eventID string) *models.PpvPurchase {
	p := &models.PpvPurchase{
		ID:            uuid.NewString(),
		UserID:        userID,
		EventID:       eventID,
		OrderID:       uuid.NewString(),
		OrderItemID:   uuid.NewString(),
		Price:         decimal.RequireFromString("99.00"),
		PaymentStatus: models.EntitlementStatusCompleted,
		CreatedAt:     f.clock.t,
		UpdatedAt:     f.clock.t,
	}
	_, err := f.bun.NewInsert().Model(p).Exec(context.Background())
	require.NoError(t, err)
	return p
}

func TestAuthorize_WithoutPurchaseIsNoAccess(t *testing.T) {
	f := newFixture(t, 3)

	_, err := f.service.Authorize(context.Background(), "user-1", "event-1", streaming.ClientInfo{})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNoAccess, apperrors.KindOf(err))
}

func TestAuthorize_UnknownEvent(t *testing.T) {
	f := newFixture(t, 3)

	_, err := f.service.Authorize(context.Background(), "user-1", "missing", streaming.ClientInfo{})
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestAuthorize_IssuesVerifiableToken(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	purchase := f.grantPpv(t, "user-1", "event-1")

	grant, err := f.service.Authorize(ctx, "user-1", "event-1", streaming.ClientInfo{IPAddress: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	assert.NotEmpty(t, grant.Token)
	assert.Equal(t, "https://stream.example.com/event-1", grant.StreamURL)
	assert.Equal(t, f.clock.t.Add(12*time.Hour), grant.ExpiresAt)

	session, err := (&streamdb.DB{Bun: f.bun}).GetSession(ctx, grant.SessionID)
	require.NoError(t, err)
	assert.True(t, session.IsActive)
	assert.Equal(t, purchase.ID, session.PpvPurchaseID)
	assert.Equal(t, "10.0.0.1", session.IPAddress)

	v, err := f.service.Verify(ctx, grant.Token)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, grant.SessionID, v.SessionID)
	assert.Equal(t, "user-1", v.UserID)
}

func TestAuthorize_ConcurrencyLimit(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	f.grantPpv(t, "user-1", "event-1")

	var grants []*models.StreamGrant
	for i := 0; i < 2; i++ {
		g, err := f.service.Authorize(ctx, "user-1", "event-1", streaming.ClientInfo{})
		require.NoError(t, err)
		grants = append(grants, g)
	}

	_, err := f.service.Authorize(ctx, "user-1", "event-1", streaming.ClientInfo{})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConcurrencyLimit, apperrors.KindOf(err))

	// existing sessions are untouched by the rejected attempt
	for _, g := range grants {
		v, err := f.service.Verify(ctx, g.Token)
		require.NoError(t, err)
		assert.True(t, v.Valid)
	}

	// ending one frees a slot
	require.NoError(t, f.service.Terminate(ctx, "user-1", grants[0].SessionID))
	_, err = f.service.Authorize(ctx, "user-1", "event-1", streaming.ClientInfo{})
	assert.NoError(t, err)
}

func TestAuthorize_ExpiredSessionsDoNotCount(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.grantPpv(t, "user-1", "event-1")

	_, err := f.service.Authorize(ctx, "user-1", "event-1", streaming.ClientInfo{})
	require.NoError(t, err)

	f.clock.t = f.clock.t.Add(12*time.Hour + time.Second)

	_, err = f.service.Authorize(ctx, "user-1", "event-1", streaming.ClientInfo{})
	assert.NoError(t, err)
}

func TestHeartbeat_DoesNotExtendExpiry(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.grantPpv(t, "user-1", "event-1")

	grant, err := f.service.Authorize(ctx, "user-1", "event-1", streaming.ClientInfo{})
	require.NoError(t, err)

	f.clock.t = f.clock.t.Add(30 * time.Minute)
	require.NoError(t, f.service.Heartbeat(ctx, "user-1", grant.SessionID))

	session, err := (&streamdb.DB{Bun: f.bun}).GetSession(ctx, grant.SessionID)
	require.NoError(t, err)
	assert.True(t, session.LastHeartbeat.Equal(f.clock.t))
	assert.True(t, session.ExpiresAt.Equal(grant.ExpiresAt))
}

func TestHeartbeat_MissingSessionIsNoop(t *testing.T) {
	f := newFixture(t, 3)

	assert.NoError(t, f.service.Heartbeat(context.Background(), "user-1", uuid.NewString()))

	err := f.service.Heartbeat(context.Background(), "user-1", "")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestTerminate_IsIdempotentAndEndsVerification(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.grantPpv(t, "user-1", "event-1")

	grant, err := f.service.Authorize(ctx, "user-1", "event-1", streaming.ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, f.service.Terminate(ctx, "user-1", grant.SessionID))
	require.NoError(t, f.service.Terminate(ctx, "user-1", grant.SessionID))

	_, err = f.service.Verify(ctx, grant.Token)
	assert.Equal(t, apperrors.KindTerminated, apperrors.KindOf(err))

	sessions, err := f.service.ListActiveSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestTerminate_OtherUsersSession(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.grantPpv(t, "user-1", "event-1")

	grant, err := f.service.Authorize(ctx, "user-1", "event-1", streaming.ClientInfo{})
	require.NoError(t, err)

	err = f.service.Terminate(ctx, "user-2", grant.SessionID)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestVerify_RevokedPurchase(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	purchase := f.grantPpv(t, "user-1", "event-1")

	grant, err := f.service.Authorize(ctx, "user-1", "event-1", streaming.ClientInfo{})
	require.NoError(t, err)

	_, err = f.bun.NewUpdate().
		Model((*models.PpvPurchase)(nil)).
		Set("payment_status = ?", models.EntitlementStatusRefunded).
		Where("id = ?", purchase.ID).
		Exec(ctx)
	require.NoError(t, err)

	_, err = f.service.Verify(ctx, grant.Token)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindRevoked, apperrors.KindOf(err))
}

func TestVerify_ExpiredAndForgedTokens(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.grantPpv(t, "user-1", "event-1")

	grant, err := f.service.Authorize(ctx, "user-1", "event-1", streaming.ClientInfo{})
	require.NoError(t, err)

	_, err = f.service.Verify(ctx, grant.Token+"x")
	assert.Equal(t, apperrors.KindSignature, apperrors.KindOf(err))

	f.clock.t = f.clock.t.Add(12*time.Hour + time.Second)
	_, err = f.service.Verify(ctx, grant.Token)
	assert.Equal(t, apperrors.KindExpired, apperrors.KindOf(err))
}

func TestListActiveSessions(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.grantPpv(t, "user-1", "event-1")

	for i := 0; i < 2; i++ {
		_, err := f.service.Authorize(ctx, "user-1", "event-1", streaming.ClientInfo{})
		require.NoError(t, err)
	}

	sessions, err := f.service.ListActiveSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	others, err := f.service.ListActiveSessions(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, others)
}
