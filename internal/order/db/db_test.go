package db_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"ms-checkout/internal/database"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order/db"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var now = time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	sqldb, err := sql.Open(sqliteshim.ShimName, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, database.CreateSchema(context.Background(), bunDB))
	t.Cleanup(func() { bunDB.Close() })
	return &db.DB{Bun: bunDB}, bunDB
}

func pendingOrder(userID string, createdAt time.Time) (*models.Order, []*models.OrderItem) {
	id := uuid.NewString()
	order := &models.Order{
		ID:          id,
		UserID:      userID,
		OrderNumber: "ORD-" + id[:8],
		OrderType:   models.OrderKindTicket,
		TotalAmount: decimal.RequireFromString("300.00"),
		Currency:    "EGP",
		Status:      models.OrderStatusPending,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(15 * time.Minute),
		UpdatedAt:   createdAt,
	}
	items := []*models.OrderItem{{
		ID:         uuid.NewString(),
		OrderID:    id,
		ItemType:   models.OrderKindTicket,
		ItemID:     "tt-1",
		ItemName:   "Ringside",
		Quantity:   2,
		UnitPrice:  decimal.RequireFromString("150.00"),
		TotalPrice: decimal.RequireFromString("300.00"),
		CreatedAt:  createdAt,
	}}
	return order, items
}

func initiateWith(gatewayOrderID string) func(ctx context.Context) (*models.PaymentTransaction, error) {
	return func(ctx context.Context) (*models.PaymentTransaction, error) {
		return &models.PaymentTransaction{
			ID:             uuid.NewString(),
			PaymentGateway: "paymob",
			GatewayOrderID: gatewayOrderID,
			Amount:         decimal.RequireFromString("300.00"),
			Currency:       "EGP",
			Status:         models.TransactionStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}, nil
	}
}

func createOrder(t *testing.T, store *db.DB, userID string, createdAt time.Time, gatewayOrderID string) *models.Order {
	t.Helper()
	order, items := pendingOrder(userID, createdAt)
	init := initiateWith(gatewayOrderID)
	err := store.CreatePendingOrder(context.Background(), order, items, func(ctx context.Context) (*models.PaymentTransaction, error) {
		txn, err := init(ctx)
		if err == nil {
			txn.OrderID = order.ID
		}
		return txn, err
	})
	require.NoError(t, err)
	return order
}

func TestCreatePendingOrder_WritesAggregate(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	created := createOrder(t, store, "user-1", now, "555")

	got, err := store.GetOrderByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.True(t, got.TotalAmount.Equal(decimal.RequireFromString("300")))
	require.Len(t, got.Items, 1)
	require.Len(t, got.Transactions, 1)
	assert.Equal(t, "555", got.Transactions[0].GatewayOrderID)

	id, err := store.GetOrderIDByGatewayOrderID(ctx, "555")
	require.NoError(t, err)
	assert.Equal(t, created.ID, id)

	_, err = store.GetOrderIDByGatewayOrderID(ctx, "556")
	assert.True(t, db.IsNotFound(err))
}

func TestCreatePendingOrder_RollsBackOnInitiateError(t *testing.T) {
	store, bunDB := setupTestDB(t)
	ctx := context.Background()
	order, items := pendingOrder("user-1", now)

	boom := errors.New("gateway down")
	err := store.CreatePendingOrder(ctx, order, items, func(context.Context) (*models.PaymentTransaction, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	orders, err := bunDB.NewSelect().Model((*models.Order)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, orders)
	itemCount, err := bunDB.NewSelect().Model((*models.OrderItem)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, itemCount)

	_, err = store.GetOrderByID(ctx, order.ID)
	assert.True(t, db.IsNotFound(err))
}

func TestCompletePendingOrder_OnlyOnce(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	order := createOrder(t, store, "user-1", now, "555")

	completion := models.OrderCompletion{
		TransactionID:   "txn-1",
		PaymentMethod:   "card",
		GatewayResponse: map[string]interface{}{"success": true},
		At:              now.Add(time.Minute),
	}
	applied, err := store.CompletePendingOrder(ctx, order.ID, completion)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.CompletePendingOrder(ctx, order.ID, completion)
	require.NoError(t, err)
	assert.False(t, applied)

	// a completed order cannot fail or expire
	applied, err = store.FailPendingOrder(ctx, order.ID, models.OrderStatusExpired, "late", now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, got.Status)
	assert.Equal(t, "card", got.PaymentMethod)
	assert.Equal(t, models.TransactionStatusSuccess, got.Transactions[0].Status)
	assert.Equal(t, "txn-1", got.Transactions[0].TransactionID)
	assert.Equal(t, true, got.Transactions[0].GatewayResponse["success"])
}

func TestFailPendingOrder_MarksTransaction(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	order := createOrder(t, store, "user-1", now, "555")

	applied, err := store.FailPendingOrder(ctx, order.ID, models.OrderStatusFailed, "Card declined", now)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.CompletePendingOrder(ctx, order.ID, models.OrderCompletion{TransactionID: "txn-late", At: now})
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, got.Status)
	assert.Equal(t, models.TransactionStatusFailed, got.Transactions[0].Status)
	assert.Equal(t, "Card declined", got.Transactions[0].ErrorMessage)
}

func TestListStaleOrderIDs(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	old := createOrder(t, store, "user-1", now, "1")
	older := createOrder(t, store, "user-1", now.Add(-time.Minute), "2")
	createOrder(t, store, "user-1", now.Add(10*time.Minute), "3")
	done := createOrder(t, store, "user-1", now, "4")
	_, err := store.CompletePendingOrder(ctx, done.ID, models.OrderCompletion{TransactionID: "t", At: now})
	require.NoError(t, err)

	ids, err := store.ListStaleOrderIDs(ctx, now.Add(20*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{older.ID, old.ID}, ids)

	ids, err = store.ListStaleOrderIDs(ctx, now.Add(20*time.Minute), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{older.ID}, ids)
}

func TestReconciliationFlag(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	order := createOrder(t, store, "user-1", now, "555")

	require.NoError(t, store.FlagReconciliation(ctx, order.ID, "late payment", now))
	got, err := store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, got.NeedsReconciliation)
	assert.Equal(t, "late payment", got.ReconciliationReason)
	assert.Equal(t, models.OrderStatusPending, got.Status)

	require.NoError(t, store.ClearReconciliation(ctx, order.ID, now))
	got, err = store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, got.NeedsReconciliation)
	assert.Empty(t, got.ReconciliationReason)
}

func TestRefundClaim(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	order := createOrder(t, store, "user-1", now, "555")
	txnID := order.Transactions[0].ID

	// a pending transaction has nothing to refund
	ok, err := store.ClaimTransactionForRefund(ctx, txnID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.CompletePendingOrder(ctx, order.ID, models.OrderCompletion{TransactionID: "txn-1", At: now})
	require.NoError(t, err)

	// unclaimed transactions cannot be marked refunded
	ok, err = store.MarkTransactionRefunded(ctx, txnID, nil, now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ClaimTransactionForRefund(ctx, txnID, now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.ClaimTransactionForRefund(ctx, txnID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.ReleaseRefundClaim(ctx, txnID, now))
	got, err := store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusSuccess, got.Transactions[0].Status)

	ok, err = store.ClaimTransactionForRefund(ctx, txnID, now)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.MarkTransactionRefunded(ctx, txnID, map[string]interface{}{"refund_amount": "300.00"}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusRefunded, got.Transactions[0].Status)
	assert.Equal(t, "300.00", got.Transactions[0].GatewayResponse["refund_amount"])

	// a finished refund is not handed back
	require.NoError(t, store.ReleaseRefundClaim(ctx, txnID, now))
	ok, err = store.ClaimTransactionForRefund(ctx, txnID, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListOrdersByUser(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	a := createOrder(t, store, "user-1", now, "1")
	b := createOrder(t, store, "user-1", now.Add(time.Minute), "2")
	createOrder(t, store, "user-2", now, "3")

	orders, err := store.ListOrdersByUser(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, b.ID, orders[0].ID)
	assert.Equal(t, a.ID, orders[1].ID)
	assert.Len(t, orders[0].Items, 1)
}

func TestRecordWebhookEvent(t *testing.T) {
	store, bunDB := setupTestDB(t)
	ctx := context.Background()

	ev := &models.WebhookEvent{
		ID:          uuid.NewString(),
		Provider:    "paymob",
		Outcome:     models.WebhookOutcomeRejected,
		Payload:     map[string]interface{}{"raw": "garbage"},
		ReceivedAt:  now,
		ProcessedAt: now,
	}
	require.NoError(t, store.RecordWebhookEvent(ctx, ev))

	var got models.WebhookEvent
	require.NoError(t, bunDB.NewSelect().Model(&got).Where("id = ?", ev.ID).Scan(ctx))
	assert.Equal(t, "garbage", got.Payload["raw"])
	assert.False(t, got.SignatureValid)
}
