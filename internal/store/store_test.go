package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue-orders/internal/ledger"
	"venue-orders/internal/lock"
	"venue-orders/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("DATABASE_TEST_URL")
	if url == "" {
		t.Skip("Integration test - requires database (set DATABASE_TEST_URL)")
	}

	store, err := NewStore(url)
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	productID := "p-" + uuid.New().String()
	require.NoError(t, store.UpsertProduct(ctx, &models.Product{ID: productID, Name: "Beer", TrackStock: true, Stock: 10}))

	order := &models.Order{
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		Subtotal:      decimal.NewFromInt(40),
		Items: []models.OrderItem{
			{ProductID: productID, ProductName: "Beer", UnitPrice: decimal.NewFromInt(20), Quantity: 2, StockTracked: true},
		},
	}
	require.NoError(t, store.CreateOrder(ctx, order))
	assert.NotEmpty(t, order.ID)
	assert.NotZero(t, order.Number)
	assert.NotZero(t, order.Items[0].ID)

	retrieved, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Number, retrieved.Number)
	assert.True(t, retrieved.Total.Equal(decimal.NewFromInt(40)))
	require.Len(t, retrieved.Items, 1)
	assert.Equal(t, 2, retrieved.Items[0].Quantity)
}

func TestUpdateOrderVersionCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	order := &models.Order{Status: models.OrderStatusPending}
	require.NoError(t, store.CreateOrder(ctx, order))

	next := order.Clone()
	next.Status = models.OrderStatusConfirmed
	now := time.Now()
	next.ConfirmedAt = &now
	next.Version = 1
	require.NoError(t, store.UpdateOrder(ctx, next, 0))

	stale := order.Clone()
	stale.Status = models.OrderStatusCancelled
	stale.Version = 1
	assert.ErrorIs(t, store.UpdateOrder(ctx, stale, 0), models.ErrVersionConflict)

	_, err := store.GetOrder(ctx, "missing-"+uuid.New().String())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLedgerIdempotency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	customerID := "c-" + uuid.New().String()
	require.NoError(t, store.UpsertCustomer(ctx, &models.Customer{ID: customerID, Name: "Ana"}))

	loyalty := ledger.NewLoyalty(store, lock.NewLocal(), time.Second)
	op := ledger.LoyaltyOp{
		CustomerID: customerID,
		Amount:     decimal.RequireFromString("4.50"),
		Type:       models.LoyaltyEarned,
		Key:        ledger.Key("o1", "delivered"),
		SpendDelta: decimal.NewFromInt(300),
	}

	first, _, err := loyalty.Apply(ctx, op)
	require.NoError(t, err)
	second, balance, err := loyalty.Apply(ctx, op)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, balance.Equal(decimal.RequireFromString("4.50")))

	entries, err := loyalty.List(ctx, customerID, models.Page{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStockGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	productID := "p-" + uuid.New().String()
	require.NoError(t, store.UpsertProduct(ctx, &models.Product{ID: productID, Name: "Wine", TrackStock: true, Stock: 2}))

	stock := ledger.NewStock(store, lock.NewLocal(), time.Second)
	_, err := stock.Apply(ctx, []ledger.StockOp{{ProductID: productID, Delta: -3, Type: models.StockSale}})
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	level, err := stock.Level(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), level)
}

func TestProcessedEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	eventID := uuid.New().String()

	processed, err := store.IsEventProcessed(ctx, eventID)
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, store.MarkEventProcessed(ctx, eventID, models.EventTypePaymentCompleted))
	require.NoError(t, store.MarkEventProcessed(ctx, eventID, models.EventTypePaymentCompleted))

	processed, err = store.IsEventProcessed(ctx, eventID)
	require.NoError(t, err)
	assert.True(t, processed)
}
