package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue-orders/internal/models"
)

func paymentCompleted(eventID, orderID string) *models.PaymentCompletedEvent {
	return &models.PaymentCompletedEvent{
		BaseEvent: models.BaseEvent{EventID: eventID, EventType: models.EventTypePaymentCompleted},
		OrderID:   orderID,
		TxID:      "TXN-1",
	}
}

func TestPaymentService_CompletedConfirmsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ps := NewPaymentService(f.svc, f.store)

	order := f.createOrder(t, models.OrderStatusPendingPayment, 1)
	order.PaymentStatus = models.PaymentStatusPending
	require.NoError(t, f.store.UpdateOrder(ctx, order, order.Version))

	require.NoError(t, ps.HandlePaymentCompleted(ctx, paymentCompleted("evt-1", order.ID)))

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
	assert.Equal(t, models.PaymentStatusCompleted, stored.PaymentStatus)

	beer, err := f.store.GetProduct(ctx, "beer")
	require.NoError(t, err)
	assert.Equal(t, int64(9), beer.Stock)

	processed, err := f.store.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestPaymentService_DuplicateEventIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ps := NewPaymentService(f.svc, f.store)
	order := f.createOrder(t, models.OrderStatusPending, 1)

	require.NoError(t, ps.HandlePaymentCompleted(ctx, paymentCompleted("evt-1", order.ID)))
	first, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)

	require.NoError(t, ps.HandlePaymentCompleted(ctx, paymentCompleted("evt-1", order.ID)))
	second, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Version, second.Version)
}

func TestPaymentService_LateConfirmationIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ps := NewPaymentService(f.svc, f.store)
	order := f.createOrder(t, models.OrderStatusPending, 1)
	f.move(t, order.ID, models.OrderStatusPreparing, "cook", models.RoleKitchen)

	require.NoError(t, ps.HandlePaymentCompleted(ctx, paymentCompleted("evt-2", order.ID)))

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPreparing, stored.Status)
}

func TestPaymentService_UnknownOrderIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	ps := NewPaymentService(f.svc, f.store)
	assert.NoError(t, ps.HandlePaymentCompleted(context.Background(), paymentCompleted("evt-3", "missing")))
}

func TestPaymentService_FailedKeepsOrderOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ps := NewPaymentService(f.svc, f.store)

	order := f.createOrder(t, models.OrderStatusPending, 1)
	order.PaymentStatus = models.PaymentStatusPending
	require.NoError(t, f.store.UpdateOrder(ctx, order, order.Version))

	err := ps.HandlePaymentFailed(ctx, &models.PaymentFailedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-4", EventType: models.EventTypePaymentFailed},
		OrderID:   order.ID,
		Reason:    "card_declined",
	})
	require.NoError(t, err)

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
	assert.Equal(t, models.PaymentStatusFailed, stored.PaymentStatus)

	_, err = f.svc.Transition(ctx, TransitionRequest{
		OrderID:   order.ID,
		Status:    models.OrderStatusPreparing,
		ActorID:   "cook",
		ActorRole: models.RoleKitchen,
	})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}
