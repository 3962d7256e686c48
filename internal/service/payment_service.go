package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"venue-orders/internal/models"
	"venue-orders/internal/util"
)

// paymentActorID is credited with confirmations that carry no actor
const paymentActorID = "payment-gateway"

// EventLog remembers which inbound events were already handled
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// PaymentService applies payment collaborator outcomes to orders
type PaymentService struct {
	orders *OrderService
	events EventLog
	logger *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(orders *OrderService, events EventLog) *PaymentService {
	return &PaymentService{
		orders: orders,
		events: events,
		logger: util.GetLogger(),
	}
}

// HandlePaymentCompleted marks the payment completed and confirms the order.
// An order that already moved past confirmation is left as it is.
func (ps *PaymentService) HandlePaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandlePaymentCompleted")
	defer span.End()

	processed, err := ps.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		ps.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	ps.logger.Info("Handling payment completion",
		zap.String("order_id", event.OrderID),
		zap.String("tx_id", event.TxID))

	if _, err := ps.orders.MarkPaymentCompleted(ctx, event.OrderID); err != nil {
		if !isSettled(err) {
			util.SpanError(span, err)
			return err
		}
		ps.logger.Warn("Payment completion ignored",
			zap.String("order_id", event.OrderID),
			zap.Error(err))
		return ps.markProcessed(ctx, event.EventID, event.EventType)
	}

	req := TransitionRequest{
		OrderID:   event.OrderID,
		Status:    models.OrderStatusConfirmed,
		ActorID:   event.ActorID,
		ActorRole: event.ActorRole,
	}
	if req.ActorID == "" {
		req.ActorID = paymentActorID
	}
	if !req.ActorRole.Valid() {
		req.ActorRole = models.RoleSystem
	}

	if _, err := ps.orders.Transition(ctx, req); err != nil {
		if !isSettled(err) {
			util.SpanError(span, err)
			return err
		}
		ps.logger.Info("Order not confirmed after payment",
			zap.String("order_id", event.OrderID),
			zap.Error(err))
	}

	return ps.markProcessed(ctx, event.EventID, event.EventType)
}

// HandlePaymentFailed records the declined payment. The order stays open so the
// customer can pay again or cancel.
func (ps *PaymentService) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandlePaymentFailed")
	defer span.End()

	processed, err := ps.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		ps.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	ps.logger.Warn("Handling payment failure",
		zap.String("order_id", event.OrderID),
		zap.String("reason", event.Reason))

	if _, err := ps.orders.MarkPaymentFailed(ctx, event.OrderID); err != nil && !isSettled(err) {
		util.SpanError(span, err)
		return err
	}

	return ps.markProcessed(ctx, event.EventID, event.EventType)
}

func (ps *PaymentService) markProcessed(ctx context.Context, eventID, eventType string) error {
	if err := ps.events.MarkEventProcessed(ctx, eventID, eventType); err != nil {
		ps.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

// isSettled reports errors that redelivering the event would not change
func isSettled(err error) bool {
	return errors.Is(err, models.ErrInvalidTransition) ||
		errors.Is(err, models.ErrForbidden) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrInsufficientStock)
}
