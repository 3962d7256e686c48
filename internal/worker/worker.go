package worker

import (
	"context"

	"go.uber.org/zap"

	"venue-orders/internal/broker"
	"venue-orders/internal/service"
	"venue-orders/internal/util"
)

// PaymentWorker consumes payment collaborator events and drives orders forward
type PaymentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, payments *service.PaymentService) *PaymentWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPaymentCompleted(payments.HandlePaymentCompleted)
	eventHandler.OnPaymentFailed(payments.HandlePaymentFailed)

	return &PaymentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks until ctx is cancelled
func (w *PaymentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentWorker) Stop() error {
	w.logger.Info("Stopping payment worker")
	return w.consumer.Close()
}
