package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"venue-orders/internal/ledger"
	"venue-orders/internal/lock"
	"venue-orders/internal/models"
	"venue-orders/internal/notify"
	"venue-orders/internal/statemachine"
	"venue-orders/internal/util"
)

const maxPersistAttempts = 3

// OrderRepository loads and stores orders. UpdateOrder must fail with
// models.ErrVersionConflict when the stored version differs from expectedVersion.
type OrderRepository interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) error
}

// CustomerReader loads the customer an order belongs to
type CustomerReader interface {
	GetCustomer(ctx context.Context, customerID string) (*models.Customer, error)
}

// StatusPublisher forwards committed status changes to external collaborators
type StatusPublisher interface {
	PublishStatusChanged(ctx context.Context, event *models.StatusChangedEvent) error
}

// Options wires an OrderService
type Options struct {
	Orders          OrderRepository
	Customers       CustomerReader
	Machine         *statemachine.Machine
	Loyalty         *ledger.Loyalty
	Stock           *ledger.Stock
	Locker          lock.Locker
	Router          *notify.Router
	Publisher       StatusPublisher
	LockTimeout     time.Duration
	ExternalTimeout time.Duration
}

// OrderService runs the order transition pipeline
type OrderService struct {
	orders          OrderRepository
	customers       CustomerReader
	machine         *statemachine.Machine
	loyalty         *ledger.Loyalty
	stock           *ledger.Stock
	locker          lock.Locker
	router          *notify.Router
	publisher       StatusPublisher
	lockTimeout     time.Duration
	externalTimeout time.Duration
	now             func() time.Time
	logger          *zap.Logger
	external        sync.WaitGroup
}

// NewOrderService creates a new order service
func NewOrderService(opts Options) *OrderService {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 3 * time.Second
	}
	if opts.ExternalTimeout <= 0 {
		opts.ExternalTimeout = 5 * time.Second
	}
	return &OrderService{
		orders:          opts.Orders,
		customers:       opts.Customers,
		machine:         opts.Machine,
		loyalty:         opts.Loyalty,
		stock:           opts.Stock,
		locker:          opts.Locker,
		router:          opts.Router,
		publisher:       opts.Publisher,
		lockTimeout:     opts.LockTimeout,
		externalTimeout: opts.ExternalTimeout,
		now:             time.Now,
		logger:          util.GetLogger(),
	}
}

// TransitionRequest asks to move an order to Status on behalf of an actor
type TransitionRequest struct {
	OrderID   string             `json:"order_id"`
	Status    models.OrderStatus `json:"status" binding:"required"`
	ActorID   string             `json:"actor_id"`
	ActorRole models.Role        `json:"actor_role"`
}

func orderLockKey(orderID string) string {
	return "order:" + orderID
}

// Transition validates and commits one status change. Ledger side effects are
// applied before the order is persisted and the change is routed to live
// audiences before the order lock is released. A rejected request leaves the
// order, both ledgers and every audience untouched.
func (s *OrderService) Transition(ctx context.Context, req TransitionRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Transition",
		attribute.String("order_id", req.OrderID),
		attribute.String("status", string(req.Status)),
		attribute.String("role", string(req.ActorRole)))
	defer span.End()

	start := time.Now()
	defer func() {
		util.TransitionLatency.Observe(time.Since(start).Seconds())
	}()

	release, err := s.locker.Acquire(ctx, orderLockKey(req.OrderID), s.lockTimeout)
	if err != nil {
		s.rejected(req, err)
		util.SpanError(span, err)
		return nil, err
	}

	order, event, err := s.transitionLocked(ctx, req)
	release()
	if err != nil {
		s.rejected(req, err)
		util.SpanError(span, err)
		return nil, err
	}

	util.TransitionsTotal.WithLabelValues(string(event.PreviousStatus), string(event.NewStatus)).Inc()
	s.logger.Info("Order transitioned",
		zap.String("order_id", order.ID),
		zap.String("from", string(event.PreviousStatus)),
		zap.String("to", string(event.NewStatus)),
		zap.String("actor_id", req.ActorID),
		zap.Int64("version", order.Version))

	s.publishExternal(*event)
	return order, nil
}

func (s *OrderService) transitionLocked(ctx context.Context, req TransitionRequest) (*models.Order, *models.StatusChangedEvent, error) {
	for attempt := 1; attempt <= maxPersistAttempts; attempt++ {
		order, event, err := s.attempt(ctx, req)
		if errors.Is(err, models.ErrVersionConflict) {
			s.logger.Warn("Order changed underneath the lock, retrying",
				zap.String("order_id", req.OrderID),
				zap.Int("attempt", attempt))
			continue
		}
		return order, event, err
	}
	return nil, nil, fmt.Errorf("order %s kept changing after %d attempts: %w", req.OrderID, maxPersistAttempts, models.ErrBusy)
}

func (s *OrderService) attempt(ctx context.Context, req TransitionRequest) (*models.Order, *models.StatusChangedEvent, error) {
	current, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, nil, err
	}

	if req.ActorRole == models.RoleCustomer && current.CustomerID != req.ActorID {
		return nil, nil, &statemachine.TransitionError{
			Err:  models.ErrForbidden,
			From: current.Status,
			To:   req.Status,
			Role: req.ActorRole,
			Rule: "customers may only act on their own orders",
		}
	}

	gc := statemachine.GuardContext{PaymentStatus: current.PaymentStatus}
	if err := s.machine.Validate(current.Status, req.Status, req.ActorRole, gc); err != nil {
		return nil, nil, err
	}

	customer, err := s.customerFor(ctx, current, req.Status)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	stamp := s.machine.TimestampsFor(current, req.Status, req.ActorID, now)
	fx := s.machine.SideEffectsFor(current, req.Status, customer)

	if err := s.applyLedgers(ctx, current, req.ActorID, fx); err != nil {
		return nil, nil, err
	}

	next := current.Clone()
	stamp.ApplyTo(next)
	next.Status = req.Status
	if next.PaymentStatus != models.PaymentStatusCompleted &&
		s.machine.SettlesPayment(current.Status, req.Status, req.ActorRole) {
		next.PaymentStatus = models.PaymentStatusCompleted
	}
	next.Version = current.Version + 1

	if err := s.orders.UpdateOrder(ctx, next, current.Version); err != nil {
		return nil, nil, fmt.Errorf("failed to persist order %s: %w", next.ID, err)
	}

	event := &models.StatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: now,
		},
		OrderID:        next.ID,
		OrderNumber:    next.Number,
		CustomerID:     next.CustomerID,
		TableID:        next.TableID,
		PreviousStatus: current.Status,
		NewStatus:      next.Status,
		ActorID:        req.ActorID,
		Class:          string(fx.Class),
		HighPriority:   fx.HighPriority,
		External:       fx.External,
		Version:        next.Version,
	}
	if s.router != nil {
		s.router.Publish(*event)
	}

	return next, event, nil
}

// customerFor loads the customer only for transitions whose side effects need it
func (s *OrderService) customerFor(ctx context.Context, order *models.Order, status models.OrderStatus) (*models.Customer, error) {
	if order.CustomerID == "" || s.customers == nil {
		return nil, nil
	}
	if status != models.OrderStatusDelivered && status != models.OrderStatusCancelled {
		return nil, nil
	}

	customer, err := s.customers.GetCustomer(ctx, order.CustomerID)
	if errors.Is(err, models.ErrNotFound) {
		s.logger.Warn("Order customer not found, skipping loyalty effects",
			zap.String("order_id", order.ID),
			zap.String("customer_id", order.CustomerID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}
	return customer, nil
}

// applyLedgers executes the declared ledger ops. Stock goes first so an
// insufficient stock rejection happens before anything else is written.
func (s *OrderService) applyLedgers(ctx context.Context, order *models.Order, actorID string, fx statemachine.SideEffects) error {
	orderID := order.ID

	if len(fx.StockOps) > 0 {
		ops := make([]ledger.StockOp, 0, len(fx.StockOps))
		for _, op := range fx.StockOps {
			ops = append(ops, ledger.StockOp{
				ProductID: op.ProductID,
				Delta:     op.Delta,
				Type:      op.Type,
				OrderID:   &orderID,
				ActorID:   actorID,
				Reason:    fmt.Sprintf("order #%d %s", order.Number, fx.Transition),
				Key:       ledger.LineKey(orderID, fx.Transition, op.Line),
			})
		}
		if _, err := s.stock.Apply(ctx, ops); err != nil {
			return err
		}
	}

	for i, op := range fx.LoyaltyOps {
		key := ledger.Key(orderID, fx.Transition)
		if i > 0 {
			key = ledger.LineKey(orderID, fx.Transition, i)
		}
		_, _, err := s.loyalty.Apply(ctx, ledger.LoyaltyOp{
			CustomerID: order.CustomerID,
			Amount:     op.Amount,
			Type:       op.Type,
			OrderID:    &orderID,
			Reason:     op.Reason,
			Key:        key,
			SpendDelta: op.SpendDelta,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// publishExternal hands the event to the broker off the request path
func (s *OrderService) publishExternal(event models.StatusChangedEvent) {
	if s.publisher == nil {
		return
	}

	s.external.Add(1)
	go func() {
		defer s.external.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.externalTimeout)
		defer cancel()

		if err := s.publisher.PublishStatusChanged(ctx, &event); err != nil {
			util.ExternalPublishFailedTotal.Inc()
			s.logger.Error("Failed to publish status change",
				zap.String("order_id", event.OrderID),
				zap.String("status", string(event.NewStatus)),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every pending external publish has finished
func (s *OrderService) Wait() {
	s.external.Wait()
}

func (s *OrderService) rejected(req TransitionRequest, err error) {
	reason := rejectReason(err)
	util.TransitionsRejectedTotal.WithLabelValues(reason).Inc()

	fields := []zap.Field{
		zap.String("order_id", req.OrderID),
		zap.String("status", string(req.Status)),
		zap.String("actor_id", req.ActorID),
		zap.String("role", string(req.ActorRole)),
		zap.Error(err),
	}
	if reason == "error" {
		s.logger.Error("Transition failed", fields...)
		return
	}
	s.logger.Info("Transition rejected", append(fields, zap.String("reason", reason))...)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, models.ErrForbidden):
		return "forbidden"
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrBusy):
		return "busy"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	}
	return "error"
}

// GetOrder retrieves an order with its items. Customers only see their own orders.
func (s *OrderService) GetOrder(ctx context.Context, orderID, actorID string, role models.Role) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if role == models.RoleCustomer && order.CustomerID != actorID {
		return nil, fmt.Errorf("order %s: %w", orderID, models.ErrForbidden)
	}
	return order, nil
}

// NextStatuses lists the statuses reachable from the order's current status, before role checks
func (s *OrderService) NextStatuses(order *models.Order) []models.OrderStatus {
	return s.machine.Next(order.Status)
}

// MarkPaymentCompleted records a successful payment. It does not change the status.
func (s *OrderService) MarkPaymentCompleted(ctx context.Context, orderID string) (*models.Order, error) {
	return s.setPaymentStatus(ctx, orderID, models.PaymentStatusCompleted)
}

// MarkPaymentFailed records a declined payment unless one already completed
func (s *OrderService) MarkPaymentFailed(ctx context.Context, orderID string) (*models.Order, error) {
	return s.setPaymentStatus(ctx, orderID, models.PaymentStatusFailed)
}

func (s *OrderService) setPaymentStatus(ctx context.Context, orderID, paymentStatus string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.SetPaymentStatus",
		attribute.String("order_id", orderID),
		attribute.String("payment_status", paymentStatus))
	defer span.End()

	release, err := s.locker.Acquire(ctx, orderLockKey(orderID), s.lockTimeout)
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}
	defer release()

	current, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.PaymentStatus == paymentStatus || current.PaymentStatus == models.PaymentStatusCompleted {
		return current, nil
	}
	if current.Status.IsTerminal() {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, current.Status, models.ErrInvalidTransition)
	}

	next := current.Clone()
	next.PaymentStatus = paymentStatus
	next.Version = current.Version + 1
	if err := s.orders.UpdateOrder(ctx, next, current.Version); err != nil {
		util.SpanError(span, err)
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}

	s.logger.Info("Payment status updated",
		zap.String("order_id", orderID),
		zap.String("payment_status", paymentStatus))
	return next, nil
}

// RedeemCashback applies up to requested from the customer's cashback balance
// to an order still awaiting payment. The amount actually redeemed is exactly
// the discount written to the order. Repeating the call returns the first redemption.
func (s *OrderService) RedeemCashback(ctx context.Context, orderID, actorID string, role models.Role, requested decimal.Decimal) (*models.Order, decimal.Decimal, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.RedeemCashback", attribute.String("order_id", orderID))
	defer span.End()

	if !requested.IsPositive() {
		return nil, decimal.Zero, fmt.Errorf("redeem amount must be positive: %w", models.ErrInvalidInput)
	}

	release, err := s.locker.Acquire(ctx, orderLockKey(orderID), s.lockTimeout)
	if err != nil {
		util.SpanError(span, err)
		return nil, decimal.Zero, err
	}
	defer release()

	current, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if current.CustomerID == "" {
		return nil, decimal.Zero, fmt.Errorf("order %s has no customer: %w", orderID, models.ErrInvalidInput)
	}
	if role == models.RoleCustomer && current.CustomerID != actorID {
		return nil, decimal.Zero, fmt.Errorf("order %s: %w", orderID, models.ErrForbidden)
	}
	if current.Status != models.OrderStatusPending && current.Status != models.OrderStatusPendingPayment {
		return nil, decimal.Zero, fmt.Errorf("cashback cannot be redeemed on a %s order: %w", current.Status, models.ErrInvalidTransition)
	}

	payable := current.Subtotal.Add(current.ServiceFee).Add(current.Taxes).Sub(current.OtherDiscount)
	if requested.GreaterThan(payable) {
		requested = decimal.Max(payable, decimal.Zero)
	}

	key := ledger.Key(orderID, "redeem")
	redeemed, _, err := s.loyalty.Redeem(ctx, current.CustomerID, requested, &current.ID, key)
	if err != nil {
		util.SpanError(span, err)
		return nil, decimal.Zero, err
	}
	if current.CashbackUsed.Equal(redeemed) {
		return current, redeemed, nil
	}

	next := current.Clone()
	next.CashbackUsed = redeemed
	next.RecalculateTotal()
	next.Version = current.Version + 1
	if err := s.orders.UpdateOrder(ctx, next, current.Version); err != nil {
		util.SpanError(span, err)
		return nil, decimal.Zero, fmt.Errorf("failed to apply cashback to order: %w", err)
	}

	s.logger.Info("Cashback redeemed",
		zap.String("order_id", orderID),
		zap.String("customer_id", current.CustomerID),
		zap.String("amount", redeemed.String()),
		zap.String("total", next.Total.String()))
	return next, redeemed, nil
}
