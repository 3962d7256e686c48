package statemachine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"venue-orders/internal/models"
)

// TransitionError names the rule that rejected a transition.
// It unwraps to models.ErrInvalidTransition or models.ErrForbidden.
type TransitionError struct {
	Err  error
	From models.OrderStatus
	To   models.OrderStatus
	Role models.Role
	Rule string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s as %s: %s", e.Err, e.From, e.To, e.Role, e.Rule)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// Machine is the pure decision component for order status changes
type Machine struct {
	adjacency  map[models.OrderStatus]map[models.OrderStatus]edge
	authorizer Authorizer
}

// New creates a state machine backed by the casbin edge authorizer
func New() (*Machine, error) {
	authorizer, err := NewCasbinAuthorizer()
	if err != nil {
		return nil, err
	}
	return NewWithAuthorizer(authorizer), nil
}

// NewWithAuthorizer creates a state machine using a custom authorizer
func NewWithAuthorizer(authorizer Authorizer) *Machine {
	adjacency := make(map[models.OrderStatus]map[models.OrderStatus]edge)
	for _, e := range transitionTable {
		if adjacency[e.From] == nil {
			adjacency[e.From] = make(map[models.OrderStatus]edge)
		}
		adjacency[e.From][e.To] = e
	}
	return &Machine{adjacency: adjacency, authorizer: authorizer}
}

// Next returns the statuses reachable from current, ignoring roles
func (m *Machine) Next(current models.OrderStatus) []models.OrderStatus {
	next := make([]models.OrderStatus, 0, len(m.adjacency[current]))
	for _, s := range models.AllStatuses {
		if _, ok := m.adjacency[current][s]; ok {
			next = append(next, s)
		}
	}
	return next
}

// Validate checks adjacency, then the role whitelist of the edge, then the edge guard.
func (m *Machine) Validate(current, requested models.OrderStatus, role models.Role, gc GuardContext) error {
	e, ok := m.adjacency[current][requested]
	if !ok {
		rule := "no such edge"
		if current.IsTerminal() {
			rule = "order is in a terminal state"
		}
		return &TransitionError{Err: models.ErrInvalidTransition, From: current, To: requested, Role: role, Rule: rule}
	}

	allowed, err := m.authorizer.Allowed(role, current, requested)
	if err != nil {
		return fmt.Errorf("failed to evaluate edge policy: %w", err)
	}
	if !allowed {
		return &TransitionError{Err: models.ErrForbidden, From: current, To: requested, Role: role, Rule: "role not allowed for this edge"}
	}

	if e.Guard != nil {
		if reason := e.Guard(gc); reason != "" {
			return &TransitionError{Err: models.ErrInvalidTransition, From: current, To: requested, Role: role, Rule: reason}
		}
	}

	return nil
}

// SettlesPayment reports whether role driving from -> to confirms the order's payment,
// so the order leaves the transition with a completed payment status.
func (m *Machine) SettlesPayment(from, to models.OrderStatus, role models.Role) bool {
	e, ok := m.adjacency[from][to]
	return ok && inGroups(role, e.Settles)
}

// Timestamp fields set by transitions
const (
	FieldConfirmedAt = "confirmed_at"
	FieldStartedAt   = "started_at"
	FieldFinishedAt  = "finished_at"
	FieldPickedUpAt  = "picked_up_at"
	FieldDeliveredAt = "delivered_at"
	FieldCancelledAt = "cancelled_at"
)

// Stamp lists the timestamp and actor attribution fields a transition sets.
// Only fields still unset on the order are included.
type Stamp struct {
	Times          map[string]time.Time
	KitchenActorID *string
	FloorActorID   *string
}

// ApplyTo writes the stamp onto o without overwriting fields already set
func (s Stamp) ApplyTo(o *models.Order) {
	for field, at := range s.Times {
		at := at
		target := timestampField(o, field)
		if target != nil && *target == nil {
			*target = &at
		}
	}
	if s.KitchenActorID != nil && o.KitchenActorID == nil {
		id := *s.KitchenActorID
		o.KitchenActorID = &id
	}
	if s.FloorActorID != nil && o.FloorActorID == nil {
		id := *s.FloorActorID
		o.FloorActorID = &id
	}
}

func timestampField(o *models.Order, field string) **time.Time {
	switch field {
	case FieldConfirmedAt:
		return &o.ConfirmedAt
	case FieldStartedAt:
		return &o.StartedAt
	case FieldFinishedAt:
		return &o.FinishedAt
	case FieldPickedUpAt:
		return &o.PickedUpAt
	case FieldDeliveredAt:
		return &o.DeliveredAt
	case FieldCancelledAt:
		return &o.CancelledAt
	}
	return nil
}

// TimestampsFor derives the fields to stamp when o enters newStatus at now
func (m *Machine) TimestampsFor(o *models.Order, newStatus models.OrderStatus, actorID string, now time.Time) Stamp {
	s := Stamp{Times: make(map[string]time.Time)}
	set := func(field string) {
		if target := timestampField(o, field); target != nil && *target == nil {
			s.Times[field] = now
		}
	}

	switch newStatus {
	case models.OrderStatusConfirmed:
		set(FieldConfirmedAt)
	case models.OrderStatusPreparing:
		// entering preparing straight from pending also confirms the order
		set(FieldConfirmedAt)
		set(FieldStartedAt)
		if o.KitchenActorID == nil {
			s.KitchenActorID = &actorID
		}
	case models.OrderStatusReady:
		set(FieldFinishedAt)
	case models.OrderStatusOnWay:
		set(FieldPickedUpAt)
		if o.FloorActorID == nil {
			s.FloorActorID = &actorID
		}
	case models.OrderStatusDelivered:
		set(FieldDeliveredAt)
	case models.OrderStatusCancelled:
		set(FieldCancelledAt)
	}

	return s
}

// StockOp declares one stock movement for an order line
type StockOp struct {
	Line      int
	ProductID string
	Delta     int64
	Type      string
}

// LoyaltyOp declares one loyalty ledger entry for the order's customer.
// SpendDelta is added to the customer's lifetime spend together with the entry.
type LoyaltyOp struct {
	Amount     decimal.Decimal
	Type       string
	Reason     string
	SpendDelta decimal.Decimal
}

// SideEffects lists what entering a status implies, without executing any of it
type SideEffects struct {
	Transition   string
	StockOps     []StockOp
	LoyaltyOps   []LoyaltyOp
	Class        models.NotificationClass
	HighPriority bool
	External     bool
}

// SideEffectsFor declares the ledger and notification consequences of o entering newStatus.
// customer may be nil for anonymous orders.
func (m *Machine) SideEffectsFor(o *models.Order, newStatus models.OrderStatus, customer *models.Customer) SideEffects {
	fx := SideEffects{
		Transition: string(newStatus),
		Class:      ClassFor(newStatus),
	}

	switch newStatus {
	case models.OrderStatusConfirmed, models.OrderStatusPreparing:
		if o.ConfirmedAt == nil {
			fx.StockOps = stockOps(o, -1, models.StockSale)
		}
	case models.OrderStatusReady:
		fx.HighPriority = true
		fx.External = true
	case models.OrderStatusDelivered:
		// the rate comes from the tier held before this order's spend is counted
		if customer != nil && o.PaymentStatus == models.PaymentStatusCompleted && o.Total.IsPositive() {
			rate := RateFor(TierFor(customer.LifetimeSpend))
			fx.LoyaltyOps = append(fx.LoyaltyOps, LoyaltyOp{
				Amount:     o.Total.Mul(rate).Round(2),
				Type:       models.LoyaltyEarned,
				Reason:     fmt.Sprintf("cashback for order #%d", o.Number),
				SpendDelta: o.Total,
			})
		}
	case models.OrderStatusCancelled:
		if o.ConfirmedAt != nil {
			fx.StockOps = stockOps(o, 1, models.StockRestock)
		}
		if customer != nil && o.CashbackUsed.IsPositive() {
			fx.LoyaltyOps = append(fx.LoyaltyOps, LoyaltyOp{
				Amount: o.CashbackUsed,
				Type:   models.LoyaltyBonus,
				Reason: fmt.Sprintf("refund for cancelled order #%d", o.Number),
			})
		}
		fx.External = true
	}

	return fx
}

func stockOps(o *models.Order, sign int64, movementType string) []StockOp {
	var ops []StockOp
	for i, item := range o.Items {
		if !item.StockTracked {
			continue
		}
		ops = append(ops, StockOp{
			Line:      i,
			ProductID: item.ProductID,
			Delta:     sign * int64(item.Quantity),
			Type:      movementType,
		})
	}
	return ops
}

// ClassFor maps a status to the notification class announcing it
func ClassFor(status models.OrderStatus) models.NotificationClass {
	switch status {
	case models.OrderStatusConfirmed:
		return models.ClassOrderConfirmed
	case models.OrderStatusPreparing:
		return models.ClassOrderPreparing
	case models.OrderStatusReady:
		return models.ClassOrderReady
	case models.OrderStatusOnWay:
		return models.ClassOrderOnWay
	case models.OrderStatusDelivered:
		return models.ClassOrderDelivered
	case models.OrderStatusCancelled:
		return models.ClassOrderCancelled
	}
	return ""
}
