package statemachine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"venue-orders/internal/models"
)

type triple struct {
	from models.OrderStatus
	to   models.OrderStatus
	role models.Role
}

func allow(from, to models.OrderStatus, roles ...models.Role) []triple {
	out := make([]triple, 0, len(roles))
	for _, r := range roles {
		out = append(out, triple{from, to, r})
	}
	return out
}

// goldenPermissions is the full permission matrix, written out independently of transitionTable.
func goldenPermissions() map[triple]bool {
	const (
		pending        = models.OrderStatusPending
		pendingPayment = models.OrderStatusPendingPayment
		confirmed      = models.OrderStatusConfirmed
		preparing      = models.OrderStatusPreparing
		ready          = models.OrderStatusReady
		onWay          = models.OrderStatusOnWay
		delivered      = models.OrderStatusDelivered
		cancelled      = models.OrderStatusCancelled
	)
	kitchen, bar, floor, cashier := models.RoleKitchen, models.RoleBar, models.RoleAttendant, models.RoleCashier
	admin, manager, customer, system := models.RoleAdmin, models.RoleManager, models.RoleCustomer, models.RoleSystem

	var all []triple
	all = append(all, allow(pending, confirmed, kitchen, bar, admin, manager, system)...)
	all = append(all, allow(pending, preparing, kitchen, bar, admin, manager)...)
	all = append(all, allow(pending, cancelled, kitchen, bar, floor, cashier, admin, manager, customer)...)
	all = append(all, allow(pendingPayment, confirmed, floor, cashier, admin, manager, system)...)
	all = append(all, allow(pendingPayment, cancelled, kitchen, bar, floor, cashier, admin, manager, customer)...)
	all = append(all, allow(confirmed, preparing, kitchen, bar, admin, manager)...)
	all = append(all, allow(confirmed, cancelled, kitchen, bar, floor, cashier, admin, manager)...)
	all = append(all, allow(preparing, ready, kitchen, bar, admin, manager)...)
	all = append(all, allow(preparing, cancelled, kitchen, bar, floor, cashier, admin, manager)...)
	all = append(all, allow(ready, onWay, floor, cashier, admin, manager)...)
	all = append(all, allow(ready, cancelled, admin, manager)...)
	all = append(all, allow(onWay, delivered, floor, cashier, admin, manager)...)

	out := make(map[triple]bool, len(all))
	for _, t := range all {
		out[t] = true
	}
	return out
}

var adjacencyGolden = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:        {models.OrderStatusConfirmed, models.OrderStatusPreparing, models.OrderStatusCancelled},
	models.OrderStatusPendingPayment: {models.OrderStatusConfirmed, models.OrderStatusCancelled},
	models.OrderStatusConfirmed:      {models.OrderStatusPreparing, models.OrderStatusCancelled},
	models.OrderStatusPreparing:      {models.OrderStatusReady, models.OrderStatusCancelled},
	models.OrderStatusReady:          {models.OrderStatusOnWay, models.OrderStatusCancelled},
	models.OrderStatusOnWay:          {models.OrderStatusDelivered},
	models.OrderStatusDelivered:      {},
	models.OrderStatusCancelled:      {},
}

func isAdjacent(from, to models.OrderStatus) bool {
	for _, s := range adjacencyGolden[from] {
		if s == to {
			return true
		}
	}
	return false
}

func TestValidate_PermissionMatrix(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	golden := goldenPermissions()
	paid := GuardContext{PaymentStatus: models.PaymentStatusCompleted}

	for _, from := range models.AllStatuses {
		for _, to := range models.AllStatuses {
			for _, role := range models.AllRoles {
				name := fmt.Sprintf("%s->%s/%s", from, to, role)
				err := m.Validate(from, to, role, paid)

				switch {
				case golden[triple{from, to, role}]:
					assert.NoError(t, err, name)
				case !isAdjacent(from, to):
					assert.ErrorIs(t, err, models.ErrInvalidTransition, name)
				default:
					assert.ErrorIs(t, err, models.ErrForbidden, name)
				}
			}
		}
	}
}

func TestValidate_PaymentGuardOnPendingToPreparing(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	err = m.Validate(models.OrderStatusPending, models.OrderStatusPreparing, models.RoleKitchen,
		GuardContext{PaymentStatus: models.PaymentStatusPending})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "payment not completed", te.Rule)

	// role is checked before the guard
	err = m.Validate(models.OrderStatusPending, models.OrderStatusPreparing, models.RoleCustomer,
		GuardContext{PaymentStatus: models.PaymentStatusPending})
	assert.ErrorIs(t, err, models.ErrForbidden)

	// the guard only applies to that one edge
	err = m.Validate(models.OrderStatusConfirmed, models.OrderStatusPreparing, models.RoleKitchen,
		GuardContext{PaymentStatus: models.PaymentStatusPending})
	assert.NoError(t, err)
}

func TestValidate_TerminalStatesRejectEverything(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	for _, from := range []models.OrderStatus{models.OrderStatusDelivered, models.OrderStatusCancelled} {
		assert.Empty(t, m.Next(from))
		err := m.Validate(from, models.OrderStatusPreparing, models.RoleAdmin, GuardContext{})
		var te *TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "order is in a terminal state", te.Rule)
	}
}

type mockAuthorizer struct {
	mock.Mock
}

func (a *mockAuthorizer) Allowed(role models.Role, from, to models.OrderStatus) (bool, error) {
	args := a.Called(role, from, to)
	return args.Bool(0), args.Error(1)
}

func TestValidate_AuthorizerFailureIsNotABusinessError(t *testing.T) {
	authorizer := new(mockAuthorizer)
	authorizer.On("Allowed", models.RoleKitchen, models.OrderStatusConfirmed, models.OrderStatusPreparing).
		Return(false, errors.New("policy store down"))

	m := NewWithAuthorizer(authorizer)
	err := m.Validate(models.OrderStatusConfirmed, models.OrderStatusPreparing, models.RoleKitchen, GuardContext{})

	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrForbidden)
	assert.NotErrorIs(t, err, models.ErrInvalidTransition)
	authorizer.AssertNumberOfCalls(t, "Allowed", 1)
}

func TestValidate_InvalidEdgeSkipsAuthorizer(t *testing.T) {
	authorizer := new(mockAuthorizer)
	m := NewWithAuthorizer(authorizer)

	err := m.Validate(models.OrderStatusConfirmed, models.OrderStatusDelivered, models.RoleAdmin, GuardContext{})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	authorizer.AssertNotCalled(t, "Allowed", mock.Anything, mock.Anything, mock.Anything)
}

func TestTimestampsFor(t *testing.T) {
	m := NewWithAuthorizer(new(mockAuthorizer))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	cases := map[string]struct {
		status       models.OrderStatus
		order        *models.Order
		expectFields []string
		expectKitch  bool
		expectFloor  bool
	}{
		"confirmed": {
			status:       models.OrderStatusConfirmed,
			order:        &models.Order{},
			expectFields: []string{FieldConfirmedAt},
		},
		"preparing from pending stamps confirmation too": {
			status:       models.OrderStatusPreparing,
			order:        &models.Order{},
			expectFields: []string{FieldConfirmedAt, FieldStartedAt},
			expectKitch:  true,
		},
		"preparing after confirmation": {
			status:       models.OrderStatusPreparing,
			order:        &models.Order{ConfirmedAt: &now},
			expectFields: []string{FieldStartedAt},
			expectKitch:  true,
		},
		"ready": {
			status:       models.OrderStatusReady,
			order:        &models.Order{},
			expectFields: []string{FieldFinishedAt},
		},
		"on way": {
			status:       models.OrderStatusOnWay,
			order:        &models.Order{},
			expectFields: []string{FieldPickedUpAt},
			expectFloor:  true,
		},
		"delivered": {
			status:       models.OrderStatusDelivered,
			order:        &models.Order{},
			expectFields: []string{FieldDeliveredAt},
		},
		"cancelled": {
			status:       models.OrderStatusCancelled,
			order:        &models.Order{},
			expectFields: []string{FieldCancelledAt},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			stamp := m.TimestampsFor(tc.order, tc.status, "actor-1", now)

			assert.Len(t, stamp.Times, len(tc.expectFields))
			for _, f := range tc.expectFields {
				assert.Equal(t, now, stamp.Times[f], f)
			}
			assert.Equal(t, tc.expectKitch, stamp.KitchenActorID != nil)
			assert.Equal(t, tc.expectFloor, stamp.FloorActorID != nil)
		})
	}
}

func TestTimestampsFor_NeverOverwrites(t *testing.T) {
	m := NewWithAuthorizer(new(mockAuthorizer))
	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	later := first.Add(time.Minute)
	kitchenActor := "cook-1"

	order := &models.Order{ConfirmedAt: &first, StartedAt: &first, KitchenActorID: &kitchenActor}
	stamp := m.TimestampsFor(order, models.OrderStatusPreparing, "cook-2", later)
	assert.Empty(t, stamp.Times)
	assert.Nil(t, stamp.KitchenActorID)

	// applying a stale stamp leaves the order untouched as well
	Stamp{Times: map[string]time.Time{FieldStartedAt: later}}.ApplyTo(order)
	assert.Equal(t, first, *order.StartedAt)
	assert.Equal(t, "cook-1", *order.KitchenActorID)
}

func TestSideEffectsFor_StockOnFirstConfirmation(t *testing.T) {
	m := NewWithAuthorizer(new(mockAuthorizer))
	order := &models.Order{
		Items: []models.OrderItem{
			{ProductID: "beer", Quantity: 2, StockTracked: true},
			{ProductID: "burger", Quantity: 1, StockTracked: false},
		},
	}

	fx := m.SideEffectsFor(order, models.OrderStatusConfirmed, nil)
	require.Len(t, fx.StockOps, 1)
	assert.Equal(t, StockOp{Line: 0, ProductID: "beer", Delta: -2, Type: models.StockSale}, fx.StockOps[0])
	assert.Equal(t, models.ClassOrderConfirmed, fx.Class)

	now := time.Now()
	order.ConfirmedAt = &now
	fx = m.SideEffectsFor(order, models.OrderStatusPreparing, nil)
	assert.Empty(t, fx.StockOps)
}

func TestSideEffectsFor_CashbackUsesPreOrderTier(t *testing.T) {
	m := NewWithAuthorizer(new(mockAuthorizer))
	order := &models.Order{
		Number:        7,
		PaymentStatus: models.PaymentStatusCompleted,
		Total:         decimal.NewFromInt(200),
	}
	// 900 + 200 would cross the silver threshold, but the order is paid at bronze
	customer := &models.Customer{LifetimeSpend: decimal.NewFromInt(900)}

	fx := m.SideEffectsFor(order, models.OrderStatusDelivered, customer)
	require.Len(t, fx.LoyaltyOps, 1)
	assert.True(t, fx.LoyaltyOps[0].Amount.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, models.LoyaltyEarned, fx.LoyaltyOps[0].Type)
	assert.True(t, fx.LoyaltyOps[0].SpendDelta.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, models.ClassOrderDelivered, fx.Class)
}

func TestSideEffectsFor_NoCashbackWithoutCompletedPayment(t *testing.T) {
	m := NewWithAuthorizer(new(mockAuthorizer))
	order := &models.Order{PaymentStatus: models.PaymentStatusPending, Total: decimal.NewFromInt(100)}

	fx := m.SideEffectsFor(order, models.OrderStatusDelivered, &models.Customer{})
	assert.Empty(t, fx.LoyaltyOps)
}

func TestSideEffectsFor_CancelCompensates(t *testing.T) {
	m := NewWithAuthorizer(new(mockAuthorizer))
	now := time.Now()
	order := &models.Order{
		ConfirmedAt:  &now,
		CashbackUsed: decimal.RequireFromString("4.50"),
		Items:        []models.OrderItem{{ProductID: "beer", Quantity: 3, StockTracked: true}},
	}

	fx := m.SideEffectsFor(order, models.OrderStatusCancelled, &models.Customer{})
	require.Len(t, fx.StockOps, 1)
	assert.Equal(t, int64(3), fx.StockOps[0].Delta)
	assert.Equal(t, models.StockRestock, fx.StockOps[0].Type)
	require.Len(t, fx.LoyaltyOps, 1)
	assert.Equal(t, models.LoyaltyBonus, fx.LoyaltyOps[0].Type)
	assert.True(t, fx.LoyaltyOps[0].Amount.Equal(decimal.RequireFromString("4.5")))
}

func TestSideEffectsFor_ReadyIsHighPriority(t *testing.T) {
	m := NewWithAuthorizer(new(mockAuthorizer))
	fx := m.SideEffectsFor(&models.Order{}, models.OrderStatusReady, nil)
	assert.True(t, fx.HighPriority)
	assert.True(t, fx.External)
	assert.Equal(t, models.ClassOrderReady, fx.Class)
}

func TestTierFor(t *testing.T) {
	cases := map[string]struct {
		spend string
		tier  string
		rate  string
	}{
		"new customer":   {"0", models.TierBronze, "0.015"},
		"below silver":   {"999.99", models.TierBronze, "0.015"},
		"silver":         {"1000", models.TierSilver, "0.03"},
		"gold":           {"5000", models.TierGold, "0.045"},
		"platinum":       {"10000", models.TierPlatinum, "0.05"},
		"well over plat": {"250000", models.TierPlatinum, "0.05"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tier := TierFor(decimal.RequireFromString(tc.spend))
			assert.Equal(t, tc.tier, tier)
			assert.True(t, RateFor(tier).Equal(decimal.RequireFromString(tc.rate)))
		})
	}

	assert.True(t, RateFor("unknown").Equal(decimal.RequireFromString("0.015")))
}

func TestSettlesPayment(t *testing.T) {
	m := NewWithAuthorizer(new(mockAuthorizer))

	tests := []struct {
		name string
		from models.OrderStatus
		to   models.OrderStatus
		role models.Role
		want bool
	}{
		{"cashier takes payment at the counter", models.OrderStatusPendingPayment, models.OrderStatusConfirmed, models.RoleCashier, true},
		{"attendant takes payment at the table", models.OrderStatusPendingPayment, models.OrderStatusConfirmed, models.RoleAttendant, true},
		{"gateway confirms in-person order", models.OrderStatusPendingPayment, models.OrderStatusConfirmed, models.RoleSystem, true},
		{"gateway confirms online order", models.OrderStatusPending, models.OrderStatusConfirmed, models.RoleSystem, true},
		{"kitchen accepting an online order", models.OrderStatusPending, models.OrderStatusConfirmed, models.RoleKitchen, false},
		{"kitchen starting a confirmed order", models.OrderStatusConfirmed, models.OrderStatusPreparing, models.RoleKitchen, false},
		{"no such edge", models.OrderStatusPendingPayment, models.OrderStatusPreparing, models.RoleCashier, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.SettlesPayment(tt.from, tt.to, tt.role))
		})
	}
}
