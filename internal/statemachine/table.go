package statemachine

import "venue-orders/internal/models"

// Role groups referenced by the transition table. Membership is loaded into the
// authorizer as grouping policies, so granting a role an edge is a table edit.
const (
	groupProduction = "production"
	groupFloor      = "floor"
	groupStaff      = "staff"
	groupSupervisor = "supervisor"
	groupPayments   = "payments"
	groupCustomer   = "customers"
)

var roleGroups = map[string][]models.Role{
	groupProduction: {models.RoleKitchen, models.RoleBar, models.RoleAdmin, models.RoleManager},
	groupFloor:      {models.RoleAttendant, models.RoleCashier, models.RoleAdmin, models.RoleManager},
	groupStaff: {
		models.RoleKitchen, models.RoleBar, models.RoleAttendant,
		models.RoleCashier, models.RoleAdmin, models.RoleManager,
	},
	groupSupervisor: {models.RoleAdmin, models.RoleManager},
	groupPayments:   {models.RoleSystem},
	groupCustomer:   {models.RoleCustomer},
}

// GuardContext carries the order facts a guarded edge may inspect
type GuardContext struct {
	PaymentStatus string
}

// guard returns a non-empty reason when the edge must be refused
type guard func(GuardContext) string

func paymentCompleted(gc GuardContext) string {
	if gc.PaymentStatus != models.PaymentStatusCompleted {
		return "payment not completed"
	}
	return ""
}

type edge struct {
	From   models.OrderStatus
	To     models.OrderStatus
	Groups []string
	Guard  guard

	// Settles lists the groups whose use of the edge confirms the payment itself:
	// floor staff taking an in-person payment, or the payment collaborator.
	Settles []string
}

var transitionTable = []edge{
	{From: models.OrderStatusPending, To: models.OrderStatusConfirmed, Groups: []string{groupProduction, groupPayments}, Settles: []string{groupPayments}},
	{From: models.OrderStatusPending, To: models.OrderStatusPreparing, Groups: []string{groupProduction}, Guard: paymentCompleted},
	{From: models.OrderStatusPending, To: models.OrderStatusCancelled, Groups: []string{groupStaff, groupCustomer}},

	{From: models.OrderStatusPendingPayment, To: models.OrderStatusConfirmed, Groups: []string{groupFloor, groupPayments}, Settles: []string{groupFloor, groupPayments}},
	{From: models.OrderStatusPendingPayment, To: models.OrderStatusCancelled, Groups: []string{groupStaff, groupCustomer}},

	{From: models.OrderStatusConfirmed, To: models.OrderStatusPreparing, Groups: []string{groupProduction}},
	{From: models.OrderStatusConfirmed, To: models.OrderStatusCancelled, Groups: []string{groupStaff}},

	{From: models.OrderStatusPreparing, To: models.OrderStatusReady, Groups: []string{groupProduction}},
	{From: models.OrderStatusPreparing, To: models.OrderStatusCancelled, Groups: []string{groupStaff}},

	{From: models.OrderStatusReady, To: models.OrderStatusOnWay, Groups: []string{groupFloor}},
	{From: models.OrderStatusReady, To: models.OrderStatusCancelled, Groups: []string{groupSupervisor}},

	{From: models.OrderStatusOnWay, To: models.OrderStatusDelivered, Groups: []string{groupFloor}},
}

func inGroups(role models.Role, groups []string) bool {
	for _, group := range groups {
		for _, member := range roleGroups[group] {
			if member == role {
				return true
			}
		}
	}
	return false
}
