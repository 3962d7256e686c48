package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the operational state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusPreparing      OrderStatus = "preparing"
	OrderStatusReady          OrderStatus = "ready"
	OrderStatusOnWay          OrderStatus = "on_way"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// AllStatuses lists every order status in pipeline order
var AllStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPendingPayment,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusReady,
	OrderStatusOnWay,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// IsTerminal reports whether no further transition is allowed from s
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Role is the actor role carried by an authenticated request
type Role string

// Actor roles
const (
	RoleCustomer  Role = "customer"
	RoleKitchen   Role = "kitchen"
	RoleBar       Role = "bar"
	RoleAttendant Role = "atendente"
	RoleCashier   Role = "cashier"
	RoleAdmin     Role = "admin"
	RoleManager   Role = "manager"
	RoleSystem    Role = "system"
)

// AllRoles lists every known role
var AllRoles = []Role{
	RoleCustomer,
	RoleKitchen,
	RoleBar,
	RoleAttendant,
	RoleCashier,
	RoleAdmin,
	RoleManager,
	RoleSystem,
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// Payment methods
const (
	PaymentMethodCash   = "cash"
	PaymentMethodCard   = "card"
	PaymentMethodPix    = "pix"
	PaymentMethodOnline = "online"
)

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Loyalty tiers
const (
	TierBronze   = "bronze"
	TierSilver   = "silver"
	TierGold     = "gold"
	TierPlatinum = "platinum"
)

// Order is the mutable order record. Total is always derived from the other money fields.
type Order struct {
	ID             string          `db:"id" json:"id"`
	Number         int64           `db:"number" json:"number"`
	Status         OrderStatus     `db:"status" json:"status"`
	PaymentMethod  string          `db:"payment_method" json:"payment_method"`
	PaymentStatus  string          `db:"payment_status" json:"payment_status"`
	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	ServiceFee     decimal.Decimal `db:"service_fee" json:"service_fee"`
	Taxes          decimal.Decimal `db:"taxes" json:"taxes"`
	CashbackUsed   decimal.Decimal `db:"cashback_used" json:"cashback_used"`
	OtherDiscount  decimal.Decimal `db:"other_discount" json:"other_discount"`
	Total          decimal.Decimal `db:"total" json:"total"`
	CustomerID     string          `db:"customer_id" json:"customer_id"`
	TableID        *string         `db:"table_id" json:"table_id,omitempty"`
	KitchenActorID *string         `db:"kitchen_actor_id" json:"kitchen_actor_id,omitempty"`
	FloorActorID   *string         `db:"floor_actor_id" json:"floor_actor_id,omitempty"`
	ConfirmedAt    *time.Time      `db:"confirmed_at" json:"confirmed_at,omitempty"`
	StartedAt      *time.Time      `db:"started_at" json:"started_at,omitempty"`
	FinishedAt     *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
	PickedUpAt     *time.Time      `db:"picked_up_at" json:"picked_up_at,omitempty"`
	DeliveredAt    *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	CancelledAt    *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	Version        int64           `db:"version" json:"version"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
	Items          []OrderItem     `db:"-" json:"items"`
}

// RecalculateTotal derives Total from the component money fields, floored at zero
func (o *Order) RecalculateTotal() {
	total := o.Subtotal.Add(o.ServiceFee).Add(o.Taxes).Sub(o.CashbackUsed).Sub(o.OtherDiscount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	o.Total = total
}

// Clone returns a deep copy, so a candidate state can be built without touching the original
func (o *Order) Clone() *Order {
	c := *o
	c.TableID = cloneString(o.TableID)
	c.KitchenActorID = cloneString(o.KitchenActorID)
	c.FloorActorID = cloneString(o.FloorActorID)
	c.ConfirmedAt = cloneTime(o.ConfirmedAt)
	c.StartedAt = cloneTime(o.StartedAt)
	c.FinishedAt = cloneTime(o.FinishedAt)
	c.PickedUpAt = cloneTime(o.PickedUpAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	if o.Items != nil {
		c.Items = make([]OrderItem, len(o.Items))
		copy(c.Items, o.Items)
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// OrderItem is a line item holding a snapshot of the product at order time
type OrderItem struct {
	ID           int64           `db:"id" json:"id"`
	OrderID      string          `db:"order_id" json:"order_id"`
	ProductID    string          `db:"product_id" json:"product_id"`
	ProductName  string          `db:"product_name" json:"product_name"`
	Category     string          `db:"category" json:"category"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity     int             `db:"quantity" json:"quantity"`
	StockTracked bool            `db:"stock_tracked" json:"stock_tracked"`
}

// Product represents a sellable product
type Product struct {
	ID         string          `db:"id" json:"id"`
	Name       string          `db:"name" json:"name"`
	Category   string          `db:"category" json:"category"`
	Price      decimal.Decimal `db:"price" json:"price"`
	TrackStock bool            `db:"track_stock" json:"track_stock"`
	Stock      int64           `db:"stock" json:"stock"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// Customer holds the loyalty state of a customer
type Customer struct {
	ID             string          `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	LoyaltyBalance decimal.Decimal `db:"loyalty_balance" json:"loyalty_balance"`
	LifetimeSpend  decimal.Decimal `db:"lifetime_spend" json:"lifetime_spend"`
	LoyaltyTier    string          `db:"loyalty_tier" json:"loyalty_tier"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}
