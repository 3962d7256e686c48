package models

import "time"

// Event types
const (
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePaymentCompleted   = "PAYMENT_COMPLETED"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusChangedEvent is emitted once per committed order transition
type StatusChangedEvent struct {
	BaseEvent
	OrderID        string      `json:"order_id"`
	OrderNumber    int64       `json:"order_number"`
	CustomerID     string      `json:"customer_id"`
	TableID        *string     `json:"table_id,omitempty"`
	PreviousStatus OrderStatus `json:"previous_status"`
	NewStatus      OrderStatus `json:"new_status"`
	ActorID        string      `json:"actor_id"`
	Class          string      `json:"class"`
	HighPriority   bool        `json:"high_priority"`
	External       bool        `json:"external"`
	Version        int64       `json:"version"`
}

// PaymentCompletedEvent is published by the payment collaborator
type PaymentCompletedEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	ActorID   string `json:"actor_id"`
	ActorRole Role   `json:"actor_role"`
	TxID      string `json:"tx_id"`
}

// PaymentFailedEvent is published by the payment collaborator
type PaymentFailedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}
