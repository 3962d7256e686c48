package models

// NotificationClass decides which audiences hear about a status change
type NotificationClass string

// Notification classes
const (
	ClassOrderConfirmed NotificationClass = "order_confirmed"
	ClassOrderPreparing NotificationClass = "order_preparing"
	ClassOrderReady     NotificationClass = "order_ready"
	ClassOrderOnWay     NotificationClass = "order_on_way"
	ClassOrderDelivered NotificationClass = "order_delivered"
	ClassOrderCancelled NotificationClass = "order_cancelled"
)
