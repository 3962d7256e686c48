package notify

import "venue-orders/internal/models"

// Fixed audience channels
const (
	ChannelKitchen = "kitchen"
	ChannelBar     = "bar"
	ChannelFloor   = "floor"
	ChannelAdmins  = "admins"
)

func OrderChannel(orderID string) string {
	return "order:" + orderID
}

func TableChannel(tableID string) string {
	return "table:" + tableID
}

func CustomerChannel(customerID string) string {
	return "customer:" + customerID
}

// RoleChannels returns the channels an actor joins on connect
func RoleChannels(role models.Role, actorID string) []string {
	switch role {
	case models.RoleKitchen:
		return []string{ChannelKitchen}
	case models.RoleBar:
		return []string{ChannelBar}
	case models.RoleAttendant, models.RoleCashier:
		return []string{ChannelFloor}
	case models.RoleAdmin, models.RoleManager:
		return []string{ChannelAdmins}
	case models.RoleCustomer:
		return []string{CustomerChannel(actorID)}
	}
	return nil
}

var classChannels = map[models.NotificationClass][]string{
	models.ClassOrderConfirmed: {ChannelKitchen, ChannelBar, ChannelAdmins},
	models.ClassOrderPreparing: {ChannelFloor, ChannelAdmins},
	models.ClassOrderReady:     {ChannelFloor, ChannelAdmins},
	models.ClassOrderOnWay:     {ChannelKitchen, ChannelBar, ChannelAdmins},
	models.ClassOrderDelivered: {ChannelAdmins},
	models.ClassOrderCancelled: {ChannelKitchen, ChannelBar, ChannelFloor, ChannelAdmins},
}

// Targets returns every channel that must receive evt.
// The order, customer and table channels are included regardless of class.
func Targets(evt models.StatusChangedEvent) []string {
	fixed := classChannels[models.NotificationClass(evt.Class)]
	targets := make([]string, 0, len(fixed)+3)
	targets = append(targets, fixed...)
	targets = append(targets, OrderChannel(evt.OrderID))
	if evt.CustomerID != "" {
		targets = append(targets, CustomerChannel(evt.CustomerID))
	}
	if evt.TableID != nil && *evt.TableID != "" {
		targets = append(targets, TableChannel(*evt.TableID))
	}
	return targets
}
