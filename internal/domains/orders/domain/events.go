package domain

// EventType names the realtime notifications emitted by the order service.
type EventType string

const (
	EventOrderUpdated EventType = "order.updated"
	EventOrderRemoved EventType = "order.removed"
)

// Event is a realtime order-change notification. Updated events carry the full order;
// removed events carry only the id.
type Event struct {
	Type    EventType
	Order   *Order
	OrderID int64
}

// UpdatedEvent builds an order.updated notification.
func UpdatedEvent(order Order) Event {
	clone := order.Clone()
	return Event{Type: EventOrderUpdated, Order: &clone, OrderID: order.ID}
}

// RemovedEvent builds an order.removed notification.
func RemovedEvent(id int64) Event {
	return Event{Type: EventOrderRemoved, OrderID: id}
}
