package domain

import "time"

// EventType names a realtime event.
type EventType string

const (
	EventDroneRoute     EventType = "drone:route"
	EventDronePosition  EventType = "drone:position"
	EventOrderStatus    EventType = "order:status"
	EventDroneDone      EventType = "drone:done"
	EventDroneError     EventType = "drone:error"
	EventDroneCancelled EventType = "drone:cancelled"
)

// Event is emitted by a simulation and addressed to the order's room.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Room      string      `json:"room"`
	OrderID   string      `json:"order_id"`
	DroneID   string      `json:"drone_id,omitempty"`
	Step      int         `json:"step"`
	Total     int         `json:"total"`
	Phase     Phase       `json:"phase,omitempty"`
	Position  *Waypoint   `json:"position,omitempty"`
	Status    OrderStatus `json:"status,omitempty"`
	Route     []Waypoint  `json:"route,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// OrderRoom returns the pub/sub room for an order.
func OrderRoom(orderID string) string {
	return "order:" + orderID
}
