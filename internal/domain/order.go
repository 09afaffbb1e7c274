package domain

import "time"

// OrderStatus represents the current status of an order.
type OrderStatus string

const (
	OrderStatusPending              OrderStatus = "pending"
	OrderStatusConfirmed            OrderStatus = "confirmed"
	OrderStatusShippingToRestaurant OrderStatus = "shipping-to-restaurant"
	OrderStatusShippingToCustomer   OrderStatus = "shipping-to-customer"
	OrderStatusDelivering           OrderStatus = "delivering"
	OrderStatusDelivered            OrderStatus = "delivered"
	OrderStatusCanceled             OrderStatus = "canceled"
)

// ParseOrderStatus validates a raw status value.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch st := OrderStatus(s); st {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShippingToRestaurant,
		OrderStatusShippingToCustomer, OrderStatusDelivering, OrderStatusDelivered, OrderStatusCanceled:
		return st, true
	}
	return "", false
}

// IsClosed reports whether no further lifecycle transitions are allowed.
func (s OrderStatus) IsClosed() bool {
	return s == OrderStatusDelivered || s == OrderStatusCanceled
}

// Order represents a customer order as seen by the simulator.
// Locations are pointers because either one may be missing on a record.
type Order struct {
	ID                 string
	Code               string // human readable order code
	RestaurantLocation *Waypoint
	CustomerLocation   *Waypoint
	Status             OrderStatus
	DroneLocation      *Waypoint
	Route              []Waypoint
	TotalAmount        float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
