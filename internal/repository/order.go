package repository

import (
	"context"

	"dronesim/internal/domain"
)

// OrderRepository defines the persistence operations for orders.
type OrderRepository interface {
	// Create persists a new order.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order by ID.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// GetAll retrieves the most recent orders.
	GetAll(ctx context.Context) ([]*domain.Order, error)

	// UpdateStatus updates the status of an order.
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error

	// UpdateDroneLocation records the last known drone position for an order.
	UpdateDroneLocation(ctx context.Context, id string, location domain.Waypoint) error

	// SaveRoute stores the planned route of an order.
	SaveRoute(ctx context.Context, id string, route []domain.Waypoint) error
}
