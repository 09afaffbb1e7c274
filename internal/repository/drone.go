package repository

import (
	"context"

	"dronesim/internal/domain"
)

// DroneRepository defines the persistence operations for drones.
type DroneRepository interface {
	// Create adds a new drone.
	Create(ctx context.Context, drone *domain.Drone) error

	// GetByID retrieves a drone by ID.
	GetByID(ctx context.Context, id string) (*domain.Drone, error)

	// GetAll retrieves all drones.
	GetAll(ctx context.Context) ([]*domain.Drone, error)

	// FindAvailable returns a free drone that is not simulating, skipping
	// the IDs in exclude. Returns ErrNotFound if none is available.
	FindAvailable(ctx context.Context, exclude []string) (*domain.Drone, error)

	// UpdateLocation updates the current position of a drone.
	UpdateLocation(ctx context.Context, id string, location domain.Waypoint) error

	// UpdateStatus updates the status and simulating flag of a drone.
	UpdateStatus(ctx context.Context, id string, status domain.DroneStatus, isSimulating bool) error
}
