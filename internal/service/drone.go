package service

import (
	"context"

	"github.com/google/uuid"

	"dronesim/internal/domain"
	"dronesim/internal/redis"
	"dronesim/internal/repository"
)

// DroneService handles drone registration and queries.
type DroneService struct {
	droneRepo     repository.DroneRepository
	locationStore redis.LocationStoreInterface
	warehouse     domain.Waypoint
}

// NewDroneService creates a new DroneService.
func NewDroneService(
	droneRepo repository.DroneRepository,
	locationStore redis.LocationStoreInterface,
	warehouse domain.Waypoint,
) *DroneService {
	return &DroneService{
		droneRepo:     droneRepo,
		locationStore: locationStore,
		warehouse:     warehouse,
	}
}

// RegisterDroneRequest contains the parameters for registering a drone.
type RegisterDroneRequest struct {
	Name string
	Home *domain.Waypoint // Optional: defaults to the warehouse
}

// RegisterDrone adds a free drone parked at its home.
func (s *DroneService) RegisterDrone(ctx context.Context, req RegisterDroneRequest) (*domain.Drone, error) {
	home := s.warehouse
	if req.Home != nil {
		home = *req.Home
	}
	if !isValidWaypoint(home) {
		return nil, ErrInvalidLocation
	}

	drone := &domain.Drone{
		ID:       uuid.New().String(),
		Name:     req.Name,
		Status:   domain.DroneStatusFree,
		Location: home,
		Home:     home,
	}
	if err := s.droneRepo.Create(ctx, drone); err != nil {
		return nil, err
	}

	if s.locationStore != nil {
		// The geo index is a read model; the drone row is authoritative.
		_ = s.locationStore.UpdateLocation(ctx, drone.ID, home.Lat, home.Lng)
	}
	return drone, nil
}

// GetDrone retrieves a drone by ID.
func (s *DroneService) GetDrone(ctx context.Context, droneID string) (*domain.Drone, error) {
	if droneID == "" {
		return nil, ErrInvalidDroneID
	}
	return s.droneRepo.GetByID(ctx, droneID)
}

// ListDrones returns every drone with its latest live position when one is known.
func (s *DroneService) ListDrones(ctx context.Context) ([]*domain.Drone, error) {
	drones, err := s.droneRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if s.locationStore == nil {
		return drones, nil
	}

	for _, d := range drones {
		loc, err := s.locationStore.GetLocation(ctx, d.ID)
		if err != nil || loc == nil {
			continue
		}
		d.Location = domain.Waypoint{Lat: loc.Lat, Lng: loc.Lng}
	}
	return drones, nil
}
