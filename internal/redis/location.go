package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const droneLocationKey = "drones:locations"

// DroneLocation represents a drone's position.
type DroneLocation struct {
	DroneID string
	Lat     float64
	Lng     float64
}

// LocationStore handles live drone positions in Redis.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

// UpdateLocation stores a drone's location using GEOADD.
func (s *LocationStore) UpdateLocation(ctx context.Context, droneID string, lat, lng float64) error {
	return s.client.GeoAdd(ctx, droneLocationKey, &redis.GeoLocation{
		Name:      droneID,
		Longitude: lng,
		Latitude:  lat,
	}).Err()
}

// GetLocation returns the last stored position of a drone, or nil if unknown.
func (s *LocationStore) GetLocation(ctx context.Context, droneID string) (*DroneLocation, error) {
	positions, err := s.client.GeoPos(ctx, droneLocationKey, droneID).Result()
	if err != nil {
		return nil, err
	}

	if len(positions) == 0 || positions[0] == nil {
		return nil, nil
	}

	return &DroneLocation{
		DroneID: droneID,
		Lat:     positions[0].Latitude,
		Lng:     positions[0].Longitude,
	}, nil
}

// RemoveLocation removes a drone's location from the geo index.
func (s *LocationStore) RemoveLocation(ctx context.Context, droneID string) error {
	return s.client.ZRem(ctx, droneLocationKey, droneID).Err()
}
