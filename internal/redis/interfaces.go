package redis

import (
	"context"
	"time"
)

// LocationStoreInterface defines the interface for drone location operations.
type LocationStoreInterface interface {
	UpdateLocation(ctx context.Context, droneID string, lat, lng float64) error
	GetLocation(ctx context.Context, droneID string) (*DroneLocation, error)
	RemoveLocation(ctx context.Context, droneID string) error
}

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// TrackingCacheInterface defines the interface for order tracking snapshots.
type TrackingCacheInterface interface {
	Update(ctx context.Context, orderID string, fields map[string]any) error
	Get(ctx context.Context, orderID string) (*TrackingSnapshot, error)
	Invalidate(ctx context.Context, orderID string) error
}

// Ensure concrete types implement interfaces.
var (
	_ LocationStoreInterface = (*LocationStore)(nil)
	_ LockStoreInterface     = (*LockStore)(nil)
	_ TrackingCacheInterface = (*TrackingCache)(nil)
)
