package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TrackingTTL keeps a finished order's snapshot around long enough for
// clients to reconcile after the last realtime event.
const TrackingTTL = 30 * time.Minute

const trackingPrefix = "tracking:order:"

// TrackingSnapshot is the latest known simulation state of an order.
type TrackingSnapshot struct {
	OrderID   string    `json:"order_id"`
	DroneID   string    `json:"drone_id,omitempty"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Step      int       `json:"step"`
	Total     int       `json:"total"`
	Phase     string    `json:"phase,omitempty"`
	Status    string    `json:"status,omitempty"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TrackingCache stores per-order tracking snapshots as Redis hashes.
type TrackingCache struct {
	client *redis.Client
}

// NewTrackingCache creates a new TrackingCache.
func NewTrackingCache(client *redis.Client) *TrackingCache {
	return &TrackingCache{client: client}
}

// Update merges the given fields into the order's snapshot and refreshes its TTL.
func (s *TrackingCache) Update(ctx context.Context, orderID string, fields map[string]any) error {
	key := trackingPrefix + orderID
	fields["order_id"] = orderID
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, TrackingTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns the snapshot of an order, or nil on cache miss.
func (s *TrackingCache) Get(ctx context.Context, orderID string) (*TrackingSnapshot, error) {
	values, err := s.client.HGetAll(ctx, trackingPrefix+orderID).Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}

	snap := &TrackingSnapshot{
		OrderID: values["order_id"],
		DroneID: values["drone_id"],
		Phase:   values["phase"],
		Status:  values["status"],
		State:   values["state"],
	}
	snap.Lat, _ = strconv.ParseFloat(values["lat"], 64)
	snap.Lng, _ = strconv.ParseFloat(values["lng"], 64)
	snap.Step, _ = strconv.Atoi(values["step"])
	snap.Total, _ = strconv.Atoi(values["total"])
	snap.UpdatedAt, _ = time.Parse(time.RFC3339Nano, values["updated_at"])

	return snap, nil
}

// Invalidate removes an order's snapshot.
func (s *TrackingCache) Invalidate(ctx context.Context, orderID string) error {
	return s.client.Del(ctx, trackingPrefix+orderID).Err()
}
