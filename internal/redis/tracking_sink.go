package redis

import (
	"context"

	"dronesim/internal/domain"
)

// TrackingSink mirrors simulation events into Redis: drone positions go to
// the geo index and every event updates the order's tracking snapshot.
type TrackingSink struct {
	locations LocationStoreInterface
	cache     TrackingCacheInterface
}

// NewTrackingSink creates a new TrackingSink.
func NewTrackingSink(locations LocationStoreInterface, cache TrackingCacheInterface) *TrackingSink {
	return &TrackingSink{locations: locations, cache: cache}
}

// Publish applies a simulation event.
func (s *TrackingSink) Publish(ctx context.Context, evt domain.Event) error {
	fields := map[string]any{}

	switch evt.Type {
	case domain.EventDroneRoute:
		// A new run starts from a clean snapshot.
		if err := s.cache.Invalidate(ctx, evt.OrderID); err != nil {
			return err
		}
		fields["state"] = string(domain.OutcomeRunning)
		fields["total"] = evt.Total
		fields["step"] = 0
		if evt.DroneID != "" {
			fields["drone_id"] = evt.DroneID
		}
	case domain.EventDronePosition:
		if evt.Position == nil {
			return nil
		}
		if evt.DroneID != "" {
			if err := s.locations.UpdateLocation(ctx, evt.DroneID, evt.Position.Lat, evt.Position.Lng); err != nil {
				return err
			}
		}
		fields["lat"] = evt.Position.Lat
		fields["lng"] = evt.Position.Lng
		fields["step"] = evt.Step
		fields["phase"] = string(evt.Phase)
	case domain.EventOrderStatus:
		fields["status"] = string(evt.Status)
	case domain.EventDroneDone:
		fields["state"] = string(domain.OutcomeCompleted)
	case domain.EventDroneError:
		fields["state"] = string(domain.OutcomeFailed)
	case domain.EventDroneCancelled:
		fields["state"] = string(domain.OutcomeCancelled)
	default:
		return nil
	}

	return s.cache.Update(ctx, evt.OrderID, fields)
}
