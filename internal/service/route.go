package service

import (
	"fmt"

	"dronesim/internal/domain"
)

// RouteBuilder turns a short list of waypoints into a dense route by linear
// interpolation. Latitude and longitude are blended independently; the
// simulated distances are short enough that great-circle correction is not needed.
type RouteBuilder struct {
	// Steps holds one step count for every leg, or exactly one per leg.
	Steps []int
}

// NewRouteBuilder creates a RouteBuilder with the given per-leg step counts.
func NewRouteBuilder(steps ...int) RouteBuilder {
	return RouteBuilder{Steps: steps}
}

// Build materializes the route through the given waypoints. Each leg
// contributes steps points after its start; the junction shared by two legs
// appears once, so the route has sum(steps)+1 points.
func (b RouteBuilder) Build(waypoints ...domain.Waypoint) (*domain.Route, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 waypoints, got %d", ErrInvalidRouteSpec, len(waypoints))
	}

	steps, err := b.legSteps(len(waypoints) - 1)
	if err != nil {
		return nil, err
	}

	total := 1
	for _, n := range steps {
		total += n
	}

	route := &domain.Route{
		Points: make([]domain.Waypoint, 0, total),
		Legs:   make([]domain.Leg, 0, len(steps)),
	}
	route.Points = append(route.Points, waypoints[0])

	for i, n := range steps {
		from, to := waypoints[i], waypoints[i+1]
		start := len(route.Points) - 1

		for s := 1; s <= n; s++ {
			if s == n {
				route.Points = append(route.Points, to)
				break
			}
			route.Points = append(route.Points, interpolate(from, to, float64(s)/float64(n)))
		}

		route.Legs = append(route.Legs, domain.Leg{
			Phase: domain.LegPhase(i),
			Start: start,
			End:   len(route.Points) - 1,
		})
	}

	return route, nil
}

func (b RouteBuilder) legSteps(legs int) ([]int, error) {
	var steps []int
	switch len(b.Steps) {
	case 1:
		steps = make([]int, legs)
		for i := range steps {
			steps[i] = b.Steps[0]
		}
	case legs:
		steps = b.Steps
	default:
		return nil, fmt.Errorf("%w: %d step counts for %d legs", ErrInvalidRouteSpec, len(b.Steps), legs)
	}

	for i, n := range steps {
		if n <= 0 {
			return nil, fmt.Errorf("%w: leg %d has non-positive step count %d", ErrInvalidRouteSpec, i, n)
		}
	}
	return steps, nil
}

func interpolate(from, to domain.Waypoint, t float64) domain.Waypoint {
	return domain.Waypoint{
		Lat: from.Lat + (to.Lat-from.Lat)*t,
		Lng: from.Lng + (to.Lng-from.Lng)*t,
	}
}
