package domain

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

// Waypoint is a geographic coordinate.
type Waypoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Point converts the waypoint to an orb point (lng, lat order).
func (w Waypoint) Point() orb.Point {
	return orb.Point{w.Lng, w.Lat}
}

// Phase is the leg-equivalent label reported alongside a position.
type Phase string

const (
	PhaseToRestaurant Phase = "to-restaurant"
	PhaseToCustomer   Phase = "to-customer"
	PhaseReturning    Phase = "returning"
)

// LegPhase returns the phase of the i-th leg of a delivery route.
func LegPhase(i int) Phase {
	switch i {
	case 0:
		return PhaseToRestaurant
	case 1:
		return PhaseToCustomer
	default:
		return PhaseReturning
	}
}

// Leg is one segment of a route. Start and End are indices into Route.Points;
// the End point of a leg is the Start point of the next one.
type Leg struct {
	Phase Phase `json:"phase"`
	Start int   `json:"start"`
	End   int   `json:"end"`
}

// Route is a fully materialized, read-only sequence of interpolated points.
type Route struct {
	Points []Waypoint `json:"points"`
	Legs   []Leg      `json:"legs"`
}

// Len returns the number of points in the route.
func (r *Route) Len() int {
	return len(r.Points)
}

// PhaseAt returns the phase for point i. A junction point belongs to the
// leg it starts; the final point belongs to the last leg.
func (r *Route) PhaseAt(i int) Phase {
	for _, leg := range r.Legs {
		if i >= leg.Start && i < leg.End {
			return leg.Phase
		}
	}
	if len(r.Legs) == 0 {
		return PhaseToRestaurant
	}
	return r.Legs[len(r.Legs)-1].Phase
}

// LineString returns the route as an orb line string.
func (r *Route) LineString() orb.LineString {
	ls := make(orb.LineString, 0, len(r.Points))
	for _, p := range r.Points {
		ls = append(ls, p.Point())
	}
	return ls
}

// DistanceMeters returns the geodesic length of the route.
func (r *Route) DistanceMeters() float64 {
	return geo.Length(r.LineString())
}

// FeatureCollection renders the route and its legs as GeoJSON.
func (r *Route) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	path := geojson.NewFeature(r.LineString())
	path.Properties["kind"] = "route"
	path.Properties["points"] = len(r.Points)
	path.Properties["distance_m"] = r.DistanceMeters()
	fc.Append(path)

	for _, leg := range r.Legs {
		if leg.End >= len(r.Points) || leg.Start > leg.End {
			continue
		}
		from := geojson.NewFeature(r.Points[leg.Start].Point())
		from.Properties["kind"] = "leg_start"
		from.Properties["phase"] = string(leg.Phase)
		from.Properties["index"] = leg.Start
		fc.Append(from)
	}

	return fc
}
