package service

import (
	"errors"
	"math"
	"testing"

	"dronesim/internal/domain"
)

var (
	testWarehouse  = domain.Waypoint{Lat: 10.76, Lng: 106.68}
	testRestaurant = domain.Waypoint{Lat: 10.77, Lng: 106.69}
	testCustomer   = domain.Waypoint{Lat: 10.78, Lng: 106.70}
)

func TestRouteBuilder_LengthHasNoDuplicateJunctions(t *testing.T) {
	tests := []struct {
		name  string
		steps []int
		want  int
	}{
		{"equal legs", []int{5, 5}, 11},
		{"distinct legs", []int{40, 60}, 101},
		{"single step legs", []int{1, 1}, 3},
		{"broadcast step", []int{7}, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route, err := NewRouteBuilder(tt.steps...).Build(testWarehouse, testRestaurant, testCustomer)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if route.Len() != tt.want {
				t.Errorf("expected %d points, got %d", tt.want, route.Len())
			}
		})
	}
}

func TestRouteBuilder_EndpointsAreExact(t *testing.T) {
	route, err := NewRouteBuilder(40, 60).Build(testWarehouse, testRestaurant, testCustomer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if route.Points[0] != testWarehouse {
		t.Errorf("expected first point %+v, got %+v", testWarehouse, route.Points[0])
	}
	if route.Points[route.Len()-1] != testCustomer {
		t.Errorf("expected last point %+v, got %+v", testCustomer, route.Points[route.Len()-1])
	}
	if route.Points[40] != testRestaurant {
		t.Errorf("expected junction %+v at index 40, got %+v", testRestaurant, route.Points[40])
	}
}

func TestRouteBuilder_LinearInterpolation(t *testing.T) {
	from := domain.Waypoint{Lat: 0, Lng: 0}
	to := domain.Waypoint{Lat: 1, Lng: 2}

	route, err := NewRouteBuilder(4).Build(from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, p := range route.Points {
		frac := float64(i) / 4
		if math.Abs(p.Lat-frac) > 1e-12 || math.Abs(p.Lng-2*frac) > 1e-12 {
			t.Errorf("point %d: expected (%f, %f), got (%f, %f)", i, frac, 2*frac, p.Lat, p.Lng)
		}
	}
}

func TestRouteBuilder_LegBoundariesAndPhases(t *testing.T) {
	route, err := NewRouteBuilder(5).Build(testWarehouse, testRestaurant, testCustomer, testWarehouse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []domain.Leg{
		{Phase: domain.PhaseToRestaurant, Start: 0, End: 5},
		{Phase: domain.PhaseToCustomer, Start: 5, End: 10},
		{Phase: domain.PhaseReturning, Start: 10, End: 15},
	}
	if len(route.Legs) != len(want) {
		t.Fatalf("expected %d legs, got %d", len(want), len(route.Legs))
	}
	for i := range want {
		if route.Legs[i] != want[i] {
			t.Errorf("leg %d: expected %+v, got %+v", i, want[i], route.Legs[i])
		}
	}

	if got := route.PhaseAt(15); got != domain.PhaseReturning {
		t.Errorf("expected final point to be returning, got %s", got)
	}
	if d := route.DistanceMeters(); d <= 0 {
		t.Errorf("expected positive distance, got %f", d)
	}
}

func TestRouteBuilder_InvalidSpec(t *testing.T) {
	tests := []struct {
		name      string
		steps     []int
		waypoints []domain.Waypoint
	}{
		{"no waypoints", []int{5}, nil},
		{"one waypoint", []int{5}, []domain.Waypoint{testWarehouse}},
		{"zero steps", []int{0}, []domain.Waypoint{testWarehouse, testCustomer}},
		{"negative steps", []int{5, -1}, []domain.Waypoint{testWarehouse, testRestaurant, testCustomer}},
		{"wrong arity", []int{5, 5, 5}, []domain.Waypoint{testWarehouse, testRestaurant, testCustomer}},
		{"no steps", nil, []domain.Waypoint{testWarehouse, testCustomer}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRouteBuilder(tt.steps...).Build(tt.waypoints...)
			if !errors.Is(err, ErrInvalidRouteSpec) {
				t.Errorf("expected ErrInvalidRouteSpec, got %v", err)
			}
		})
	}
}

func TestMilestones_DefaultMapping(t *testing.T) {
	route, err := NewRouteBuilder(5).Build(testWarehouse, testRestaurant, testCustomer, testWarehouse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := milestones(route, "")
	want := map[int]domain.OrderStatus{
		0:  domain.OrderStatusShippingToRestaurant,
		5:  domain.OrderStatusShippingToCustomer,
		15: domain.OrderStatusDelivered,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("index %d: expected %s, got %s", k, v, got[k])
		}
	}

	if got := milestones(route, domain.OrderStatusDelivering)[10]; got != domain.OrderStatusDelivering {
		t.Errorf("expected delivering at customer arrival, got %q", got)
	}
}
