package tests

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"dronesim/internal/domain"
	"dronesim/internal/service"
)

var (
	warehouse  = domain.Waypoint{Lat: 10.76, Lng: 106.68}
	restaurant = domain.Waypoint{Lat: 10.77, Lng: 106.69}
	customer   = domain.Waypoint{Lat: 10.78, Lng: 106.70}
)

// testConfig plays a 16 point route (5 steps per leg) as fast as possible.
func testConfig() service.SimulationConfig {
	return service.SimulationConfig{
		LegSteps:     []int{5},
		TickInterval: time.Millisecond,
		Warehouse:    warehouse,
		MaxDuration:  10 * time.Second,
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type simFixture struct {
	orders *MockOrderRepository
	drones *MockDroneRepository
	sink   *RecordingSink
	svc    *service.SimulationService
}

func newSimFixture(cfg service.SimulationConfig, opts ...service.SimulationOption) *simFixture {
	f := &simFixture{
		orders: NewMockOrderRepository(),
		drones: NewMockDroneRepository(),
		sink:   NewRecordingSink(),
	}
	opts = append([]service.SimulationOption{service.WithLogger(quietLogger())}, opts...)
	f.svc = service.NewSimulationService(f.orders, f.drones, f.sink, service.NewRegistry(), cfg, opts...)
	return f
}

func (f *simFixture) addOrder(id string) *domain.Order {
	r, c := restaurant, customer
	order := &domain.Order{
		ID:                 id,
		Code:               "ORD-" + id,
		RestaurantLocation: &r,
		CustomerLocation:   &c,
		Status:             domain.OrderStatusConfirmed,
	}
	f.orders.AddOrder(order)
	copy := *order
	return &copy
}

func (f *simFixture) addDrone(id string) *domain.Drone {
	drone := &domain.Drone{
		ID:       id,
		Name:     "Drone " + id,
		Status:   domain.DroneStatusFree,
		Location: warehouse,
		Home:     warehouse,
	}
	f.drones.AddDrone(drone)
	copy := *drone
	return &copy
}

func waitForRun(t *testing.T, run *service.Run) {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("simulation did not finish in time")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
