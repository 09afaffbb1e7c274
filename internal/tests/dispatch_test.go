package tests

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dronesim/internal/domain"
	"dronesim/internal/repository"
	"dronesim/internal/service"
)

// ──────────────────────────────────────────────
// 5. ORDER LIFECYCLE TRIGGERS
// ──────────────────────────────────────────────

func newDispatchFixture(cfg service.SimulationConfig) (*simFixture, *service.DispatchService) {
	f := newSimFixture(cfg)
	return f, service.NewDispatchService(f.orders, f.drones, f.svc, quietLogger())
}

func TestDispatch_ConfirmedStartsSimulationWithFreeDrone(t *testing.T) {
	t.Parallel()

	f, dispatch := newDispatchFixture(testConfig())
	order := f.addOrder("order-1")
	order.Status = domain.OrderStatusPending
	f.orders.AddOrder(order)
	f.addDrone("drone-1")

	updated, err := dispatch.UpdateStatus(context.Background(), service.UpdateStatusRequest{
		OrderID: "order-1",
		Status:  "confirmed",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != domain.OrderStatusConfirmed {
		t.Errorf("expected confirmed, got %s", updated.Status)
	}

	waitFor(t, func() bool {
		return f.orders.GetOrder("order-1").Status == domain.OrderStatusDelivered
	})
	waitFor(t, func() bool { return !f.drones.GetDrone("drone-1").IsSimulating })

	for _, evt := range f.sink.OfType(domain.EventDronePosition) {
		if evt.DroneID != "drone-1" {
			t.Fatalf("expected events for drone-1, got %q", evt.DroneID)
		}
	}
}

func TestDispatch_NoFreeDrone_SimulatesOrderOnly(t *testing.T) {
	t.Parallel()

	f, dispatch := newDispatchFixture(testConfig())
	order := f.addOrder("order-1")

	run, err := dispatch.Dispatch(context.Background(), order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForRun(t, run)

	if run.Snapshot().DroneID != "" {
		t.Errorf("expected no drone, got %s", run.Snapshot().DroneID)
	}
	if got := f.orders.GetOrder("order-1").Status; got != domain.OrderStatusDelivered {
		t.Errorf("expected delivered, got %s", got)
	}
}

func TestDispatch_UsesDroneHomeAsWarehouse(t *testing.T) {
	t.Parallel()

	f, dispatch := newDispatchFixture(testConfig())
	order := f.addOrder("order-1")
	home := domain.Waypoint{Lat: 10.70, Lng: 106.60}
	f.drones.AddDrone(&domain.Drone{ID: "drone-1", Status: domain.DroneStatusFree, Home: home, Location: home})

	run, err := dispatch.Dispatch(context.Background(), order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForRun(t, run)

	route := run.Snapshot().Route
	if route.Points[0] != home || route.Points[route.Len()-1] != home {
		t.Errorf("expected route to start and end at drone home, got %+v .. %+v",
			route.Points[0], route.Points[route.Len()-1])
	}
}

func TestDispatch_BusyDroneSkipped(t *testing.T) {
	t.Parallel()

	f, dispatch := newDispatchFixture(testConfig())
	order := f.addOrder("order-1")
	f.drones.AddDrone(&domain.Drone{ID: "drone-busy", Status: domain.DroneStatusBusy, Home: warehouse})
	f.drones.AddDrone(&domain.Drone{ID: "drone-error", Status: domain.DroneStatusError, Home: warehouse})

	run, err := dispatch.Dispatch(context.Background(), order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForRun(t, run)

	if run.Snapshot().DroneID != "" {
		t.Errorf("expected busy and errored drones to be skipped, got %s", run.Snapshot().DroneID)
	}
}

// holdBusyWrites blocks the first busy-status write until the returned
// func is called, so a dispatched drone still reads as free in the repository.
func holdBusyWrites(f *simFixture) (release func()) {
	gate := make(chan struct{})
	var once sync.Once
	f.drones.UpdateStatusHook = func(ctx context.Context, _ string, status domain.DroneStatus) error {
		if status == domain.DroneStatusBusy {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
	return func() { once.Do(func() { close(gate) }) }
}

func confirm(t *testing.T, f *simFixture, dispatch *service.DispatchService, orderID string) {
	t.Helper()
	order := f.addOrder(orderID)
	order.Status = domain.OrderStatusPending
	f.orders.AddOrder(order)
	if _, err := dispatch.UpdateStatus(context.Background(), service.UpdateStatusRequest{
		OrderID: orderID,
		Status:  "confirmed",
	}); err != nil {
		t.Fatalf("unexpected error confirming %s: %v", orderID, err)
	}
}

func dronesSeenBy(f *simFixture, orderID string) map[string]bool {
	seen := make(map[string]bool)
	for _, evt := range f.sink.OfType(domain.EventDronePosition) {
		if evt.OrderID == orderID {
			seen[evt.DroneID] = true
		}
	}
	return seen
}

func TestDispatch_BackToBackConfirms_OneDrone(t *testing.T) {
	t.Parallel()

	f, dispatch := newDispatchFixture(testConfig())
	f.addDrone("drone-1")
	release := holdBusyWrites(f)
	defer release()

	confirm(t, f, dispatch, "order-a")
	confirm(t, f, dispatch, "order-b")
	release()

	for _, id := range []string{"order-a", "order-b"} {
		waitFor(t, func() bool {
			return f.orders.GetOrder(id).Status == domain.OrderStatusDelivered
		})
	}

	if seen := dronesSeenBy(f, "order-a"); len(seen) != 1 || !seen["drone-1"] {
		t.Errorf("expected order-a flown by drone-1, got %v", seen)
	}
	if seen := dronesSeenBy(f, "order-b"); len(seen) != 1 || !seen[""] {
		t.Errorf("expected order-b simulated without a drone, got %v", seen)
	}
	// order-b asked once, found drone-1 taken, then asked again without it.
	if n := atomic.LoadInt32(&f.drones.FindAvailableCallCount); n != 3 {
		t.Errorf("expected 3 drone lookups, got %d", n)
	}
}

func TestDispatch_BackToBackConfirms_NextFreeDrone(t *testing.T) {
	t.Parallel()

	f, dispatch := newDispatchFixture(testConfig())
	f.addDrone("drone-1")
	f.addDrone("drone-2")
	release := holdBusyWrites(f)
	defer release()

	confirm(t, f, dispatch, "order-a")
	confirm(t, f, dispatch, "order-b")
	release()

	for _, id := range []string{"order-a", "order-b"} {
		waitFor(t, func() bool {
			return f.orders.GetOrder(id).Status == domain.OrderStatusDelivered
		})
	}
	waitFor(t, func() bool { return !f.drones.GetDrone("drone-2").IsSimulating })

	if seen := dronesSeenBy(f, "order-b"); len(seen) != 1 || !seen["drone-2"] {
		t.Errorf("expected order-b flown by drone-2, got %v", seen)
	}
}

func TestDispatch_RepositoryErrorPropagates(t *testing.T) {
	t.Parallel()

	f, dispatch := newDispatchFixture(testConfig())
	order := f.addOrder("order-1")
	f.drones.FindAvailableError = errors.New("connection refused")

	if _, err := dispatch.Dispatch(context.Background(), order); err == nil {
		t.Error("expected error")
	}
}

func TestDispatch_CanceledStopsSimulation(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TickInterval = 20 * time.Millisecond
	f, dispatch := newDispatchFixture(cfg)
	order := f.addOrder("order-1")
	f.addDrone("drone-1")

	run, err := dispatch.Dispatch(context.Background(), order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool { return len(f.sink.OfType(domain.EventDronePosition)) > 0 })

	if _, err := dispatch.UpdateStatus(context.Background(), service.UpdateStatusRequest{
		OrderID: "order-1",
		Status:  "canceled",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForRun(t, run)

	if run.Outcome() != domain.OutcomeCancelled {
		t.Errorf("expected cancelled, got %s", run.Outcome())
	}
	drone := f.drones.GetDrone("drone-1")
	if drone.Status != domain.DroneStatusFree || drone.IsSimulating {
		t.Errorf("expected drone released, got %s/%v", drone.Status, drone.IsSimulating)
	}
}

func TestDispatch_UpdateStatusValidation(t *testing.T) {
	t.Parallel()

	f, dispatch := newDispatchFixture(testConfig())
	delivered := f.addOrder("order-done")
	delivered.Status = domain.OrderStatusDelivered
	f.orders.AddOrder(delivered)

	tests := []struct {
		name    string
		req     service.UpdateStatusRequest
		wantErr error
	}{
		{"empty order id", service.UpdateStatusRequest{Status: "confirmed"}, service.ErrInvalidOrderID},
		{"unknown status", service.UpdateStatusRequest{OrderID: "order-done", Status: "teleported"}, service.ErrInvalidOrderStatus},
		{"missing order", service.UpdateStatusRequest{OrderID: "nope", Status: "confirmed"}, repository.ErrNotFound},
		{"closed order", service.UpdateStatusRequest{OrderID: "order-done", Status: "confirmed"}, service.ErrOrderClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dispatch.UpdateStatus(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if len(f.svc.Active()) != 0 {
		t.Error("expected no simulations to start")
	}
}

func TestDispatch_DuplicateConfirmIsNoop(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TickInterval = 10 * time.Millisecond
	f, dispatch := newDispatchFixture(cfg)
	order := f.addOrder("order-1")
	order.Status = domain.OrderStatusPending
	f.orders.AddOrder(order)

	req := service.UpdateStatusRequest{OrderID: "order-1", Status: "confirmed"}
	if _, err := dispatch.UpdateStatus(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := dispatch.UpdateStatus(context.Background(), req); err != nil {
		t.Fatalf("unexpected error on duplicate: %v", err)
	}

	waitFor(t, func() bool {
		return f.orders.GetOrder("order-1").Status == domain.OrderStatusDelivered
	})
	if n := len(f.sink.OfType(domain.EventDroneRoute)); n != 1 {
		t.Errorf("expected a single simulation, got %d route previews", n)
	}
}
