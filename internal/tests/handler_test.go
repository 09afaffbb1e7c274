package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"

	"dronesim/internal/app"
	"dronesim/internal/domain"
	"dronesim/internal/handler"
	"dronesim/internal/middleware"
	"dronesim/internal/realtime"
	"dronesim/internal/redis"
	"dronesim/internal/service"
)

// ──────────────────────────────────────────────
// 7. HTTP API
// ──────────────────────────────────────────────

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	*simFixture
	router   *gin.Engine
	hub      *realtime.Hub
	payments *service.PaymentService
}

func newAPIFixture(t *testing.T, cfg service.SimulationConfig) *apiFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := quietLogger()
	hub := realtime.NewHub(log)
	t.Cleanup(hub.Close)

	locations := redis.NewLocationStore(client)
	tracking := redis.NewTrackingCache(client)

	f := &simFixture{
		orders: NewMockOrderRepository(),
		drones: NewMockDroneRepository(),
		sink:   NewRecordingSink(),
	}
	// The recording sink goes last so tests that wait on it see the
	// tracking cache already updated.
	sinks := service.FanoutSink{hub, redis.NewTrackingSink(locations, tracking), f.sink}
	f.svc = service.NewSimulationService(f.orders, f.drones, sinks, service.NewRegistry(), cfg, service.WithLogger(log))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.svc.StopAll(ctx)
	})

	dispatch := service.NewDispatchService(f.orders, f.drones, f.svc, log)
	orders := service.NewOrderService(f.orders, tracking, service.NewRouteBuilder(cfg.LegSteps...), cfg.Warehouse)
	drones := service.NewDroneService(f.drones, locations, cfg.Warehouse)
	payments := service.NewPaymentService(testSecret, dispatch, log)

	router := app.NewRouter(app.RouterDeps{
		OrderHandler:      handler.NewOrderHandler(orders, dispatch),
		DroneHandler:      handler.NewDroneHandler(drones),
		SimulationHandler: handler.NewSimulationHandler(f.svc, dispatch, orders, drones),
		PaymentHandler:    handler.NewPaymentHandler(payments),
		RealtimeHandler:   handler.NewRealtimeHandler(hub, orders, log),
		RedisClient:       client,
		Logger:            log,
	})

	return &apiFixture{simFixture: f, router: router, hub: hub, payments: payments}
}

func (f *apiFixture) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestAPI_CreateAndGetOrder(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, testConfig())

	w := f.do(http.MethodPost, "/v1/orders", handler.CreateOrderRequest{
		RestaurantLocation: &restaurant,
		CustomerLocation:   &customer,
		TotalAmount:        125000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[handler.OrderResponse](t, w)
	if created.Status != string(domain.OrderStatusPending) {
		t.Errorf("expected pending order, got %s", created.Status)
	}
	if !strings.HasPrefix(created.Code, "ORD-") {
		t.Errorf("expected generated code, got %q", created.Code)
	}

	w = f.do(http.MethodGet, "/v1/orders/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode[handler.OrderResponse](t, w); got.ID != created.ID {
		t.Errorf("expected order %s, got %s", created.ID, got.ID)
	}

	w = f.do(http.MethodGet, "/v1/orders", nil)
	if list := decode[[]handler.OrderResponse](t, w); len(list) != 1 {
		t.Errorf("expected 1 order, got %d", len(list))
	}
}

func TestAPI_ErrorMapping(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, testConfig())
	bad := domain.Waypoint{Lat: 95, Lng: 10}
	f.addOrder("closed")
	closed := f.orders.GetOrder("closed")
	closed.Status = domain.OrderStatusDelivered
	f.orders.AddOrder(closed)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed body", http.MethodPost, "/v1/orders", "not an object", http.StatusBadRequest},
		{"invalid location", http.MethodPost, "/v1/orders", handler.CreateOrderRequest{RestaurantLocation: &bad}, http.StatusBadRequest},
		{"unknown order", http.MethodGet, "/v1/orders/missing", nil, http.StatusNotFound},
		{"unknown status", http.MethodPatch, "/v1/orders/closed/status", handler.UpdateOrderStatusRequest{Status: "flying"}, http.StatusBadRequest},
		{"closed order", http.MethodPatch, "/v1/orders/closed/status", handler.UpdateOrderStatusRequest{Status: "canceled"}, http.StatusConflict},
		{"stop unknown simulation", http.MethodDelete, "/v1/simulations/missing", nil, http.StatusNotFound},
		{"tracking without snapshot", http.MethodGet, "/v1/orders/closed/tracking", nil, http.StatusNotFound},
		{"drone without name", http.MethodPost, "/v1/drones/register", handler.RegisterDroneRequest{}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestAPI_ConfirmRunsSimulationAndTracking(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, testConfig())
	order := f.addOrder("order-1")
	order.Status = domain.OrderStatusPending
	f.orders.AddOrder(order)
	f.addDrone("drone-1")

	w := f.do(http.MethodPatch, "/v1/orders/order-1/status", handler.UpdateOrderStatusRequest{Status: "confirmed"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	waitFor(t, func() bool {
		return len(f.sink.OfType(domain.EventDroneDone)) == 1
	})

	w = f.do(http.MethodGet, "/v1/orders/order-1/tracking", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	snap := decode[redis.TrackingSnapshot](t, w)
	if snap.State != string(domain.OutcomeCompleted) {
		t.Errorf("expected completed snapshot, got %s", snap.State)
	}
	if snap.DroneID != "drone-1" {
		t.Errorf("expected drone-1, got %s", snap.DroneID)
	}
	if snap.Total != 16 {
		t.Errorf("expected 16 points, got %d", snap.Total)
	}
}

func TestAPI_RouteIsGeoJSON(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, testConfig())
	f.addOrder("order-1")

	w := f.do(http.MethodGet, "/v1/orders/order-1/route", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type        string      `json:"type"`
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &fc); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) == 0 {
		t.Fatalf("expected a feature collection, got %s with %d features", fc.Type, len(fc.Features))
	}
	path := fc.Features[0]
	if path.Geometry.Type != "LineString" {
		t.Errorf("expected LineString, got %s", path.Geometry.Type)
	}
	if len(path.Geometry.Coordinates) != 16 {
		t.Errorf("expected 16 coordinates, got %d", len(path.Geometry.Coordinates))
	}
	// GeoJSON is lng, lat.
	if c := path.Geometry.Coordinates[0]; c[0] != warehouse.Lng || c[1] != warehouse.Lat {
		t.Errorf("expected route to start at the warehouse, got %v", c)
	}
}

func TestAPI_SimulationStartStop(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TickInterval = 50 * time.Millisecond
	f := newAPIFixture(t, cfg)
	f.addOrder("order-1")
	f.addDrone("drone-1")

	start := handler.StartSimulationRequest{OrderID: "order-1", DroneID: "drone-1"}

	w := f.do(http.MethodPost, "/v1/simulations", start)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	first := decode[handler.SimulationResponse](t, w)
	if first.RunID == "" || first.Total != 16 {
		t.Errorf("unexpected simulation response %+v", first)
	}

	w = f.do(http.MethodPost, "/v1/simulations", start)
	if w.Code != http.StatusOK {
		t.Fatalf("expected duplicate start to return 200, got %d", w.Code)
	}
	dup := decode[handler.SimulationResponse](t, w)
	if !dup.Skipped || dup.RunID != first.RunID {
		t.Errorf("expected skipped response for run %s, got %+v", first.RunID, dup)
	}

	// The drone is taken, so another order cannot be started on it.
	f.addOrder("order-2")
	w = f.do(http.MethodPost, "/v1/simulations", handler.StartSimulationRequest{OrderID: "order-2", DroneID: "drone-1"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected busy drone to return 409, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(http.MethodGet, "/v1/simulations", nil)
	if active := decode[[]handler.SimulationResponse](t, w); len(active) != 1 {
		t.Errorf("expected 1 active simulation, got %d", len(active))
	}

	w = f.do(http.MethodDelete, "/v1/simulations/order-1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	waitFor(t, func() bool {
		return len(f.sink.OfType(domain.EventDroneCancelled)) == 1
	})
}

func TestAPI_SimulationStartIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, testConfig())
	f.addOrder("order-1")

	start := handler.StartSimulationRequest{OrderID: "order-1"}
	first := f.do(http.MethodPost, "/v1/simulations", start, middleware.IdempotencyHeader, "start-1")
	if first.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", first.Code, first.Body.String())
	}
	waitFor(t, func() bool {
		return len(f.sink.OfType(domain.EventDroneDone)) == 1
	})

	retry := f.do(http.MethodPost, "/v1/simulations", start, middleware.IdempotencyHeader, "start-1")
	if retry.Header().Get(middleware.ReplayHeader) != "true" {
		t.Error("expected retried start to be replayed")
	}
	if retry.Body.String() != first.Body.String() {
		t.Errorf("expected replayed body, got %s", retry.Body.String())
	}
	if got := len(f.sink.OfType(domain.EventDroneRoute)); got != 1 {
		t.Errorf("expected 1 simulation, got %d", got)
	}
}

func TestAPI_PaymentCallback(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, testConfig())
	order := f.addOrder("order-1")
	order.Status = domain.OrderStatusPending
	f.orders.AddOrder(order)

	params := signedParams(f.payments, map[string]string{
		"order_id":      "order-1",
		"response_code": "00",
		"amount":        "125000",
	})

	tampered := map[string]string{}
	for k, v := range params {
		tampered[k] = v
	}
	tampered["amount"] = "1"
	if w := f.do(http.MethodPost, "/v1/payments/callback", tampered); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for tampered callback, got %d", w.Code)
	}

	w := f.do(http.MethodPost, "/v1/payments/callback", params)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[handler.PaymentCallbackResponse](t, w)
	if !resp.Paid || resp.OrderStatus != string(domain.OrderStatusConfirmed) {
		t.Errorf("unexpected callback response %+v", resp)
	}

	waitFor(t, func() bool {
		return f.orders.GetOrder("order-1").Status == domain.OrderStatusDelivered
	})
}

func TestAPI_WebsocketReceivesOrderEvents(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TickInterval = 5 * time.Millisecond
	f := newAPIFixture(t, cfg)
	f.addOrder("order-1")
	f.addOrder("order-2")

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/orders/order-1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return f.hub.Subscribers(domain.OrderRoom("order-1")) == 1 })

	for _, id := range []string{"order-2", "order-1"} {
		if w := f.do(http.MethodPost, "/v1/simulations", handler.StartSimulationRequest{OrderID: id}); w.Code != http.StatusAccepted {
			t.Fatalf("expected 202 for %s, got %d", id, w.Code)
		}
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var steps []int
	for {
		var evt domain.Event
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		if evt.OrderID != "order-1" {
			t.Fatalf("received event for another order: %+v", evt)
		}
		if len(steps) == 0 && evt.Type != domain.EventDroneRoute && evt.Type != domain.EventDronePosition {
			t.Fatalf("unexpected first event %s", evt.Type)
		}
		if evt.Type == domain.EventDronePosition {
			steps = append(steps, evt.Step)
		}
		if evt.Type == domain.EventDroneDone {
			break
		}
	}

	if len(steps) != 16 {
		t.Fatalf("expected 16 positions, got %d", len(steps))
	}
	for i, s := range steps {
		if s != i {
			t.Fatalf("expected step %d, got %d", i, s)
		}
	}
}

func TestAPI_WebsocketUnknownOrder(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, testConfig())
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/orders/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 response, got %+v", resp)
	}
}

func TestAPI_RegisterDrone(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, testConfig())

	w := f.do(http.MethodPost, "/v1/drones/register", handler.RegisterDroneRequest{Name: "Falcon"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	drone := decode[handler.DroneResponse](t, w)
	if drone.Status != string(domain.DroneStatusFree) || drone.Home != warehouse {
		t.Errorf("unexpected drone %+v", drone)
	}

	w = f.do(http.MethodGet, "/v1/drones/"+drone.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
