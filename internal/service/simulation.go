package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"dronesim/internal/domain"
	"dronesim/internal/repository"
)

// defaultLockTTL is how long a distributed lock survives without a refresh.
// Running simulations refresh their locks every third of the TTL.
const defaultLockTTL = time.Minute

// SimulationConfig holds the tunables of the simulation engine.
type SimulationConfig struct {
	LegSteps     []int
	TickInterval time.Duration
	Warehouse    domain.Waypoint

	// CustomerArrivalStatus is written when the drone reaches the customer.
	// Empty means no milestone at that point.
	CustomerArrivalStatus domain.OrderStatus

	MaxDuration        time.Duration
	PersistRetries     int
	RetryBackoff       time.Duration
	PersistTimeout     time.Duration
	HaltOnPersistError bool

	// LockTTL is the expiry of distributed locks. Zero means defaultLockTTL.
	LockTTL time.Duration
}

// SimulationOption configures optional collaborators of a SimulationService.
type SimulationOption func(*SimulationService)

// WithDistributedLock guards simulation keys across replicas.
func WithDistributedLock(lock DistributedLock) SimulationOption {
	return func(s *SimulationService) { s.lock = lock }
}

// WithNewRelic instruments every tick as a background transaction.
func WithNewRelic(app *newrelic.Application) SimulationOption {
	return func(s *SimulationService) { s.nrApp = app }
}

// WithLogger sets the logger used by the engine.
func WithLogger(log logrus.FieldLogger) SimulationOption {
	return func(s *SimulationService) { s.log = log }
}

// SimulationService plays back delivery routes for orders, one goroutine per run.
type SimulationService struct {
	orders   repository.OrderRepository
	drones   repository.DroneRepository
	sink     EventSink
	registry *Registry
	builder  RouteBuilder
	cfg      SimulationConfig

	lock  DistributedLock
	nrApp *newrelic.Application
	log   logrus.FieldLogger
}

// NewSimulationService creates a new SimulationService.
func NewSimulationService(
	orders repository.OrderRepository,
	drones repository.DroneRepository,
	sink EventSink,
	registry *Registry,
	cfg SimulationConfig,
	opts ...SimulationOption,
) *SimulationService {
	if registry == nil {
		registry = NewRegistry()
	}
	if sink == nil {
		sink = FanoutSink{}
	}
	s := &SimulationService{
		orders:   orders,
		drones:   drones,
		sink:     sink,
		registry: registry,
		builder:  NewRouteBuilder(cfg.LegSteps...),
		cfg:      cfg,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartRequest contains the parameters for starting a simulation.
type StartRequest struct {
	Order   *domain.Order
	DroneID string // Optional: empty simulates the order without a drone record

	// Warehouse overrides the configured warehouse, usually with the drone's home.
	Warehouse *domain.Waypoint
}

// Run is the handle of one simulation.
type Run struct {
	mu       sync.Mutex
	state    domain.SimulationState
	err      error
	failures int

	keys       []string
	milestones map[int]domain.OrderStatus
	cancel     context.CancelFunc
	unlock     context.CancelFunc
	done       chan struct{}
}

// Done is closed once the run has reached a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Err returns the error that ended the run, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Outcome returns the current outcome of the run.
func (r *Run) Outcome() domain.SimulationOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Outcome
}

// Snapshot returns a copy of the run's state.
func (r *Run) Snapshot() domain.SimulationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stop cancels the run. A tick already in flight completes; no further tick runs.
func (r *Run) Stop() {
	r.cancel()
}

func (r *Run) advance(cursor int, phase domain.Phase) {
	r.mu.Lock()
	r.state.Cursor = cursor
	r.state.Phase = phase
	r.mu.Unlock()
}

func (r *Run) recordFailure() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
	return r.failures
}

func (r *Run) failureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

func (r *Run) terminate(outcome domain.SimulationOutcome, err error) {
	r.mu.Lock()
	r.state.Running = false
	r.state.Outcome = outcome
	r.err = err
	r.mu.Unlock()
}

// Start validates the order, builds its route and begins playback in the
// background. A second start for an order that is already simulating returns
// ErrDuplicateStart; a start on a drone flying another order returns
// ErrDroneBusy. Neither changes anything.
func (s *SimulationService) Start(ctx context.Context, req StartRequest) (*Run, error) {
	order := req.Order
	if order == nil || order.ID == "" {
		return nil, ErrInvalidOrderID
	}
	if order.RestaurantLocation == nil || order.CustomerLocation == nil {
		return nil, ErrMissingLocationData
	}
	if !isValidWaypoint(*order.RestaurantLocation) || !isValidWaypoint(*order.CustomerLocation) {
		return nil, ErrInvalidLocation
	}

	warehouse := s.cfg.Warehouse
	if req.Warehouse != nil {
		warehouse = *req.Warehouse
	}
	if !isValidWaypoint(warehouse) {
		return nil, ErrInvalidLocation
	}

	route, err := s.builder.Build(warehouse, *order.RestaurantLocation, *order.CustomerLocation, warehouse)
	if err != nil {
		return nil, err
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if s.cfg.MaxDuration > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), s.cfg.MaxDuration)
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}

	run := &Run{
		state: domain.SimulationState{
			RunID:     uuid.New().String(),
			OrderID:   order.ID,
			DroneID:   req.DroneID,
			Route:     route,
			Phase:     route.PhaseAt(0),
			Running:   true,
			Outcome:   domain.OutcomeRunning,
			StartedAt: time.Now(),
		},
		keys:       runKeys(order.ID, req.DroneID),
		milestones: milestones(route, s.cfg.CustomerArrivalStatus),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	log := s.runLogger(run)

	if key, ok := s.registry.Acquire(run, run.keys...); !ok {
		cancel()
		log.WithField("key", key).Info("simulation already running, skipping start")
		return nil, conflictError(key)
	}

	if s.lock != nil {
		if err := s.acquireLocks(ctx, run); err != nil {
			s.registry.Release(run, run.keys...)
			cancel()
			if errors.Is(err, ErrDuplicateStart) || errors.Is(err, ErrDroneBusy) {
				log.Info("simulation locked by another instance, skipping start")
			}
			return nil, err
		}
		refreshCtx, stopRefresh := context.WithCancel(context.Background())
		run.unlock = stopRefresh
		go s.refreshLocks(refreshCtx, run)
	}

	log.WithFields(logrus.Fields{
		"points":     route.Len(),
		"distance_m": route.DistanceMeters(),
	}).Info("simulation started")

	go s.run(runCtx, run)

	return run, nil
}

// Stop cancels the simulation of an order.
func (s *SimulationService) Stop(orderID string) error {
	if orderID == "" {
		return ErrInvalidOrderID
	}
	run, ok := s.registry.Get(orderKey(orderID))
	if !ok {
		return ErrSimulationNotFound
	}
	run.Stop()
	return nil
}

// StopAll cancels every active simulation and waits for them to finish or
// for ctx to expire.
func (s *SimulationService) StopAll(ctx context.Context) error {
	runs := s.registry.Runs()
	for _, run := range runs {
		run.Stop()
	}
	for _, run := range runs {
		select {
		case <-run.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Get returns the active run of an order.
func (s *SimulationService) Get(orderID string) (*Run, bool) {
	return s.registry.Get(orderKey(orderID))
}

// Active returns the state of every running simulation.
func (s *SimulationService) Active() []domain.SimulationState {
	runs := s.registry.Runs()
	states := make([]domain.SimulationState, 0, len(runs))
	for _, run := range runs {
		states = append(states, run.Snapshot())
	}
	return states
}

func (s *SimulationService) lockTTL() time.Duration {
	if s.cfg.LockTTL > 0 {
		return s.cfg.LockTTL
	}
	return defaultLockTTL
}

func (s *SimulationService) acquireLocks(ctx context.Context, run *Run) error {
	token := run.state.RunID
	acquired := make([]string, 0, len(run.keys))

	for _, key := range run.keys {
		ok, err := s.lock.Acquire(ctx, key, token, s.lockTTL())
		if err == nil && ok {
			acquired = append(acquired, key)
			continue
		}
		for _, k := range acquired {
			_ = s.lock.Release(ctx, k, token)
		}
		if err != nil {
			return fmt.Errorf("acquire simulation lock: %w", err)
		}
		return conflictError(key)
	}
	return nil
}

// refreshLocks extends the run's distributed locks until ctx is cancelled.
func (s *SimulationService) refreshLocks(ctx context.Context, run *Run) {
	ttl := s.lockTTL()
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		callCtx, cancel := context.WithTimeout(ctx, ttl/3)
		for _, key := range run.keys {
			ok, err := s.lock.Refresh(callCtx, key, run.state.RunID, ttl)
			switch {
			case err != nil:
				s.runLogger(run).WithError(err).WithField("key", key).Warn("failed to refresh simulation lock")
			case !ok:
				s.runLogger(run).WithField("key", key).Warn("simulation lock lost")
			}
		}
		cancel()
	}
}

// run plays the route. ctx only bounds the run as a whole: Stop and the max
// duration are observed between ticks, and the writes of a tick in flight run
// on a detached context with their own per-write timeout.
func (s *SimulationService) run(ctx context.Context, run *Run) {
	defer s.finish(run)

	work := context.WithoutCancel(ctx)

	if err := s.begin(work, run); err != nil {
		s.fail(work, run, err)
		return
	}

	route := run.state.Route
	for i := 0; i < route.Len(); i++ {
		if ctx.Err() != nil {
			s.interrupted(ctx, run)
			return
		}

		if err := s.tick(work, run, i); err != nil {
			s.fail(work, run, err)
			return
		}

		if i == route.Len()-1 {
			break
		}

		timer := time.NewTimer(s.cfg.TickInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.interrupted(ctx, run)
			return
		case <-timer.C:
		}
	}

	s.complete(work, run)
}

// begin marks the drone busy and publishes the route preview.
func (s *SimulationService) begin(ctx context.Context, run *Run) error {
	st := run.Snapshot()

	if st.DroneID != "" {
		err := s.persist(ctx, func(ctx context.Context) error {
			return s.drones.UpdateStatus(ctx, st.DroneID, domain.DroneStatusBusy, true)
		})
		if err != nil {
			return fmt.Errorf("mark drone busy: %w", err)
		}
	}

	err := s.persist(ctx, func(ctx context.Context) error {
		return s.orders.SaveRoute(ctx, st.OrderID, st.Route.Points)
	})
	if err != nil {
		return fmt.Errorf("save route: %w", err)
	}

	s.emit(ctx, run, domain.Event{
		Type:  domain.EventDroneRoute,
		Route: st.Route.Points,
		Total: st.Route.Len(),
		Phase: st.Phase,
	})
	return nil
}

// tick plays route point i. Position writes are best-effort unless
// HaltOnPersistError is set; milestone status writes are always fatal.
func (s *SimulationService) tick(ctx context.Context, run *Run, i int) error {
	txn := s.nrApp.StartTransaction("simulation/tick")
	defer txn.End()
	ctx = newrelic.NewContext(ctx, txn)

	st := run.Snapshot()
	point := st.Route.Points[i]
	phase := st.Route.PhaseAt(i)
	log := s.runLogger(run).WithField("step", i)

	txn.AddAttribute("order_id", st.OrderID)
	txn.AddAttribute("step", i)

	if err := s.persistPosition(ctx, st, point); err != nil {
		txn.NoticeError(err)
		n := run.recordFailure()
		log.WithError(err).WithField("failures", n).Warn("position write failed")
		if s.cfg.HaltOnPersistError {
			return err
		}
	}

	s.emit(ctx, run, domain.Event{
		Type:     domain.EventDronePosition,
		Step:     i,
		Total:    st.Route.Len(),
		Phase:    phase,
		Position: &point,
	})

	if status, ok := run.milestones[i]; ok {
		err := s.persist(ctx, func(ctx context.Context) error {
			return s.orders.UpdateStatus(ctx, st.OrderID, status)
		})
		if err != nil {
			txn.NoticeError(err)
			return fmt.Errorf("update order status to %s: %w", status, err)
		}

		log.WithField("status", status).Info("order status changed")
		s.emit(ctx, run, domain.Event{
			Type:   domain.EventOrderStatus,
			Step:   i,
			Total:  st.Route.Len(),
			Phase:  phase,
			Status: status,
		})
	}

	run.advance(i+1, phase)
	return nil
}

func (s *SimulationService) persistPosition(ctx context.Context, st domain.SimulationState, point domain.Waypoint) error {
	var errs []error
	if st.DroneID != "" {
		err := s.persist(ctx, func(ctx context.Context) error {
			return s.drones.UpdateLocation(ctx, st.DroneID, point)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("drone location: %w", err))
		}
	}
	err := s.persist(ctx, func(ctx context.Context) error {
		return s.orders.UpdateDroneLocation(ctx, st.OrderID, point)
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("order drone location: %w", err))
	}
	return errors.Join(errs...)
}

// persist runs a write with a per-attempt timeout, retrying transient
// failures. The returned error wraps ErrPersistenceFailure.
func (s *SimulationService) persist(ctx context.Context, write func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.cfg.PersistRetries; attempt++ {
		if attempt > 0 && s.cfg.RetryBackoff > 0 {
			timer := time.NewTimer(s.cfg.RetryBackoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w: %w", ErrPersistenceFailure, ctx.Err())
			case <-timer.C:
			}
		}

		writeCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.cfg.PersistTimeout > 0 {
			writeCtx, cancel = context.WithTimeout(ctx, s.cfg.PersistTimeout)
		}
		err = write(writeCtx)
		cancel()

		if err == nil {
			return nil
		}
		// A missing record will not appear on retry.
		if errors.Is(err, repository.ErrNotFound) || ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
}

func (s *SimulationService) complete(ctx context.Context, run *Run) {
	st := run.Snapshot()
	log := s.runLogger(run)

	status := domain.DroneStatusFree
	if run.failureCount() > 0 {
		status = domain.DroneStatusError
	}

	if st.DroneID != "" {
		final := st.Route.Points[st.Route.Len()-1]
		if err := s.persist(ctx, func(ctx context.Context) error {
			return s.drones.UpdateLocation(ctx, st.DroneID, final)
		}); err != nil {
			log.WithError(err).Warn("final drone location write failed")
			status = domain.DroneStatusError
		}
		if err := s.releaseDrone(ctx, st.DroneID, status); err != nil {
			log.WithError(err).Error("failed to release drone")
		}
	}

	run.terminate(domain.OutcomeCompleted, nil)
	log.WithFields(logrus.Fields{
		"drone_status": status,
		"failures":     run.failureCount(),
	}).Info("simulation completed")

	s.emit(ctx, run, domain.Event{
		Type:   domain.EventDroneDone,
		Step:   st.Route.Len() - 1,
		Total:  st.Route.Len(),
		Phase:  st.Phase,
		Status: domain.OrderStatusDelivered,
	})
}

// interrupted ends a run whose context is done, as a timeout when the max
// duration elapsed and as a cancellation otherwise.
func (s *SimulationService) interrupted(ctx context.Context, run *Run) {
	work := context.WithoutCancel(ctx)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.fail(work, run, fmt.Errorf("%w after %s", ErrSimulationTimeout, s.cfg.MaxDuration))
		return
	}
	s.cancelled(work, run, ctx.Err())
}

// cancelled ends a stopped run. The drone goes back to free unless a write
// failed earlier in the run.
func (s *SimulationService) cancelled(ctx context.Context, run *Run, cause error) {
	st := run.Snapshot()
	log := s.runLogger(run).WithField("step", st.Cursor)

	status := domain.DroneStatusFree
	if run.failureCount() > 0 {
		status = domain.DroneStatusError
	}
	if st.DroneID != "" {
		if err := s.releaseDrone(ctx, st.DroneID, status); err != nil {
			log.WithError(err).Error("failed to release drone")
		}
	}

	run.terminate(domain.OutcomeCancelled, cause)
	log.WithFields(logrus.Fields{
		"drone_status": status,
		"failures":     run.failureCount(),
	}).Info("simulation cancelled")

	s.emit(ctx, run, domain.Event{
		Type:  domain.EventDroneCancelled,
		Step:  st.Cursor,
		Total: st.Route.Len(),
		Phase: st.Phase,
	})
}

// fail ends a run that timed out or hit a fatal error.
func (s *SimulationService) fail(ctx context.Context, run *Run, cause error) {
	st := run.Snapshot()
	log := s.runLogger(run).WithField("step", st.Cursor)

	if st.DroneID != "" {
		if err := s.releaseDrone(ctx, st.DroneID, domain.DroneStatusError); err != nil {
			log.WithError(err).Error("failed to mark drone as errored")
		}
	}
	run.terminate(domain.OutcomeFailed, cause)
	log.WithError(cause).Error("simulation failed")

	s.emit(ctx, run, domain.Event{
		Type:  domain.EventDroneError,
		Step:  st.Cursor,
		Total: st.Route.Len(),
		Phase: st.Phase,
		Error: cause.Error(),
	})
}

func (s *SimulationService) releaseDrone(ctx context.Context, droneID string, status domain.DroneStatus) error {
	return s.persist(ctx, func(ctx context.Context) error {
		return s.drones.UpdateStatus(ctx, droneID, status, false)
	})
}

func (s *SimulationService) finish(run *Run) {
	s.registry.Release(run, run.keys...)
	if run.unlock != nil {
		run.unlock()
	}
	if s.lock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, key := range run.keys {
			if err := s.lock.Release(ctx, key, run.state.RunID); err != nil {
				s.runLogger(run).WithError(err).Warn("failed to release simulation lock")
			}
		}
		cancel()
	}
	run.cancel()
	close(run.done)
}

// emit stamps and publishes an event. Broadcast failures never stop playback.
func (s *SimulationService) emit(ctx context.Context, run *Run, evt domain.Event) {
	st := run.Snapshot()
	evt.ID = uuid.New().String()
	evt.Room = domain.OrderRoom(st.OrderID)
	evt.OrderID = st.OrderID
	evt.DroneID = st.DroneID
	evt.Timestamp = time.Now()

	if err := s.sink.Publish(ctx, evt); err != nil {
		s.runLogger(run).WithError(err).WithField("event", evt.Type).Warn("event broadcast failed")
	}
}

func (s *SimulationService) runLogger(run *Run) logrus.FieldLogger {
	return s.log.WithFields(logrus.Fields{
		"run_id":   run.state.RunID,
		"order_id": run.state.OrderID,
		"drone_id": run.state.DroneID,
	})
}

// milestones maps route indices to the order status written there.
func milestones(route *domain.Route, customerArrival domain.OrderStatus) map[int]domain.OrderStatus {
	m := map[int]domain.OrderStatus{0: domain.OrderStatusShippingToRestaurant}
	if len(route.Legs) > 1 {
		m[route.Legs[0].End] = domain.OrderStatusShippingToCustomer
	}
	if customerArrival != "" && len(route.Legs) > 2 {
		m[route.Legs[1].End] = customerArrival
	}
	m[route.Len()-1] = domain.OrderStatusDelivered
	return m
}

func isValidWaypoint(w domain.Waypoint) bool {
	return isValidLatitude(w.Lat) && isValidLongitude(w.Lng)
}

func isValidLatitude(lat float64) bool {
	return lat >= -90 && lat <= 90
}

func isValidLongitude(lng float64) bool {
	return lng >= -180 && lng <= 180
}
