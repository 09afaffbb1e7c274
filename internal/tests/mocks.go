package tests

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"dronesim/internal/domain"
	"dronesim/internal/redis"
	"dronesim/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK ORDER REPOSITORY
// ──────────────────────────────────────────────

// MockOrderRepository is a mock implementation of OrderRepository.
type MockOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order

	statusHistory   map[string][]domain.OrderStatus
	locationHistory map[string][]domain.Waypoint

	// Counters for verification
	CreateCallCount              int32
	UpdateStatusCallCount        int32
	UpdateDroneLocationCallCount int32
	SaveRouteCallCount           int32

	// Error injection
	CreateError    error
	SaveRouteError error

	// UpdateStatusHook, when set, is called with the write context, the
	// 1-based call number and the requested status; a non-nil result fails
	// the call.
	UpdateStatusHook func(ctx context.Context, call int32, status domain.OrderStatus) error

	// UpdateDroneLocationHook, when set, is called with the write context and
	// the 1-based call number; a non-nil result fails the call.
	UpdateDroneLocationHook func(ctx context.Context, call int32, location domain.Waypoint) error
}

// NewMockOrderRepository creates a new mock order repository.
func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders:          make(map[string]*domain.Order),
		statusHistory:   make(map[string][]domain.OrderStatus),
		locationHistory: make(map[string][]domain.Waypoint),
	}
}

// AddOrder adds an order to the mock repository.
func (m *MockOrderRepository) AddOrder(order *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
}

func (m *MockOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *order
	m.orders[order.ID] = &copy
	return nil
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *order
	return &copy, nil
}

func (m *MockOrderRepository) GetAll(ctx context.Context) ([]*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		copy := *o
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockOrderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	call := atomic.AddInt32(&m.UpdateStatusCallCount, 1)
	if m.UpdateStatusHook != nil {
		if err := m.UpdateStatusHook(ctx, call, status); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	order.Status = status
	order.UpdatedAt = time.Now()
	m.statusHistory[id] = append(m.statusHistory[id], status)
	return nil
}

func (m *MockOrderRepository) UpdateDroneLocation(ctx context.Context, id string, location domain.Waypoint) error {
	call := atomic.AddInt32(&m.UpdateDroneLocationCallCount, 1)
	if m.UpdateDroneLocationHook != nil {
		if err := m.UpdateDroneLocationHook(ctx, call, location); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	loc := location
	order.DroneLocation = &loc
	m.locationHistory[id] = append(m.locationHistory[id], location)
	return nil
}

func (m *MockOrderRepository) SaveRoute(ctx context.Context, id string, route []domain.Waypoint) error {
	atomic.AddInt32(&m.SaveRouteCallCount, 1)
	if m.SaveRouteError != nil {
		return m.SaveRouteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	order.Route = append([]domain.Waypoint(nil), route...)
	return nil
}

// GetOrder returns order for test assertions.
func (m *MockOrderRepository) GetOrder(id string) *domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	if !ok {
		return nil
	}
	copy := *order
	return &copy
}

// StatusHistory returns every status successfully written for an order.
func (m *MockOrderRepository) StatusHistory(id string) []domain.OrderStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.OrderStatus(nil), m.statusHistory[id]...)
}

// LocationHistory returns every drone location successfully written for an order.
func (m *MockOrderRepository) LocationHistory(id string) []domain.Waypoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Waypoint(nil), m.locationHistory[id]...)
}

// ──────────────────────────────────────────────
// MOCK DRONE REPOSITORY
// ──────────────────────────────────────────────

// MockDroneRepository is a mock implementation of DroneRepository.
type MockDroneRepository struct {
	mu     sync.RWMutex
	drones map[string]*domain.Drone

	// Counters for verification
	CreateCallCount         int32
	FindAvailableCallCount  int32
	UpdateLocationCallCount int32
	UpdateStatusCallCount   int32

	// Error injection
	CreateError         error
	FindAvailableError  error
	UpdateStatusError   error
	UpdateLocationError error

	// UpdateStatusHook, when set, runs before every status write; a non-nil
	// result fails the call.
	UpdateStatusHook func(ctx context.Context, id string, status domain.DroneStatus) error
}

// NewMockDroneRepository creates a new mock drone repository.
func NewMockDroneRepository() *MockDroneRepository {
	return &MockDroneRepository{
		drones: make(map[string]*domain.Drone),
	}
}

// AddDrone adds a drone to the mock repository.
func (m *MockDroneRepository) AddDrone(drone *domain.Drone) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drones[drone.ID] = drone
}

func (m *MockDroneRepository) Create(ctx context.Context, drone *domain.Drone) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *drone
	m.drones[drone.ID] = &copy
	return nil
}

func (m *MockDroneRepository) GetByID(ctx context.Context, id string) (*domain.Drone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	drone, ok := m.drones[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *drone
	return &copy, nil
}

func (m *MockDroneRepository) GetAll(ctx context.Context) ([]*domain.Drone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Drone, 0, len(m.drones))
	for _, d := range m.drones {
		copy := *d
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockDroneRepository) FindAvailable(ctx context.Context, exclude []string) (*domain.Drone, error) {
	atomic.AddInt32(&m.FindAvailableCallCount, 1)
	if m.FindAvailableError != nil {
		return nil, m.FindAvailableError
	}
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	drones, _ := m.GetAll(ctx)
	for _, d := range drones {
		if d.Status == domain.DroneStatusFree && !d.IsSimulating && !skip[d.ID] {
			return d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockDroneRepository) UpdateLocation(ctx context.Context, id string, location domain.Waypoint) error {
	atomic.AddInt32(&m.UpdateLocationCallCount, 1)
	if m.UpdateLocationError != nil {
		return m.UpdateLocationError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	drone, ok := m.drones[id]
	if !ok {
		return repository.ErrNotFound
	}
	drone.Location = location
	return nil
}

func (m *MockDroneRepository) UpdateStatus(ctx context.Context, id string, status domain.DroneStatus, isSimulating bool) error {
	atomic.AddInt32(&m.UpdateStatusCallCount, 1)
	if m.UpdateStatusError != nil {
		return m.UpdateStatusError
	}
	if m.UpdateStatusHook != nil {
		if err := m.UpdateStatusHook(ctx, id, status); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	drone, ok := m.drones[id]
	if !ok {
		return repository.ErrNotFound
	}
	drone.Status = status
	drone.IsSimulating = isSimulating
	return nil
}

// GetDrone returns drone for test assertions.
func (m *MockDroneRepository) GetDrone(id string) *domain.Drone {
	m.mu.RLock()
	defer m.mu.RUnlock()
	drone, ok := m.drones[id]
	if !ok {
		return nil
	}
	copy := *drone
	return &copy
}

// ──────────────────────────────────────────────
// MOCK LOCATION STORE
// ──────────────────────────────────────────────

// MockLocationStore is a mock implementation of LocationStoreInterface.
type MockLocationStore struct {
	mu        sync.RWMutex
	locations map[string]redis.DroneLocation

	// Counters for verification
	UpdateCallCount int32

	// Error injection
	UpdateError error
}

// NewMockLocationStore creates a new mock location store.
func NewMockLocationStore() *MockLocationStore {
	return &MockLocationStore{
		locations: make(map[string]redis.DroneLocation),
	}
}

func (m *MockLocationStore) UpdateLocation(ctx context.Context, droneID string, lat, lng float64) error {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[droneID] = redis.DroneLocation{DroneID: droneID, Lat: lat, Lng: lng}
	return nil
}

func (m *MockLocationStore) GetLocation(ctx context.Context, droneID string) (*redis.DroneLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[droneID]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func (m *MockLocationStore) RemoveLocation(ctx context.Context, droneID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locations, droneID)
	return nil
}

// HasLocation checks if a drone has a location stored.
func (m *MockLocationStore) HasLocation(droneID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.locations[droneID]
	return ok
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStoreInterface.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]string

	// Counters for verification
	AcquireCallCount int32
	RefreshCallCount int32
	ReleaseCallCount int32

	// Error injection
	AcquireError error
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{
		locks: make(map[string]string),
	}
}

func (m *MockLockStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return false, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[key]; held {
		return false, nil
	}
	m.locks[key] = token
	return true, nil
}

func (m *MockLockStore) Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.RefreshCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks[key] == token, nil
}

func (m *MockLockStore) Release(ctx context.Context, key, token string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] == token {
		delete(m.locks, key)
	}
	return nil
}

// IsLocked checks if a key is locked.
func (m *MockLockStore) IsLocked(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.locks[key]
	return held
}

// Hold marks a key as locked by another instance.
func (m *MockLockStore) Hold(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[key] = "other-instance"
}

// ──────────────────────────────────────────────
// RECORDING EVENT SINK
// ──────────────────────────────────────────────

// RecordingSink records every published event.
type RecordingSink struct {
	mu     sync.Mutex
	events []domain.Event

	// Error injection
	PublishError error
}

// NewRecordingSink creates a new recording sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Publish(ctx context.Context, evt domain.Event) error {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
	return s.PublishError
}

// Events returns a copy of the recorded events.
func (s *RecordingSink) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

// OfType returns the recorded events of one type.
func (s *RecordingSink) OfType(t domain.EventType) []domain.Event {
	var result []domain.Event
	for _, evt := range s.Events() {
		if evt.Type == t {
			result = append(result, evt)
		}
	}
	return result
}
