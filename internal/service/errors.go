package service

import "errors"

var (
	// ErrInvalidRouteSpec is returned when a route has fewer than 2 waypoints
	// or a non-positive step count.
	ErrInvalidRouteSpec = errors.New("invalid route spec")

	// ErrMissingLocationData is returned when restaurant or customer coordinates are absent.
	ErrMissingLocationData = errors.New("missing location data")

	// ErrDuplicateStart is returned when a simulation is already running for the
	// same order. Callers treat it as a no-op, not a failure.
	ErrDuplicateStart = errors.New("simulation already running")

	// ErrDroneBusy is returned when the requested drone is already flying
	// another order. The order itself has not been started.
	ErrDroneBusy = errors.New("drone already simulating another order")

	// ErrPersistenceFailure wraps a failed state write.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrBroadcastFailure wraps a failed event emission.
	ErrBroadcastFailure = errors.New("broadcast failure")

	// ErrSimulationTimeout is returned when a run exceeds its maximum duration.
	ErrSimulationTimeout = errors.New("simulation exceeded max duration")

	// ErrSimulationNotFound is returned when no simulation is running for an order.
	ErrSimulationNotFound = errors.New("simulation not found")

	// ErrInvalidOrderID is returned when order ID is empty.
	ErrInvalidOrderID = errors.New("invalid order id")

	// ErrInvalidDroneID is returned when drone ID is empty.
	ErrInvalidDroneID = errors.New("invalid drone id")

	// ErrInvalidOrderStatus is returned when an order status is unknown.
	ErrInvalidOrderStatus = errors.New("invalid order status")

	// ErrOrderClosed is returned when changing an order that is delivered or canceled.
	ErrOrderClosed = errors.New("order already closed")

	// ErrInvalidLocation is returned when location coordinates are invalid.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidSignature is returned when a payment callback signature does not match.
	ErrInvalidSignature = errors.New("invalid payment signature")
)
