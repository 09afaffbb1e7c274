package domain

import "time"

// SimulationOutcome is the terminal result of a simulation run.
type SimulationOutcome string

const (
	OutcomeRunning   SimulationOutcome = "running"
	OutcomeCompleted SimulationOutcome = "completed"
	OutcomeFailed    SimulationOutcome = "failed"
	OutcomeCancelled SimulationOutcome = "cancelled"
)

// SimulationState is the playback state of one delivery.
// Cursor is the index of the next point to play, 0 <= Cursor <= Route.Len().
type SimulationState struct {
	RunID     string
	OrderID   string
	DroneID   string // empty when the order is simulated without a drone record
	Route     *Route
	Cursor    int
	Phase     Phase
	Running   bool
	Outcome   SimulationOutcome
	StartedAt time.Time
}
