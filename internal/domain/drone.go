package domain

// DroneStatus represents the current status of a drone.
type DroneStatus string

const (
	DroneStatusFree  DroneStatus = "free"
	DroneStatusBusy  DroneStatus = "busy"
	DroneStatusError DroneStatus = "error"
)

// Drone represents a delivery drone. Home is the warehouse it departs from
// and returns to.
type Drone struct {
	ID           string
	Name         string
	Status       DroneStatus
	Location     Waypoint
	Home         Waypoint
	IsSimulating bool
}
