package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"dronesim/internal/domain"
	"dronesim/internal/repository"
)

// DroneRepository is a PostgreSQL implementation of repository.DroneRepository.
type DroneRepository struct {
	q Querier
}

// NewDroneRepository creates a new PostgreSQL drone repository.
func NewDroneRepository(db *sql.DB) *DroneRepository {
	return &DroneRepository{q: db}
}

const droneColumns = `id, COALESCE(name, ''), status, lat, lng, home_lat, home_lng, is_simulating`

// Create adds a new drone.
func (r *DroneRepository) Create(ctx context.Context, drone *domain.Drone) error {
	query := `
		INSERT INTO drones (id, name, status, lat, lng, home_lat, home_lng, is_simulating)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.q.ExecContext(ctx, query,
		drone.ID,
		drone.Name,
		drone.Status,
		drone.Location.Lat,
		drone.Location.Lng,
		drone.Home.Lat,
		drone.Home.Lng,
		drone.IsSimulating,
	)
	return err
}

// GetByID retrieves a drone by ID.
func (r *DroneRepository) GetByID(ctx context.Context, id string) (*domain.Drone, error) {
	query := `SELECT ` + droneColumns + ` FROM drones WHERE id = $1`

	drone, err := scanDrone(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return drone, nil
}

// GetAll retrieves all drones.
func (r *DroneRepository) GetAll(ctx context.Context) ([]*domain.Drone, error) {
	query := `SELECT ` + droneColumns + ` FROM drones ORDER BY id`
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drones []*domain.Drone
	for rows.Next() {
		drone, err := scanDrone(rows)
		if err != nil {
			return nil, err
		}
		drones = append(drones, drone)
	}
	return drones, rows.Err()
}

// FindAvailable returns a free drone that is not simulating and not in exclude.
func (r *DroneRepository) FindAvailable(ctx context.Context, exclude []string) (*domain.Drone, error) {
	query := `SELECT ` + droneColumns + ` FROM drones
		WHERE status = $1 AND is_simulating = FALSE AND NOT (id = ANY($2))
		ORDER BY id LIMIT 1`

	if exclude == nil {
		exclude = []string{}
	}
	drone, err := scanDrone(r.q.QueryRowContext(ctx, query, domain.DroneStatusFree, pq.Array(exclude)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return drone, nil
}

// UpdateLocation updates the current position of a drone.
func (r *DroneRepository) UpdateLocation(ctx context.Context, id string, location domain.Waypoint) error {
	query := `UPDATE drones SET lat = $1, lng = $2 WHERE id = $3`
	return r.exec(ctx, query, location.Lat, location.Lng, id)
}

// UpdateStatus updates the status and simulating flag of a drone.
func (r *DroneRepository) UpdateStatus(ctx context.Context, id string, status domain.DroneStatus, isSimulating bool) error {
	query := `UPDATE drones SET status = $1, is_simulating = $2 WHERE id = $3`
	return r.exec(ctx, query, status, isSimulating, id)
}

func (r *DroneRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func scanDrone(row rowScanner) (*domain.Drone, error) {
	var drone domain.Drone
	err := row.Scan(
		&drone.ID,
		&drone.Name,
		&drone.Status,
		&drone.Location.Lat,
		&drone.Location.Lng,
		&drone.Home.Lat,
		&drone.Home.Lng,
		&drone.IsSimulating,
	)
	if err != nil {
		return nil, err
	}
	return &drone, nil
}

// Ensure DroneRepository implements repository.DroneRepository.
var _ repository.DroneRepository = (*DroneRepository)(nil)
