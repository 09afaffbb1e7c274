package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"dronesim/internal/domain"
	"dronesim/internal/repository"
)

// OrderRepository is a PostgreSQL implementation of repository.OrderRepository.
type OrderRepository struct {
	q Querier
}

// NewOrderRepository creates a new PostgreSQL order repository.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{q: db}
}

const orderColumns = `id, code, restaurant_lat, restaurant_lng, customer_lat, customer_lng, status, drone_lat, drone_lng, route, total_amount, created_at, updated_at`

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (id, code, restaurant_lat, restaurant_lng, customer_lat, customer_lng, status, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	restLat, restLng := nullWaypoint(order.RestaurantLocation)
	custLat, custLng := nullWaypoint(order.CustomerLocation)

	_, err := r.q.ExecContext(ctx, query,
		order.ID,
		order.Code,
		restLat,
		restLng,
		custLat,
		custLng,
		order.Status,
		order.TotalAmount,
		order.CreatedAt,
		order.UpdatedAt,
	)

	return err
}

// GetByID retrieves an order by ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return order, nil
}

// GetAll retrieves the most recent orders.
func (r *OrderRepository) GetAll(ctx context.Context) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC LIMIT 100`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// UpdateStatus updates the status of an order.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	query := `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`
	return r.exec(ctx, query, status, time.Now(), id)
}

// UpdateDroneLocation records the last known drone position for an order.
func (r *OrderRepository) UpdateDroneLocation(ctx context.Context, id string, location domain.Waypoint) error {
	query := `UPDATE orders SET drone_lat = $1, drone_lng = $2, updated_at = $3 WHERE id = $4`
	return r.exec(ctx, query, location.Lat, location.Lng, time.Now(), id)
}

// SaveRoute stores the planned route of an order as JSON.
func (r *OrderRepository) SaveRoute(ctx context.Context, id string, route []domain.Waypoint) error {
	data, err := json.Marshal(route)
	if err != nil {
		return err
	}

	query := `UPDATE orders SET route = $1, updated_at = $2 WHERE id = $3`
	return r.exec(ctx, query, data, time.Now(), id)
}

func (r *OrderRepository) exec(ctx context.Context, query string, args ...any) error {
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

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var restLat, restLng, custLat, custLng, droneLat, droneLng sql.NullFloat64
	var route []byte

	err := row.Scan(
		&order.ID,
		&order.Code,
		&restLat,
		&restLng,
		&custLat,
		&custLng,
		&order.Status,
		&droneLat,
		&droneLng,
		&route,
		&order.TotalAmount,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.RestaurantLocation = waypointFromNull(restLat, restLng)
	order.CustomerLocation = waypointFromNull(custLat, custLng)
	order.DroneLocation = waypointFromNull(droneLat, droneLng)

	if len(route) > 0 {
		if err := json.Unmarshal(route, &order.Route); err != nil {
			return nil, err
		}
	}

	return &order, nil
}

func nullWaypoint(w *domain.Waypoint) (sql.NullFloat64, sql.NullFloat64) {
	if w == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: w.Lat, Valid: true}, sql.NullFloat64{Float64: w.Lng, Valid: true}
}

func waypointFromNull(lat, lng sql.NullFloat64) *domain.Waypoint {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &domain.Waypoint{Lat: lat.Float64, Lng: lng.Float64}
}

// Ensure OrderRepository implements repository.OrderRepository.
var _ repository.OrderRepository = (*OrderRepository)(nil)
