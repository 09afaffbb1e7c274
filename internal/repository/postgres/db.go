package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is an interface satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Ensure interfaces are satisfied.
var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id              TEXT PRIMARY KEY,
		code            TEXT NOT NULL,
		restaurant_lat  DOUBLE PRECISION,
		restaurant_lng  DOUBLE PRECISION,
		customer_lat    DOUBLE PRECISION,
		customer_lng    DOUBLE PRECISION,
		status          TEXT NOT NULL,
		drone_lat       DOUBLE PRECISION,
		drone_lng       DOUBLE PRECISION,
		route           JSONB,
		total_amount    DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS drones (
		id            TEXT PRIMARY KEY,
		name          TEXT,
		status        TEXT NOT NULL,
		lat           DOUBLE PRECISION NOT NULL,
		lng           DOUBLE PRECISION NOT NULL,
		home_lat      DOUBLE PRECISION NOT NULL,
		home_lng      DOUBLE PRECISION NOT NULL,
		is_simulating BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_drones_available ON drones (status) WHERE is_simulating = FALSE`,
}

// EnsureSchema creates the tables the service needs if they do not exist.
func EnsureSchema(ctx context.Context, q Querier) error {
	for _, stmt := range schema {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
