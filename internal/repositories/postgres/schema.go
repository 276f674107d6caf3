package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chrisdamba/roadtraffic/internal/models"
	"github.com/chrisdamba/roadtraffic/internal/repositories"
)

var (
	_ repositories.AggregatedRepository = (*AggregatedRepository)(nil)
	_ repositories.ModelRepository      = (*ModelRepository)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS aggregated_records (
    station_id  INTEGER NOT NULL,
    date        DATE NOT NULL,
    bucket      INTEGER NOT NULL,
    direction   INTEGER NOT NULL,
    lane        INTEGER NOT NULL DEFAULT 0,
    smspeed     DOUBLE PRECISION,
    count       INTEGER,
    car_count   INTEGER,
    bus_count   INTEGER,
    truck_count INTEGER,
    flow        DOUBLE PRECISION,
    cars        DOUBLE PRECISION,
    buses       DOUBLE PRECISION,
    trucks      DOUBLE PRECISION,
    density     DOUBLE PRECISION,
    seconds     DOUBLE PRECISION,
    time_label  TEXT,
    PRIMARY KEY (station_id, date, bucket, direction, lane)
);

CREATE TABLE IF NOT EXISTS model_estimates (
    id           TEXT PRIMARY KEY,
    run_id       TEXT NOT NULL,
    station_id   INTEGER NOT NULL,
    data_set     TEXT,
    model_type   TEXT,
    quantile     TEXT,
    penalty      TEXT,
    eta          DOUBLE PRECISION,
    context      TEXT,
    solver       TEXT,
    status       TEXT,
    objective    DOUBLE PRECISION,
    observations INTEGER,
    segments     INTEGER,
    lambda       DOUBLE PRECISION,
    elapsed_ms   BIGINT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS model_estimates_run_id ON model_estimates (run_id);
`

// NewPool connects to the database and creates the tables.
func NewPool(ctx context.Context, cfg models.DatabaseConfig) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error creating schema: %w", err)
	}
	return pool, nil
}
