// Package sqlite stores aggregates and model summaries in a local SQLite
// file. Times are kept as unix seconds.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

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
	date        INTEGER NOT NULL,
	bucket      INTEGER NOT NULL,
	direction   INTEGER NOT NULL,
	lane        INTEGER NOT NULL DEFAULT 0,
	smspeed     DOUBLE,
	count       INTEGER,
	car_count   INTEGER,
	bus_count   INTEGER,
	truck_count INTEGER,
	flow        DOUBLE,
	cars        DOUBLE,
	buses       DOUBLE,
	trucks      DOUBLE,
	density     DOUBLE,
	seconds     DOUBLE,
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
	eta          DOUBLE,
	context      TEXT,
	solver       TEXT,
	status       TEXT,
	objective    DOUBLE,
	observations INTEGER,
	segments     INTEGER,
	lambda       DOUBLE,
	elapsed_ms   INTEGER,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS model_estimates_run_id ON model_estimates (run_id);
`

// Open opens or creates the database file and its tables.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating schema in %s: %w", path, err)
	}
	return db, nil
}

type AggregatedRepository struct {
	db *sql.DB
}

func NewAggregatedRepository(db *sql.DB) *AggregatedRepository {
	return &AggregatedRepository{db: db}
}

func (r *AggregatedRepository) BulkCreate(ctx context.Context, records []models.AggregatedRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO aggregated_records (
			station_id, date, bucket, direction, lane,
			smspeed, count, car_count, bus_count, truck_count,
			flow, cars, buses, trucks, density, seconds, time_label
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, a := range records {
		_, err = stmt.ExecContext(ctx,
			a.StationID, a.Date.Unix(), a.Bucket, a.Direction, a.Lane,
			a.SpaceMeanSpeed, a.Count, a.CarCount, a.BusCount, a.TruckCount,
			a.Flow, a.Cars, a.Buses, a.Trucks, a.Density, a.Seconds, a.Time,
		)
		if err != nil {
			return fmt.Errorf("failed to insert aggregate %d/%s/%d: %w", a.StationID, a.Time, a.Lane, err)
		}
	}
	return tx.Commit()
}

func (r *AggregatedRepository) GetByStation(ctx context.Context, stationID int) ([]models.AggregatedRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			station_id, date, bucket, direction, lane,
			smspeed, count, car_count, bus_count, truck_count,
			flow, cars, buses, trucks, density, seconds, time_label
		FROM aggregated_records
		WHERE station_id = ?
		ORDER BY date, bucket, direction, lane`, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AggregatedRecord
	for rows.Next() {
		var a models.AggregatedRecord
		var date int64
		err := rows.Scan(
			&a.StationID, &date, &a.Bucket, &a.Direction, &a.Lane,
			&a.SpaceMeanSpeed, &a.Count, &a.CarCount, &a.BusCount, &a.TruckCount,
			&a.Flow, &a.Cars, &a.Buses, &a.Trucks, &a.Density, &a.Seconds, &a.Time,
		)
		if err != nil {
			return nil, err
		}
		a.Date = time.Unix(date, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AggregatedRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM aggregated_records").Scan(&count)
	return count, err
}

func (r *AggregatedRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM aggregated_records")
	return err
}

type ModelRepository struct {
	db *sql.DB
}

func NewModelRepository(db *sql.DB) *ModelRepository {
	return &ModelRepository{db: db}
}

func (r *ModelRepository) Create(ctx context.Context, m *models.ModelRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO model_estimates (
			id, run_id, station_id, data_set, model_type, quantile, penalty,
			eta, context, solver, status, objective, observations, segments,
			lambda, elapsed_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.RunID, m.StationID, m.DataSet, m.ModelType, m.Quantile, m.Penalty,
		m.Eta, m.Context, m.Solver, m.Status, m.Objective, m.Observations, m.Segments,
		m.Lambda, m.ElapsedMS, m.CreatedAt.Unix(),
	)
	return err
}

func (r *ModelRepository) GetByRun(ctx context.Context, runID string) ([]*models.ModelRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id, run_id, station_id, data_set, model_type, quantile, penalty,
			eta, context, solver, status, objective, observations, segments,
			lambda, elapsed_ms, created_at
		FROM model_estimates
		WHERE run_id = ?
		ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ModelRecord
	for rows.Next() {
		m := &models.ModelRecord{}
		var created int64
		err := rows.Scan(
			&m.ID, &m.RunID, &m.StationID, &m.DataSet, &m.ModelType, &m.Quantile, &m.Penalty,
			&m.Eta, &m.Context, &m.Solver, &m.Status, &m.Objective, &m.Observations, &m.Segments,
			&m.Lambda, &m.ElapsedMS, &created,
		)
		if err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *ModelRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM model_estimates").Scan(&count)
	return count, err
}

func (r *ModelRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM model_estimates")
	return err
}
