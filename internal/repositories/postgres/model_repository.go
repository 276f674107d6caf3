package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chrisdamba/roadtraffic/internal/models"
)

type ModelRepository struct {
	pool *pgxpool.Pool
}

func NewModelRepository(pool *pgxpool.Pool) *ModelRepository {
	return &ModelRepository{pool: pool}
}

func (r *ModelRepository) Create(ctx context.Context, m *models.ModelRecord) error {
	query := `
        INSERT INTO model_estimates (
            id, run_id, station_id, data_set, model_type, quantile, penalty,
            eta, context, solver, status, objective, observations, segments,
            lambda, elapsed_ms, created_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
        )`
	_, err := r.pool.Exec(ctx, query,
		m.ID,
		m.RunID,
		m.StationID,
		m.DataSet,
		m.ModelType,
		m.Quantile,
		m.Penalty,
		m.Eta,
		m.Context,
		m.Solver,
		m.Status,
		m.Objective,
		m.Observations,
		m.Segments,
		m.Lambda,
		m.ElapsedMS,
		m.CreatedAt,
	)
	return err
}

func (r *ModelRepository) GetByRun(ctx context.Context, runID string) ([]*models.ModelRecord, error) {
	query := `
        SELECT
            id, run_id, station_id, data_set, model_type, quantile, penalty,
            eta, context, solver, status, objective, observations, segments,
            lambda, elapsed_ms, created_at
        FROM model_estimates
        WHERE run_id = $1
        ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ModelRecord
	for rows.Next() {
		m := &models.ModelRecord{}
		err := rows.Scan(
			&m.ID,
			&m.RunID,
			&m.StationID,
			&m.DataSet,
			&m.ModelType,
			&m.Quantile,
			&m.Penalty,
			&m.Eta,
			&m.Context,
			&m.Solver,
			&m.Status,
			&m.Objective,
			&m.Observations,
			&m.Segments,
			&m.Lambda,
			&m.ElapsedMS,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *ModelRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM model_estimates").Scan(&count)
	return count, err
}

func (r *ModelRepository) DeleteAll(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, "TRUNCATE TABLE model_estimates")
	return err
}
