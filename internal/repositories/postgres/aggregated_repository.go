package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chrisdamba/roadtraffic/internal/models"
)

var aggregatedColumns = []string{
	"station_id", "date", "bucket", "direction", "lane",
	"smspeed", "count", "car_count", "bus_count", "truck_count",
	"flow", "cars", "buses", "trucks", "density", "seconds", "time_label",
}

type AggregatedRepository struct {
	pool *pgxpool.Pool
}

func NewAggregatedRepository(pool *pgxpool.Pool) *AggregatedRepository {
	return &AggregatedRepository{pool: pool}
}

// BulkCreate copies the records in one COPY statement.
func (r *AggregatedRepository) BulkCreate(ctx context.Context, records []models.AggregatedRecord) error {
	if len(records) == 0 {
		return nil
	}
	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"aggregated_records"},
		aggregatedColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			a := records[i]
			return []any{
				a.StationID, a.Date, a.Bucket, a.Direction, a.Lane,
				a.SpaceMeanSpeed, a.Count, a.CarCount, a.BusCount, a.TruckCount,
				a.Flow, a.Cars, a.Buses, a.Trucks, a.Density, a.Seconds, a.Time,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy aggregated records: %w", err)
	}
	if int(n) != len(records) {
		return fmt.Errorf("copied %d of %d aggregated records", n, len(records))
	}
	return nil
}

func (r *AggregatedRepository) GetByStation(ctx context.Context, stationID int) ([]models.AggregatedRecord, error) {
	query := `
        SELECT
            station_id, date, bucket, direction, lane,
            smspeed, count, car_count, bus_count, truck_count,
            flow, cars, buses, trucks, density, seconds, time_label
        FROM aggregated_records
        WHERE station_id = $1
        ORDER BY date, bucket, direction, lane`

	rows, err := r.pool.Query(ctx, query, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AggregatedRecord
	for rows.Next() {
		var a models.AggregatedRecord
		err := rows.Scan(
			&a.StationID, &a.Date, &a.Bucket, &a.Direction, &a.Lane,
			&a.SpaceMeanSpeed, &a.Count, &a.CarCount, &a.BusCount, &a.TruckCount,
			&a.Flow, &a.Cars, &a.Buses, &a.Trucks, &a.Density, &a.Seconds, &a.Time,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AggregatedRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM aggregated_records").Scan(&count)
	return count, err
}

func (r *AggregatedRepository) DeleteAll(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, "TRUNCATE TABLE aggregated_records")
	return err
}
