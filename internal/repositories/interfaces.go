package repositories

import (
	"context"

	"github.com/chrisdamba/roadtraffic/internal/models"
)

type AggregatedRepository interface {
	BulkCreate(ctx context.Context, records []models.AggregatedRecord) error
	GetByStation(ctx context.Context, stationID int) ([]models.AggregatedRecord, error)
	Count(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context) error
}

type ModelRepository interface {
	Create(ctx context.Context, m *models.ModelRecord) error
	GetByRun(ctx context.Context, runID string) ([]*models.ModelRecord, error)
	Count(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context) error
}
