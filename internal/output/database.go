package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/chrisdamba/roadtraffic/internal/models"
	"github.com/chrisdamba/roadtraffic/internal/repositories"
)

const aggregatedBatchSize = 1000

// DatabaseOutput stores aggregates and model summaries through the
// repositories. Aggregates are written in batches; other topics are
// skipped.
type DatabaseOutput struct {
	ctx       context.Context
	aggRepo   repositories.AggregatedRepository
	modelRepo repositories.ModelRepository
	closer    func() error

	mu      sync.Mutex
	pending []models.AggregatedRecord
	skipped map[string]bool
}

func NewDatabaseOutput(ctx context.Context, aggRepo repositories.AggregatedRepository, modelRepo repositories.ModelRepository, closer func() error) *DatabaseOutput {
	return &DatabaseOutput{
		ctx:       ctx,
		aggRepo:   aggRepo,
		modelRepo: modelRepo,
		closer:    closer,
		skipped:   make(map[string]bool),
	}
}

func (d *DatabaseOutput) WriteMessage(topic string, msg []byte) error {
	switch topic {
	case models.TopicAggregated:
		var m AggregatedMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			return fmt.Errorf("failed to decode %s message: %w", topic, err)
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		d.pending = append(d.pending, m.AggregatedRecord)
		if len(d.pending) >= aggregatedBatchSize {
			return d.flush()
		}
		return nil
	case models.TopicEstimates:
		var m ModelMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			return fmt.Errorf("failed to decode %s message: %w", topic, err)
		}
		if err := d.modelRepo.Create(d.ctx, &m.ModelRecord); err != nil {
			return fmt.Errorf("failed to store model %s: %w", m.ID, err)
		}
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.skipped[topic] {
		d.skipped[topic] = true
		log.Printf("Database output does not store topic %s, skipping", topic)
	}
	return nil
}

// flush must be called with mu held.
func (d *DatabaseOutput) flush() error {
	if len(d.pending) == 0 {
		return nil
	}
	if err := d.aggRepo.BulkCreate(d.ctx, d.pending); err != nil {
		return fmt.Errorf("failed to store %d aggregated records: %w", len(d.pending), err)
	}
	d.pending = d.pending[:0]
	return nil
}

func (d *DatabaseOutput) Close() error {
	d.mu.Lock()
	err := d.flush()
	d.mu.Unlock()
	if d.closer != nil {
		err = errors.Join(err, d.closer())
	}
	return err
}
