package output

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/lucsky/cuid"

	"github.com/chrisdamba/roadtraffic/internal/estimate"
	"github.com/chrisdamba/roadtraffic/internal/models"
)

type AggregatedMessage struct {
	Timestamp int64 `json:"timestamp"`
	models.AggregatedRecord
}

type BaggedMessage struct {
	Timestamp int64  `json:"timestamp"`
	RunID     string `json:"run_id"`
	models.BaggedRecord
}

type RollingMessage struct {
	Timestamp int64  `json:"timestamp"`
	Window    string `json:"window"`
	models.RollingRecord
}

type ModelMessage struct {
	Timestamp int64 `json:"timestamp"`
	models.ModelRecord
}

// EstimateRowMessage is one observation with its fitted values. Speeds
// at zero density are written as zero.
type EstimateRowMessage struct {
	Timestamp       int64   `json:"timestamp"`
	RunID           string  `json:"run_id"`
	ModelID         string  `json:"model_id"`
	StationID       int     `json:"station_id"`
	Quantile        string  `json:"quantile"`
	Penalty         string  `json:"penalty"`
	Eta             float64 `json:"eta"`
	Context         string  `json:"context"`
	Density         float64 `json:"density"`
	Flow            float64 `json:"flow"`
	FlowEstimate    float64 `json:"flow_estimate"`
	Speed           float64 `json:"speed"`
	SpeedEstimate   float64 `json:"speed_estimate"`
	ContextValue    float64 `json:"context_value"`
	ContextEstimate float64 `json:"context_estimate"`
}

// Exporter turns pipeline results into messages for one destination.
// Records without a time of their own are stamped with the export time.
type Exporter struct {
	Dest  Destination
	RunID string
	Now   func() time.Time
}

func NewExporter(dest Destination) *Exporter {
	return &Exporter{Dest: dest, RunID: cuid.New(), Now: time.Now}
}

func (e *Exporter) send(topic string, v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", topic, err)
	}
	if err := e.Dest.WriteMessage(topic, msg); err != nil {
		return fmt.Errorf("failed to write %s message: %w", topic, err)
	}
	return nil
}

func (e *Exporter) Aggregated(records []models.AggregatedRecord) error {
	for _, r := range records {
		if err := e.send(models.TopicAggregated, AggregatedMessage{Timestamp: r.Timestamp().Unix(), AggregatedRecord: r}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) Bagged(records []models.BaggedRecord) error {
	ts := e.Now().Unix()
	for _, r := range records {
		if err := e.send(models.TopicBagged, BaggedMessage{Timestamp: ts, RunID: e.RunID, BaggedRecord: r}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) Rolling(window string, records []models.RollingRecord) error {
	for _, r := range records {
		ts := r.Date.Add(time.Duration(r.Start) * time.Second).Unix()
		if err := e.send(models.TopicRolling, RollingMessage{Timestamp: ts, Window: window, RollingRecord: r}); err != nil {
			return err
		}
	}
	return nil
}

// Model writes the summary of m and its fitted values and returns the
// summary.
func (e *Exporter) Model(stationID int, dataSet string, m *estimate.Model) (*models.ModelRecord, error) {
	now := e.Now()
	rec := ModelSummary(e.RunID, stationID, dataSet, m, now)
	if err := e.send(models.TopicEstimates, ModelMessage{Timestamp: now.Unix(), ModelRecord: *rec}); err != nil {
		return nil, err
	}
	for _, row := range m.Estimate() {
		msg := EstimateRowMessage{
			Timestamp:     now.Unix(),
			RunID:         e.RunID,
			ModelID:       rec.ID,
			StationID:     stationID,
			Quantile:      m.Key.Quantile,
			Penalty:       m.Key.Penalty,
			Eta:           m.Key.Eta,
			Context:       m.Key.Context,
			Density:       row.Density,
			Flow:          row.Flow,
			FlowEstimate:  row.FlowEstimate,
			Speed:         finite(row.Speed),
			SpeedEstimate: finite(row.SpeedEstimate),
		}
		if row.Context != nil {
			msg.ContextValue = *row.Context
			msg.ContextEstimate = *row.ContextEstimate
		}
		if err := e.send(models.TopicEstimateRows, msg); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// ModelSummary describes a fitted model for storage.
func ModelSummary(runID string, stationID int, dataSet string, m *estimate.Model, at time.Time) *models.ModelRecord {
	return &models.ModelRecord{
		ID:           cuid.New(),
		RunID:        runID,
		StationID:    stationID,
		DataSet:      dataSet,
		ModelType:    m.Kind,
		Quantile:     m.Key.Quantile,
		Penalty:      m.Key.Penalty,
		Eta:          m.Key.Eta,
		Context:      m.Key.Context,
		Solver:       string(m.Method),
		Status:       m.Status.String(),
		Objective:    finite(m.Objective),
		Observations: len(m.X),
		Segments:     m.Segments(),
		Lambda:       m.Lambda,
		ElapsedMS:    m.Elapsed.Milliseconds(),
		CreatedAt:    at.UTC().Truncate(time.Second),
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
