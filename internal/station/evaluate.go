package station

import (
	"fmt"
	"log"

	"github.com/chrisdamba/roadtraffic/internal/estimate"
	"github.com/chrisdamba/roadtraffic/internal/process"
)

// Derive fits a triangular fundamental diagram with the given free flow
// speed to the aggregated data.
func (t *TMS) Derive(freeFlowSpeed float64) (process.Triangular, error) {
	if t.Agg == nil {
		return process.Triangular{}, ErrNotAggregated
	}
	tri, err := process.DeriveTriangular(process.PointsFromAggregated(t.Agg.Records), freeFlowSpeed)
	if err != nil {
		return process.Triangular{}, fmt.Errorf("TMS %d: %w", t.ID, err)
	}
	t.Derived = &tri
	log.Printf("TMS %d: derived diagram capacity=%.1f critical density=%.2f jam density=%.2f rmse=%.2f",
		t.ID, tri.Capacity, tri.CriticalDensity, tri.JamDensity, tri.RMSE)
	return tri, nil
}

// Evaluation compares the derived diagram with a fitted frontier on the
// station's own aggregates and on those of another period.
type Evaluation struct {
	Key   estimate.Key
	Own   process.Comparison
	Other process.Comparison
}

// Evaluate scores the derived diagram and the model under key against
// the aggregates of t and of other. The model is taken from the bagged
// data set when there is one.
func (t *TMS) Evaluate(other *TMS, key estimate.Key) (Evaluation, error) {
	if t.Derived == nil {
		return Evaluation{}, ErrNotDerived
	}
	if t.Agg == nil || other.Agg == nil {
		return Evaluation{}, ErrNotAggregated
	}
	m, err := t.model(key)
	if err != nil {
		return Evaluation{}, err
	}

	ev := Evaluation{Key: key}
	ev.Own, err = process.Compare(process.PointsFromAggregated(t.Agg.Records), *t.Derived, m.Alpha, m.Beta)
	if err != nil {
		return Evaluation{}, fmt.Errorf("TMS %d: %w", t.ID, err)
	}
	ev.Other, err = process.Compare(process.PointsFromAggregated(other.Agg.Records), *t.Derived, m.Alpha, m.Beta)
	if err != nil {
		return Evaluation{}, fmt.Errorf("TMS %d other period: %w", other.ID, err)
	}
	return ev, nil
}

func (t *TMS) model(key estimate.Key) (*estimate.Model, error) {
	if t.Bag != nil {
		if m, err := t.Bag.Models.Get(key); err == nil {
			return m, nil
		}
	}
	return t.Agg.Models.Get(key)
}
