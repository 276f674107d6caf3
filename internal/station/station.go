// Package station ties the pipeline together for one traffic measurement
// station: raw passages, their aggregates, bags and rolling windows, and
// the frontier models estimated on them.
package station

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/chrisdamba/roadtraffic/internal/models"
	"github.com/chrisdamba/roadtraffic/internal/process"
)

var (
	ErrNoRawData           = errors.New("no raw data is available, load it first")
	ErrNotAggregated       = errors.New("no aggregated data is available, aggregate first")
	ErrNotBagged           = errors.New("no bagged data is available, apply bagging first")
	ErrNotDerived          = errors.New("no derived model, derive it first")
	ErrTooManyObservations = errors.New("data contains too many observations, apply bagging first")
	ErrNoQuantiles         = errors.New("quantiles must be a non-empty list")
)

// Source loads the raw passages of a station for a list of days.
type Source interface {
	ReadManyReports(ctx context.Context, station int, days []models.DayRef) ([]models.RawRecord, error)
}

// TMS is one traffic measurement station observed over a set of days.
type TMS struct {
	ID        int
	Days      []models.DayRef
	Direction int

	Raw     *Raw
	Agg     *Agg
	Bag     *Bag
	Rolling map[string]*Rolling

	Derived *process.Triangular
}

func New(id int, days []models.DayRef, direction int, src Source) *TMS {
	return &TMS{
		ID:        id,
		Days:      days,
		Direction: direction,
		Raw:       &Raw{station: id, days: days, src: src},
		Rolling:   make(map[string]*Rolling),
	}
}

// Load reads the raw data of every day.
func (t *TMS) Load(ctx context.Context) error {
	return t.Raw.Load(ctx)
}

// RawToAgg aggregates the raw passages into buckets of period, across
// the road or per lane.
func (t *TMS) RawToAgg(byLane bool, period time.Duration) error {
	if len(t.Raw.Records) == 0 {
		return ErrNoRawData
	}
	var (
		records []models.AggregatedRecord
		err     error
	)
	if byLane {
		records, err = process.AggregateLane(t.Raw.Records, t.Direction, period)
	} else {
		records, err = process.AggregateRoad(t.Raw.Records, t.Direction, period)
	}
	if err != nil {
		return fmt.Errorf("TMS %d: %w", t.ID, err)
	}
	t.Agg = newAgg(records, period, byLane)
	log.Printf("TMS %d: %d aggregated observations", t.ID, len(records))
	return nil
}

// AggToBag bags the aggregates on a gridDensity x gridFlow grid.
func (t *TMS) AggToBag(gridDensity, gridFlow int) error {
	if t.Agg == nil {
		return ErrNotAggregated
	}
	records, err := process.Bag(t.Agg.Records, gridDensity, gridFlow)
	if err != nil {
		return fmt.Errorf("TMS %d: %w", t.ID, err)
	}
	t.Bag = newBag(records, gridDensity, gridFlow)
	return nil
}

// RawToRolling computes sliding window measures and stores them under
// process.RollingKey(opts).
func (t *TMS) RawToRolling(opts process.RollingOptions) (*Rolling, error) {
	if len(t.Raw.Records) == 0 {
		return nil, ErrNoRawData
	}
	if opts.Direction == 0 {
		opts.Direction = t.Direction
	}
	records, err := process.Rolling(t.Raw.Records, opts)
	if err != nil {
		return nil, fmt.Errorf("TMS %d: %w", t.ID, err)
	}
	r := &Rolling{Key: process.RollingKey(opts), Options: opts, Records: records}
	t.Rolling[r.Key] = r
	return r, nil
}
