package station

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chrisdamba/roadtraffic/internal/estimate"
	"github.com/chrisdamba/roadtraffic/internal/models"
	"github.com/chrisdamba/roadtraffic/internal/process"
	"github.com/chrisdamba/roadtraffic/internal/solver"
)

// Raw holds the passages of a station.
type Raw struct {
	Records []models.RawRecord
	Cleaned bool

	station int
	days    []models.DayRef
	src     Source
}

func (r *Raw) Load(ctx context.Context) error {
	if r.src == nil {
		return fmt.Errorf("TMS %d: no data source", r.station)
	}
	records, err := r.src.ReadManyReports(ctx, r.station, r.days)
	if err != nil {
		return fmt.Errorf("TMS %d: %w", r.station, err)
	}
	r.Records = records
	r.Cleaned = false
	return nil
}

// Clean filters the loaded passages in place.
func (r *Raw) Clean(opts process.CleanOptions) error {
	if len(r.Records) == 0 {
		return ErrNoRawData
	}
	before := len(r.Records)
	records, err := process.Clean(r.Records, opts)
	if err != nil {
		return err
	}
	r.Records = records
	r.Cleaned = true
	log.Printf("TMS %d: cleaning kept %d of %d passages", r.station, len(records), before)
	return nil
}

// ModelRequest selects the models EstimateModel fits. Quantiles are used
// by quantile models only.
type ModelRequest struct {
	Kind      string
	Quantiles []float64
	Penalty   string
	Eta       float64
	Solver    solver.Method

	// optional contextual variable, one value per observation
	Context     []float64
	ContextName string
}

// Agg is the aggregated data set of a station.
type Agg struct {
	Records []models.AggregatedRecord
	Period  time.Duration
	ByLane  bool

	// MaxObservations caps the size of unweighted fits.
	MaxObservations int
	Quantiles       []float64
	Models          *estimate.Results
}

func newAgg(records []models.AggregatedRecord, period time.Duration, byLane bool) *Agg {
	return &Agg{
		Records:         records,
		Period:          period,
		ByLane:          byLane,
		MaxObservations: models.DefaultMaxObservations,
		Models:          estimate.NewResults(),
	}
}

func (a *Agg) Density() []float64 {
	out := make([]float64, len(a.Records))
	for i, r := range a.Records {
		out[i] = r.Density
	}
	return out
}

func (a *Agg) Flow() []float64 {
	out := make([]float64, len(a.Records))
	for i, r := range a.Records {
		out[i] = r.Flow
	}
	return out
}

// EstimateModel fits one model per quantile, or a single mean model, on
// the aggregates.
func (a *Agg) EstimateModel(ctx context.Context, req ModelRequest) error {
	if len(a.Records) == 0 {
		return ErrNotAggregated
	}
	if a.MaxObservations > 0 && len(a.Records) > a.MaxObservations {
		return fmt.Errorf("%w: %d observations, at most %d", ErrTooManyObservations, len(a.Records), a.MaxObservations)
	}
	return estimateModels(ctx, a.Density(), a.Flow(), nil, req, a.Models, &a.Quantiles)
}

// Bag is the bagged data set of a station. Fits are weighted by bag size.
type Bag struct {
	Records     []models.BaggedRecord
	GridDensity int
	GridFlow    int

	Quantiles []float64
	Models    *estimate.Results
}

func newBag(records []models.BaggedRecord, gridDensity, gridFlow int) *Bag {
	return &Bag{
		Records:     records,
		GridDensity: gridDensity,
		GridFlow:    gridFlow,
		Models:      estimate.NewResults(),
	}
}

func (b *Bag) Density() []float64 {
	out := make([]float64, len(b.Records))
	for i, r := range b.Records {
		out[i] = r.CentroidDensity
	}
	return out
}

func (b *Bag) Flow() []float64 {
	out := make([]float64, len(b.Records))
	for i, r := range b.Records {
		out[i] = r.CentroidFlow
	}
	return out
}

func (b *Bag) Weights() []float64 {
	out := make([]float64, len(b.Records))
	for i, r := range b.Records {
		out[i] = r.Weight
	}
	return out
}

func (b *Bag) EstimateModel(ctx context.Context, req ModelRequest) error {
	if len(b.Records) == 0 {
		return ErrNotBagged
	}
	return estimateModels(ctx, b.Density(), b.Flow(), b.Weights(), req, b.Models, &b.Quantiles)
}

// Rolling is one sliding window data set.
type Rolling struct {
	Key     string
	Options process.RollingOptions
	Records []models.RollingRecord
}

func estimateModels(ctx context.Context, x, y, w []float64, req ModelRequest, results *estimate.Results, quantiles *[]float64) error {
	base := estimate.Spec{
		Kind:        req.Kind,
		Penalty:     req.Penalty,
		Eta:         req.Eta,
		Weights:     w,
		Context:     req.Context,
		ContextName: req.ContextName,
		Solver:      req.Solver,
	}

	var specs []estimate.Spec
	switch req.Kind {
	case models.ModelQuantile:
		if len(req.Quantiles) == 0 {
			return ErrNoQuantiles
		}
		for _, q := range req.Quantiles {
			s := base
			s.Quantile = q
			specs = append(specs, s)
		}
	default:
		specs = append(specs, base)
	}
	// reject bad requests before any fit starts
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, s := range specs {
		g.Go(func() error {
			m, err := estimate.Fit(gctx, x, y, s)
			if err != nil {
				return err
			}
			results.Add(m)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if req.Kind == models.ModelQuantile {
		*quantiles = mergeQuantiles(*quantiles, req.Quantiles)
	}
	return nil
}

// mergeQuantiles returns the sorted union of both lists.
func mergeQuantiles(have, add []float64) []float64 {
	out := slices.Clone(have)
	for _, q := range add {
		if !slices.Contains(out, q) {
			out = append(out, q)
		}
	}
	slices.Sort(out)
	return out
}
