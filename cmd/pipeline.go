package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/chrisdamba/roadtraffic/internal/estimate"
	"github.com/chrisdamba/roadtraffic/internal/fintraffic"
	"github.com/chrisdamba/roadtraffic/internal/models"
	"github.com/chrisdamba/roadtraffic/internal/output"
	"github.com/chrisdamba/roadtraffic/internal/process"
	"github.com/chrisdamba/roadtraffic/internal/solver"
	"github.com/chrisdamba/roadtraffic/internal/station"
	"github.com/chrisdamba/roadtraffic/internal/synthetic"
)

func newSource(cfg *models.Config) (station.Source, error) {
	if cfg.Synthetic.Enabled {
		gen, err := synthetic.New(synthetic.OptionsFromConfig(cfg.Synthetic))
		if err != nil {
			return nil, err
		}
		return gen, nil
	}
	return fintraffic.NewLoader(cfg.Source), nil
}

func cleanOptions(cfg *models.Config) process.CleanOptions {
	return process.CleanOptions{
		Direction:  cfg.Clean.Direction,
		Lanes:      cfg.Clean.Lanes,
		HourFrom:   cfg.Clean.HourFrom,
		HourTo:     cfg.Clean.HourTo,
		KeepFaulty: cfg.Clean.KeepFaulty,
	}
}

// prepare loads, cleans, aggregates and bags the data of the configured
// station over days.
func prepare(ctx context.Context, cfg *models.Config, days []models.DayRef) (*station.TMS, error) {
	src, err := newSource(cfg)
	if err != nil {
		return nil, err
	}
	tms := station.New(cfg.StationID, days, cfg.Clean.Direction, src)
	if err := tms.Load(ctx); err != nil {
		return nil, err
	}
	if err := tms.Raw.Clean(cleanOptions(cfg)); err != nil {
		return nil, fmt.Errorf("TMS %d: %w", tms.ID, err)
	}
	agg := cfg.Aggregation
	if err := tms.RawToAgg(agg.ByLane, agg.Period); err != nil {
		return nil, err
	}
	tms.Agg.MaxObservations = cfg.Estimation.MaxObservations
	if err := tms.AggToBag(agg.GridDensity, agg.GridFlow); err != nil {
		return nil, err
	}
	return tms, nil
}

func modelRequest(cfg *models.Config, tms *station.TMS) (station.ModelRequest, error) {
	est := cfg.Estimation
	method, err := solver.ParseMethod(est.Solver)
	if err != nil {
		return station.ModelRequest{}, err
	}
	req := station.ModelRequest{
		Kind:      est.ModelType,
		Quantiles: est.Quantiles,
		Penalty:   est.Penalty,
		Eta:       est.Eta,
		Solver:    method,
	}
	if est.Context != "" {
		req.Context = contextValues(tms.Agg.Records, est.Context)
		req.ContextName = est.Context
	}
	return req, nil
}

// contextValues extracts a contextual variable from the aggregates.
func contextValues(records []models.AggregatedRecord, name string) []float64 {
	z := make([]float64, len(records))
	for i, r := range records {
		switch name {
		case "truck_share":
			if r.Count > 0 {
				z[i] = float64(r.TruckCount) / float64(r.Count)
			}
		case "hour":
			z[i] = r.Seconds / 3600
		}
	}
	return z
}

// estimateModels fits the configured models and returns the data set
// name and its results.
func estimateModels(ctx context.Context, cfg *models.Config, tms *station.TMS) (string, *estimate.Results, error) {
	req, err := modelRequest(cfg, tms)
	if err != nil {
		return "", nil, err
	}
	if cfg.Estimation.UseBagged {
		if err := tms.Bag.EstimateModel(ctx, req); err != nil {
			return "", nil, err
		}
		return "bagged", tms.Bag.Models, nil
	}
	if err := tms.Agg.EstimateModel(ctx, req); err != nil {
		return "", nil, err
	}
	return "aggregated", tms.Agg.Models, nil
}

// withDestination opens the configured output, runs fn and closes it.
func withDestination(ctx context.Context, cfg *models.Config, fn func(*output.Exporter) error) error {
	dest, err := output.New(ctx, cfg)
	if err != nil {
		return err
	}
	exp := output.NewExporter(dest)
	log.Printf("Writing to %s output, run %s", cfg.Output.Destination, exp.RunID)
	if err := fn(exp); err != nil {
		dest.Close()
		return err
	}
	if err := dest.Close(); err != nil {
		return fmt.Errorf("failed to close %s output: %w", cfg.Output.Destination, err)
	}
	return nil
}
