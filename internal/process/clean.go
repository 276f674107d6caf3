// Package process turns raw vehicle passages into traffic-flow measures:
// cleaning, time-bucket aggregation, sliding windows and grid bagging.
package process

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chrisdamba/roadtraffic/internal/models"
)

var (
	ErrInvalidDirection = errors.New("direction must be 1 or 2")
	ErrInvalidHours     = errors.New("hours must satisfy 0 <= hour_from <= hour_to <= 23")
	ErrInvalidPeriod    = errors.New("period must be at least one second")
	ErrInvalidGrid      = errors.New("grid size must be positive")
)

// CleanOptions selects the passages to keep. Zero Direction and nil Lanes
// keep every direction and lane.
type CleanOptions struct {
	Direction  int
	Lanes      []int
	HourFrom   int
	HourTo     int
	KeepFaulty bool
}

// DefaultCleanOptions keeps the whole day and drops faulty passages.
func DefaultCleanOptions() CleanOptions {
	return CleanOptions{HourFrom: 0, HourTo: 23}
}

func (o CleanOptions) Validate() error {
	if o.Direction != 0 && o.Direction != 1 && o.Direction != 2 {
		return fmt.Errorf("%w: got %d", ErrInvalidDirection, o.Direction)
	}
	if o.HourFrom < 0 || o.HourFrom > 23 || o.HourTo < o.HourFrom || o.HourTo > 23 {
		return fmt.Errorf("%w: got %d..%d", ErrInvalidHours, o.HourFrom, o.HourTo)
	}
	return nil
}

// Clean filters raw records and fills in the date and the vehicle class
// indicators. The input slice is not modified.
func Clean(records []models.RawRecord, opts CleanOptions) ([]models.RawRecord, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	out := make([]models.RawRecord, 0, len(records))
	for _, r := range records {
		if opts.Direction != 0 && r.Direction != opts.Direction {
			continue
		}
		if opts.Lanes != nil && !slices.Contains(opts.Lanes, r.Lane) {
			continue
		}
		if r.Hour < opts.HourFrom || r.Hour > opts.HourTo {
			continue
		}
		if !opts.KeepFaulty && r.Faulty != 0 {
			continue
		}
		r.Date = models.DayToDate(r.FullYear(), r.Day)
		r.ClassifyVehicle()
		out = append(out, r)
	}
	return out, nil
}
