// Package synthetic generates reproducible raw TMS reports for testing and
// demos when the Digitraffic service is not available.
package synthetic

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/jaswdr/faker"

	"github.com/chrisdamba/roadtraffic/internal/models"
	"github.com/chrisdamba/roadtraffic/internal/process"
)

var ErrInvalidOptions = errors.New("synthetic: invalid options")

// Options of a synthetic station. Diagram is the fundamental diagram of
// one lane.
type Options struct {
	Seed        int64
	Lanes       int
	DailyVolume int
	FaultyRate  float64
	Diagram     process.Triangular
	Patterns    map[int]DemandPattern
	VehicleMix  []VehicleClass
}

// DefaultDiagram is a motorway lane: 100 km/h free flow, 2000 veh/h
// capacity and 120 veh/km jam density.
func DefaultDiagram() process.Triangular {
	t := process.Triangular{FreeFlowSpeed: 100, CriticalDensity: 20, JamDensity: 120}
	t.Capacity = t.FreeFlowSpeed * t.CriticalDensity
	t.WaveSpeed = t.Capacity / (t.JamDensity - t.CriticalDensity)
	return t
}

func OptionsFromConfig(cfg models.SyntheticConfig) Options {
	return Options{
		Seed:        cfg.Seed,
		Lanes:       cfg.Lanes,
		DailyVolume: cfg.DailyVolume,
		FaultyRate:  cfg.FaultyRate,
		Diagram:     DefaultDiagram(),
		Patterns:    DefaultPatterns,
		VehicleMix:  DefaultVehicleMix,
	}
}

func (o Options) validate() error {
	switch {
	case o.Lanes < 1:
		return fmt.Errorf("%w: lanes %d", ErrInvalidOptions, o.Lanes)
	case o.DailyVolume < 0:
		return fmt.Errorf("%w: daily volume %d", ErrInvalidOptions, o.DailyVolume)
	case o.FaultyRate < 0 || o.FaultyRate > 1:
		return fmt.Errorf("%w: faulty rate %g", ErrInvalidOptions, o.FaultyRate)
	case o.Diagram.FreeFlowSpeed <= 0 || o.Diagram.CriticalDensity <= 0 || o.Diagram.JamDensity <= o.Diagram.CriticalDensity:
		return fmt.Errorf("%w: diagram %+v", ErrInvalidOptions, o.Diagram)
	case len(o.VehicleMix) == 0:
		return fmt.Errorf("%w: empty vehicle mix", ErrInvalidOptions)
	}
	for _, dir := range []int{1, 2} {
		if _, ok := o.Patterns[dir]; !ok {
			return fmt.Errorf("%w: no demand pattern for direction %d", ErrInvalidOptions, dir)
		}
	}
	return nil
}

// Generator produces raw reports. The same seed, station and day always
// give the same records.
type Generator struct {
	opts Options
}

func New(opts Options) (*Generator, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Generator{opts: opts}, nil
}

// StationName returns a stable made-up place name for a station.
func (g *Generator) StationName(station int) string {
	fake := faker.NewWithSeed(rand.NewSource(g.opts.Seed + int64(station)))
	return fake.Address().City()
}

// ReadManyReports generates the given days one after the other, so a
// Generator can stand in for the Digitraffic loader.
func (g *Generator) ReadManyReports(ctx context.Context, station int, days []models.DayRef) ([]models.RawRecord, error) {
	var out []models.RawRecord
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, g.Day(station, day)...)
	}
	log.Printf("[LOG] Generated %d synthetic records for TMS %d over %d days.", len(out), station, len(days))
	return out, nil
}

// Day generates the report of one station and day, sorted by total time.
func (g *Generator) Day(station int, day models.DayRef) []models.RawRecord {
	seed := g.opts.Seed*1_000_003 + int64(station)*10_007 + int64(day.Year)*367 + int64(day.Day)
	rng := rand.New(rand.NewSource(seed))
	fake := faker.NewWithSeed(rand.NewSource(seed + 1))

	weekday := day.Date().Weekday()
	var queue arrivals
	for _, dir := range []int{1, 2} {
		pattern := g.opts.Patterns[dir]
		volume := float64(g.opts.DailyVolume) * pattern.dayWeight(weekday)

		var total float64
		for h := 0; h < 24; h++ {
			total += pattern.hourWeight(weekday, h)
		}
		for h := 0; h < 24; h++ {
			mean := volume * pattern.hourWeight(weekday, h) / total
			n := int(math.Round(mean + rng.NormFloat64()*math.Sqrt(mean)))
			if n <= 0 {
				continue
			}
			// flow per lane in veh/h
			q := float64(n) / float64(g.opts.Lanes)
			base := g.laneSpeed(q)
			for i := 0; i < n; i++ {
				queue.add(g.vehicle(rng, fake, station, day, dir, h, base))
			}
		}
	}

	return queue.drain()
}

// laneSpeed maps a lane flow to a mean speed on the triangular diagram.
// Demand close to capacity switches to the congested branch.
func (g *Generator) laneSpeed(q float64) float64 {
	d := g.opts.Diagram
	if q <= 0.9*d.Capacity {
		return d.FreeFlowSpeed * (1 - 0.08*q/d.Capacity)
	}
	// congestion grows with excess demand, up to half way to jam density
	c := math.Min((q-0.9*d.Capacity)/(0.3*d.Capacity), 1)
	k := d.CriticalDensity + c*(d.JamDensity-d.CriticalDensity)/2
	flow := d.WaveSpeed * (d.JamDensity - k)
	return flow / k
}

func (g *Generator) vehicle(rng *rand.Rand, fake faker.Faker, station int, day models.DayRef, dir, hour int, base float64) models.RawRecord {
	class := g.pickClass(rng)
	lane := fake.IntBetween(1, g.opts.Lanes)
	// heavy vehicles keep to the rightmost lane
	if class.Class != models.VehicleCar && g.opts.Lanes > 1 && fake.Bool() {
		lane = 1
	}
	if dir == 2 {
		lane += g.opts.Lanes
	}

	speed := base*class.SpeedFactor + rng.NormFloat64()*base*0.08
	speed = math.Max(3, math.Min(class.MaxSpeed, speed))

	sec := rng.Intn(3600)
	hund := rng.Intn(100)
	r := models.RawRecord{
		StationID:       station,
		Year:            day.Year % 100,
		Day:             day.Day,
		Hour:            hour,
		Minute:          sec / 60,
		Second:          sec % 60,
		HundredthSecond: hund,
		Length:          math.Round((class.MinLength+rng.Float64()*(class.MaxLength-class.MinLength))*10) / 10,
		Lane:            lane,
		Direction:       dir,
		Vehicle:         class.Class,
		Speed:           math.Round(speed),
	}
	r.TotalTime = (hour*3600+sec)*100 + hund
	if rng.Float64() < g.opts.FaultyRate {
		r.Faulty = 1
	}
	return r
}

func (g *Generator) pickClass(rng *rand.Rand) VehicleClass {
	var total float64
	for _, c := range g.opts.VehicleMix {
		total += c.Share
	}
	u := rng.Float64() * total
	for _, c := range g.opts.VehicleMix {
		if u < c.Share {
			return c
		}
		u -= c.Share
	}
	return g.opts.VehicleMix[len(g.opts.VehicleMix)-1]
}
