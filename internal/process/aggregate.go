package process

import (
	"cmp"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/chrisdamba/roadtraffic/internal/models"
	"gonum.org/v1/gonum/stat"
)

const secondsPerDay = 24 * 60 * 60

type bucketKey struct {
	station   int
	date      time.Time
	bucket    int
	direction int
	lane      int
}

type bucket struct {
	speeds []float64
	count  int
	cars   int
	buses  int
	trucks int
}

func (b *bucket) add(r models.RawRecord) {
	b.count++
	b.cars += r.Cars
	b.buses += r.Buses
	b.trucks += r.Trucks
	if r.Speed > 0 {
		b.speeds = append(b.speeds, r.Speed)
	}
}

// AggregateRoad aggregates cleaned records of one direction (0 for all)
// into buckets of the given period across all lanes.
func AggregateRoad(records []models.RawRecord, direction int, period time.Duration) ([]models.AggregatedRecord, error) {
	return aggregate(records, direction, period, false)
}

// AggregateLane is AggregateRoad with one bucket per lane.
func AggregateLane(records []models.RawRecord, direction int, period time.Duration) ([]models.AggregatedRecord, error) {
	return aggregate(records, direction, period, true)
}

func aggregate(records []models.RawRecord, direction int, period time.Duration, byLane bool) ([]models.AggregatedRecord, error) {
	start := time.Now()
	periodSec := int(period / time.Second)
	if periodSec < 1 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidPeriod, period)
	}
	if direction != 0 && direction != 1 && direction != 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDirection, direction)
	}

	buckets := make(map[bucketKey]*bucket)
	for _, r := range records {
		if direction != 0 && r.Direction != direction {
			continue
		}
		key := bucketKey{
			station:   r.StationID,
			date:      recordDate(r),
			bucket:    r.SecondsOfDay() / periodSec,
			direction: r.Direction,
		}
		if byLane {
			key.lane = r.Lane
		}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
		}
		b.add(r)
	}

	scale := 3600 / float64(periodSec)
	out := make([]models.AggregatedRecord, 0, len(buckets))
	skipped := 0
	for key, b := range buckets {
		if len(b.speeds) == 0 {
			skipped++
			continue
		}
		speed := stat.HarmonicMean(b.speeds, nil)
		flow := scale * float64(b.count)
		seconds := key.bucket * periodSec
		out = append(out, models.AggregatedRecord{
			StationID:      key.station,
			Date:           key.date,
			Bucket:         key.bucket,
			Direction:      key.direction,
			Lane:           key.lane,
			SpaceMeanSpeed: speed,
			Count:          b.count,
			CarCount:       b.cars,
			BusCount:       b.buses,
			TruckCount:     b.trucks,
			Flow:           flow,
			Cars:           scale * float64(b.cars),
			Buses:          scale * float64(b.buses),
			Trucks:         scale * float64(b.trucks),
			Density:        flow / speed,
			Seconds:        float64(seconds),
			Time:           clockLabel(seconds),
		})
	}
	if skipped > 0 {
		log.Printf("Warning: %d buckets without a positive speed were skipped", skipped)
	}

	slices.SortFunc(out, compareAggregated)
	log.Printf("Aggregation took %.4f seconds", time.Since(start).Seconds())
	return out, nil
}

func compareAggregated(a, b models.AggregatedRecord) int {
	return cmp.Or(
		cmp.Compare(a.StationID, b.StationID),
		a.Date.Compare(b.Date),
		cmp.Compare(a.Bucket, b.Bucket),
		cmp.Compare(a.Direction, b.Direction),
		cmp.Compare(a.Lane, b.Lane),
	)
}

// recordDate falls back to the report year and day for records that did
// not go through Clean.
func recordDate(r models.RawRecord) time.Time {
	if !r.Date.IsZero() {
		return r.Date
	}
	return models.DayToDate(r.FullYear(), r.Day)
}

func clockLabel(seconds int) string {
	seconds %= secondsPerDay
	return fmt.Sprintf("%02d:%02d", seconds/3600, seconds%3600/60)
}
