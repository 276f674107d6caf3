package process

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/chrisdamba/roadtraffic/internal/models"
	"gonum.org/v1/gonum/stat"
)

// RollingOptions describes windows of length Window started every Gap.
type RollingOptions struct {
	Direction int
	Window    time.Duration
	Gap       time.Duration
	ByLane    bool
}

// RollingKey names a rolling data set, e.g. "5min_15sec_lane".
func RollingKey(opts RollingOptions) string {
	scope := "road"
	if opts.ByLane {
		scope = "lane"
	}
	return fmt.Sprintf("%s_%s_%s", durationLabel(opts.Window), durationLabel(opts.Gap), scope)
}

func durationLabel(d time.Duration) string {
	sec := int(d / time.Second)
	if sec%60 == 0 {
		return fmt.Sprintf("%dmin", sec/60)
	}
	return fmt.Sprintf("%dsec", sec)
}

type passage struct {
	at    float64
	speed float64
}

// Rolling computes flow, speed and density over sliding windows. Windows
// are aligned to midnight and only windows holding at least one vehicle
// with a positive speed are returned.
func Rolling(records []models.RawRecord, opts RollingOptions) ([]models.RollingRecord, error) {
	window := int(opts.Window / time.Second)
	gap := int(opts.Gap / time.Second)
	if window < 1 || gap < 1 {
		return nil, fmt.Errorf("%w: window %s, gap %s", ErrInvalidPeriod, opts.Window, opts.Gap)
	}
	if opts.Direction != 0 && opts.Direction != 1 && opts.Direction != 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDirection, opts.Direction)
	}

	groups := make(map[bucketKey][]passage)
	for _, r := range records {
		if opts.Direction != 0 && r.Direction != opts.Direction {
			continue
		}
		key := bucketKey{station: r.StationID, date: recordDate(r), direction: r.Direction}
		if opts.ByLane {
			key.lane = r.Lane
		}
		at := float64(r.SecondsOfDay()) + float64(r.HundredthSecond)/100
		groups[key] = append(groups[key], passage{at: at, speed: r.Speed})
	}

	scale := 3600 / float64(window)
	var out []models.RollingRecord
	for key, passages := range groups {
		slices.SortFunc(passages, func(a, b passage) int { return cmp.Compare(a.at, b.at) })

		lo, hi := 0, 0
		for start := 0; start+window <= secondsPerDay; start += gap {
			end := start + window
			for lo < len(passages) && passages[lo].at < float64(start) {
				lo++
			}
			if hi < lo {
				hi = lo
			}
			for hi < len(passages) && passages[hi].at < float64(end) {
				hi++
			}
			if hi == lo {
				continue
			}

			speeds := make([]float64, 0, hi-lo)
			for _, p := range passages[lo:hi] {
				if p.speed > 0 {
					speeds = append(speeds, p.speed)
				}
			}
			if len(speeds) == 0 {
				continue
			}
			speed := stat.HarmonicMean(speeds, nil)
			flow := scale * float64(hi-lo)
			out = append(out, models.RollingRecord{
				StationID:      key.station,
				Date:           key.date,
				Direction:      key.direction,
				Lane:           key.lane,
				Start:          start,
				End:            end,
				Count:          hi - lo,
				SpaceMeanSpeed: speed,
				Flow:           flow,
				Density:        flow / speed,
			})
		}
	}

	slices.SortFunc(out, func(a, b models.RollingRecord) int {
		return cmp.Or(
			cmp.Compare(a.StationID, b.StationID),
			a.Date.Compare(b.Date),
			cmp.Compare(a.Direction, b.Direction),
			cmp.Compare(a.Lane, b.Lane),
			cmp.Compare(a.Start, b.Start),
		)
	})
	return out, nil
}
