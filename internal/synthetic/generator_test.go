package synthetic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisdamba/roadtraffic/internal/models"
	"github.com/chrisdamba/roadtraffic/internal/process"
)

var friday = models.DayRef{Year: 2019, Day: 270}

func generator(t *testing.T, mutate func(*Options)) *Generator {
	t.Helper()
	opts := OptionsFromConfig(models.SyntheticConfig{Seed: 7, Lanes: 2, DailyVolume: 12000, FaultyRate: 0.02})
	if mutate != nil {
		mutate(&opts)
	}
	g, err := New(opts)
	require.NoError(t, err)
	return g
}

func TestDayIsReproducible(t *testing.T) {
	a := generator(t, nil).Day(146, friday)
	b := generator(t, nil).Day(146, friday)
	require.NotEmpty(t, a)
	assert.Equal(t, a, b)

	other := generator(t, func(o *Options) { o.Seed = 8 }).Day(146, friday)
	assert.NotEqual(t, a, other)

	g := generator(t, nil)
	assert.Equal(t, g.StationName(146), generator(t, nil).StationName(146))
	assert.NotEmpty(t, g.StationName(146))
}

func TestDayRecords(t *testing.T) {
	records := generator(t, nil).Day(146, friday)

	// about 2 x 12000 vehicles on a Friday
	assert.InDelta(t, 2*12000*1.075, len(records), 2*12000*0.1)

	faulty := 0
	for i, r := range records {
		assert.Equal(t, 146, r.StationID)
		assert.Equal(t, 19, r.Year)
		assert.Equal(t, 270, r.Day)
		assert.Contains(t, []int{1, 2}, r.Direction)
		if r.Direction == 1 {
			assert.True(t, r.Lane == 1 || r.Lane == 2, "lane %d", r.Lane)
		} else {
			assert.True(t, r.Lane == 3 || r.Lane == 4, "lane %d", r.Lane)
		}
		assert.GreaterOrEqual(t, r.Speed, 3.0)
		assert.GreaterOrEqual(t, r.TimeInterval, 0)
		assert.Equal(t, r.SecondsOfDay()*100+r.HundredthSecond, r.TotalTime)
		if i > 0 {
			assert.GreaterOrEqual(t, r.TotalTime, records[i-1].TotalTime)
		}
		faulty += r.Faulty
	}
	assert.InDelta(t, 0.02, float64(faulty)/float64(len(records)), 0.01)
}

func TestWeekendIsQuieter(t *testing.T) {
	g := generator(t, nil)
	sunday := models.DayRef{Year: 2019, Day: 272}
	require.Equal(t, time.Sunday, sunday.Date().Weekday())
	assert.Less(t, len(g.Day(146, sunday)), len(g.Day(146, friday)))
}

func TestGeneratedDataAggregates(t *testing.T) {
	g := generator(t, func(o *Options) { o.FaultyRate = 0 })
	raw, err := g.ReadManyReports(context.Background(), 146, []models.DayRef{friday})
	require.NoError(t, err)

	cleaned, err := process.Clean(raw, process.DefaultCleanOptions())
	require.NoError(t, err)
	require.Len(t, cleaned, len(raw))

	aggs, err := process.AggregateRoad(cleaned, 1, 5*time.Minute)
	require.NoError(t, err)
	require.Greater(t, len(aggs), 250)

	var night, peak float64
	for _, a := range aggs {
		switch {
		case a.Seconds < 4*3600:
			night = max(night, a.Flow)
		case a.Seconds >= 7*3600 && a.Seconds < 9*3600:
			peak = max(peak, a.Flow)
		}
		assert.Greater(t, a.SpaceMeanSpeed, 0.0)
	}
	assert.Greater(t, peak, 3*night)
}

func TestLaneSpeedFollowsDiagram(t *testing.T) {
	g := generator(t, nil)
	d := DefaultDiagram()
	assert.InDelta(t, d.FreeFlowSpeed, g.laneSpeed(0), 1e-9)
	assert.Greater(t, g.laneSpeed(0.5*d.Capacity), g.laneSpeed(1.2*d.Capacity))
	assert.Less(t, g.laneSpeed(1.2*d.Capacity), d.FreeFlowSpeed/2)
}

func TestReadManyReportsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := generator(t, nil).ReadManyReports(ctx, 146, []models.DayRef{friday})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"no lanes", func(o *Options) { o.Lanes = 0 }},
		{"negative volume", func(o *Options) { o.DailyVolume = -1 }},
		{"faulty rate", func(o *Options) { o.FaultyRate = 1.5 }},
		{"diagram", func(o *Options) { o.Diagram.JamDensity = 10 }},
		{"vehicle mix", func(o *Options) { o.VehicleMix = nil }},
		{"patterns", func(o *Options) { o.Patterns = map[int]DemandPattern{1: {}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := OptionsFromConfig(models.SyntheticConfig{Seed: 1, Lanes: 2, DailyVolume: 100})
			tt.mutate(&opts)
			_, err := New(opts)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}

func TestArrivalsDrainInTimeOrder(t *testing.T) {
	var q arrivals
	q.add(models.RawRecord{Lane: 1, TotalTime: 500})
	q.add(models.RawRecord{Lane: 2, TotalTime: 100})
	q.add(models.RawRecord{Lane: 1, TotalTime: 200})
	q.add(models.RawRecord{Lane: 1, TotalTime: 200})

	got := q.drain()
	require.Len(t, got, 4)
	assert.Equal(t, []int{100, 200, 200, 500}, []int{got[0].TotalTime, got[1].TotalTime, got[2].TotalTime, got[3].TotalTime})
	assert.Equal(t, []int{0, 0, 0, 300}, []int{got[0].TimeInterval, got[1].TimeInterval, got[2].TimeInterval, got[3].TimeInterval})
	assert.Empty(t, q.drain())
}
