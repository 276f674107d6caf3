package synthetic

import "time"

// DemandPattern shapes the daily volume of one direction over the hours
// of the day.
type DemandPattern struct {
	Base               float64
	TimeMultipliers    map[int]float64
	WeekdayMultipliers map[time.Weekday]float64
	// weekend days use WeekendMultipliers instead of TimeMultipliers
	WeekendMultipliers map[int]float64
}

// VehicleClass is one row of the vehicle mix.
type VehicleClass struct {
	Class     int
	Share     float64
	MinLength float64
	MaxLength float64
	// speed relative to cars, capped at MaxSpeed
	SpeedFactor float64
	MaxSpeed    float64
}

var (
	// inbound traffic peaks in the morning, outbound in the afternoon
	DefaultPatterns = map[int]DemandPattern{
		1: {
			Base: 1,
			TimeMultipliers: map[int]float64{
				0: 0.15, 1: 0.1, 2: 0.08, 3: 0.08, 4: 0.15, 5: 0.5,
				6: 1.6, 7: 3.2, 8: 3.0, 9: 1.8,
				15: 1.5, 16: 1.7, 17: 1.5,
				21: 0.7, 22: 0.5, 23: 0.3,
			},
			WeekdayMultipliers: map[time.Weekday]float64{
				time.Friday:   1.05,
				time.Saturday: 0.7,
				time.Sunday:   0.6,
			},
			WeekendMultipliers: weekendHours,
		},
		2: {
			Base: 1,
			TimeMultipliers: map[int]float64{
				0: 0.15, 1: 0.1, 2: 0.08, 3: 0.08, 4: 0.15, 5: 0.4,
				6: 1.0, 7: 1.6, 8: 1.5,
				15: 2.4, 16: 3.2, 17: 3.0, 18: 1.8,
				21: 0.7, 22: 0.5, 23: 0.3,
			},
			WeekdayMultipliers: map[time.Weekday]float64{
				time.Friday:   1.1,
				time.Saturday: 0.7,
				time.Sunday:   0.65,
			},
			WeekendMultipliers: weekendHours,
		},
	}

	weekendHours = map[int]float64{
		0: 0.3, 1: 0.2, 2: 0.15, 3: 0.1, 4: 0.1, 5: 0.2, 6: 0.35, 7: 0.5,
		11: 1.4, 12: 1.5, 13: 1.5, 14: 1.4, 15: 1.3,
		22: 0.6, 23: 0.45,
	}

	DefaultVehicleMix = []VehicleClass{
		{Class: 1, Share: 0.84, MinLength: 3.6, MaxLength: 5.4, SpeedFactor: 1, MaxSpeed: 160},
		{Class: 2, Share: 0.05, MinLength: 6.5, MaxLength: 12, SpeedFactor: 0.9, MaxSpeed: 90},
		{Class: 3, Share: 0.02, MinLength: 10, MaxLength: 14.5, SpeedFactor: 0.92, MaxSpeed: 100},
		{Class: 4, Share: 0.04, MinLength: 14, MaxLength: 19, SpeedFactor: 0.85, MaxSpeed: 85},
		{Class: 5, Share: 0.02, MinLength: 16, MaxLength: 25, SpeedFactor: 0.85, MaxSpeed: 85},
		{Class: 6, Share: 0.02, MinLength: 7, MaxLength: 11, SpeedFactor: 0.9, MaxSpeed: 100},
		{Class: 7, Share: 0.01, MinLength: 16, MaxLength: 25, SpeedFactor: 0.85, MaxSpeed: 85},
	}
)

// hourWeight is the relative demand of an hour on the given weekday.
func (p DemandPattern) hourWeight(weekday time.Weekday, hour int) float64 {
	hours := p.TimeMultipliers
	if weekday == time.Saturday || weekday == time.Sunday {
		hours = p.WeekendMultipliers
	}
	w := p.Base
	if m, ok := hours[hour]; ok {
		w *= m
	}
	return w
}

// dayWeight scales the daily volume.
func (p DemandPattern) dayWeight(weekday time.Weekday) float64 {
	if m, ok := p.WeekdayMultipliers[weekday]; ok {
		return m
	}
	return 1
}
