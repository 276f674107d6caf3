package models

import (
	"fmt"
	"time"
)

// RawRecord is one vehicle passing a traffic measurement station.
type RawRecord struct {
	StationID       int     `json:"id"`
	Year            int     `json:"year"` // two digits, as published
	Day             int     `json:"day"`
	Hour            int     `json:"hour"`
	Minute          int     `json:"minute"`
	Second          int     `json:"second"`
	HundredthSecond int     `json:"hund_second"`
	Length          float64 `json:"length"`
	Lane            int     `json:"lane"`
	Direction       int     `json:"direction"`
	Vehicle         int     `json:"vehicle"`
	Speed           float64 `json:"speed"`
	Faulty          int     `json:"faulty"`
	TotalTime       int     `json:"total_time"`
	TimeInterval    int     `json:"time_interval"`
	QueueStart      int     `json:"queue_start"`

	// set by cleaning
	Date   time.Time `json:"date,omitempty"`
	Cars   int       `json:"cars"`
	Buses  int       `json:"buses"`
	Trucks int       `json:"trucks"`
}

// SecondsOfDay returns the passage time as seconds since midnight.
func (r *RawRecord) SecondsOfDay() int {
	return r.Hour*3600 + r.Minute*60 + r.Second
}

// FullYear converts the two-digit year of the report to a calendar year.
func (r *RawRecord) FullYear() int {
	if r.Year >= 100 {
		return r.Year
	}
	return 2000 + r.Year
}

// ClassifyVehicle sets the car/bus/truck indicators from the vehicle class.
func (r *RawRecord) ClassifyVehicle() {
	r.Cars, r.Buses, r.Trucks = 0, 0, 0
	switch r.Vehicle {
	case VehicleCar:
		r.Cars = 1
	case VehicleBus:
		r.Buses = 1
	case VehicleTruck, VehicleSemiTrailer, VehicleTrailerTruck, VehicleCarTrailer, VehicleTruckWithTrail:
		r.Trucks = 1
	}
}

// AggregatedRecord summarises the vehicles of one time bucket. Lane is zero
// when the bucket covers the whole road.
type AggregatedRecord struct {
	StationID      int       `json:"id"`
	Date           time.Time `json:"date"`
	Bucket         int       `json:"aggregation"`
	Direction      int       `json:"direction"`
	Lane           int       `json:"lane,omitempty"`
	SpaceMeanSpeed float64   `json:"smspeed"`
	Count          int       `json:"count"`
	CarCount       int       `json:"car_count"`
	BusCount       int       `json:"bus_count"`
	TruckCount     int       `json:"truck_count"`
	Flow           float64   `json:"flow"`
	Cars           float64   `json:"cars"`
	Buses          float64   `json:"buses"`
	Trucks         float64   `json:"trucks"`
	Density        float64   `json:"density"`
	Seconds        float64   `json:"seconds"`
	Time           string    `json:"time"`
}

// Timestamp is the start of the bucket.
func (a *AggregatedRecord) Timestamp() time.Time {
	return a.Date.Add(time.Duration(a.Seconds) * time.Second)
}

// RollingRecord summarises the vehicles of one sliding window.
type RollingRecord struct {
	StationID      int       `json:"id"`
	Date           time.Time `json:"date"`
	Direction      int       `json:"direction"`
	Lane           int       `json:"lane,omitempty"`
	Start          int       `json:"start"`
	End            int       `json:"end"`
	Count          int       `json:"count"`
	SpaceMeanSpeed float64   `json:"smspeed"`
	Flow           float64   `json:"flow"`
	Density        float64   `json:"density"`
}

// BaggedRecord is the centroid of the aggregates that fell into one
// density/flow grid cell.
type BaggedRecord struct {
	StationID       int     `json:"id"`
	Direction       int     `json:"direction"`
	DensityBin      int     `json:"grid_density"`
	FlowBin         int     `json:"grid_flow"`
	Size            int     `json:"bag_size"`
	SumFlow         float64 `json:"sum_flow"`
	SumDensity      float64 `json:"sum_density"`
	CentroidFlow    float64 `json:"centroid_flow"`
	CentroidDensity float64 `json:"centroid_density"`
	Weight          float64 `json:"weight"`
}

func (b *BaggedRecord) String() string {
	return fmt.Sprintf("bag(%d,%d) size=%d density=%.2f flow=%.1f weight=%.4f",
		b.DensityBin, b.FlowBin, b.Size, b.CentroidDensity, b.CentroidFlow, b.Weight)
}

// ModelRecord summarises one fitted frontier for storage and export.
type ModelRecord struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	StationID    int       `json:"station_id"`
	DataSet      string    `json:"data_set"`
	ModelType    string    `json:"model_type"`
	Quantile     string    `json:"quantile"`
	Penalty      string    `json:"penalty"`
	Eta          float64   `json:"eta"`
	Context      string    `json:"context"`
	Solver       string    `json:"solver"`
	Status       string    `json:"status"`
	Objective    float64   `json:"objective"`
	Observations int       `json:"observations"`
	Segments     int       `json:"segments"`
	Lambda       float64   `json:"lambda"`
	ElapsedMS    int64     `json:"elapsed_ms"`
	CreatedAt    time.Time `json:"created_at"`
}
