package models

import "time"

// URLFintraffic is the Digitraffic raw TMS report endpoint. TMS, YY and DD are
// replaced with the station id, the two-digit year and the day of the year.
// Data is published by Fintraffic / digitraffic.fi under CC 4.0 BY.
const URLFintraffic = "https://tie.digitraffic.fi/api/tms/v1/history/raw/lamraw_TMS_YY_DD.csv"

// ColumnNamesFintraffic lists the columns of a raw report in file order.
var ColumnNamesFintraffic = []string{
	"id",
	"year",
	"day",
	"hour",
	"minute",
	"second",
	"hund_second",
	"length",
	"lane",
	"direction",
	"vehicle",
	"speed",
	"faulty",
	"total_time",
	"time_interval",
	"queue_start",
}

const (
	DefaultAggregationPeriod = 5 * time.Minute
	DefaultNumBagsDensity    = 70
	DefaultNumBagsFlow       = 400
	DefaultMaxObservations   = 3000
	DefaultRetryAfter        = 60 * time.Second

	// first year Digitraffic has raw data for
	FirstDataYear = 1995

	// cache file name pattern, same placeholders as URLFintraffic
	CacheFilename = "lamraw_TMS_YY_DD.parquet"
)

// DefaultQuantiles is used when a quantile model is requested without levels.
var DefaultQuantiles = []float64{0.5}

// Vehicle classes reported by the TMS sensors.
const (
	VehicleCar            = 1
	VehicleTruck          = 2
	VehicleBus            = 3
	VehicleSemiTrailer    = 4
	VehicleTrailerTruck   = 5
	VehicleCarTrailer     = 6
	VehicleTruckWithTrail = 7
)

const (
	ModelMean     = "mean"
	ModelQuantile = "quantile"

	PenaltyNone = ""
	PenaltyL1   = "l1"
	PenaltyL2   = "l2"
	PenaltyL3   = "l3"
)

// Output topics.
const (
	TopicAggregated = "aggregated_records"
	TopicBagged     = "bagged_records"
	TopicRolling    = "rolling_records"
	TopicEstimates  = "model_estimates"

	// fitted values of every observation, one message per row
	TopicEstimateRows = "model_estimate_rows"
)
