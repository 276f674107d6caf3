package process

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/chrisdamba/roadtraffic/internal/models"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrNoData       = errors.New("no density/flow points")
	ErrNoCongestion = errors.New("no congested points above the critical density")
)

// chunk of congested points summarised by one upper envelope point
const congestedChunk = 10

// Point is one density (veh/km) and flow (veh/h) observation.
type Point struct {
	Density float64
	Flow    float64
}

// PointsFromAggregated extracts the fundamental diagram points.
func PointsFromAggregated(aggs []models.AggregatedRecord) []Point {
	pts := make([]Point, len(aggs))
	for i, a := range aggs {
		pts[i] = Point{Density: a.Density, Flow: a.Flow}
	}
	return pts
}

// Triangular is a fundamental diagram made of a free-flow branch
// q = vf*k up to the critical density and a congested branch falling
// from capacity to zero at the jam density.
type Triangular struct {
	FreeFlowSpeed   float64 `json:"free_flow_speed"`
	CriticalDensity float64 `json:"critical_density"`
	Capacity        float64 `json:"capacity"`
	WaveSpeed       float64 `json:"wave_speed"`
	JamDensity      float64 `json:"jam_density"`
	RMSE            float64 `json:"rmse"`
	MAE             float64 `json:"mae"`
	// Envelope holds the upper envelope points the congested branch was fitted on.
	Envelope []Point `json:"-"`
}

// Predict returns the flow of the triangular diagram at density k.
func (t Triangular) Predict(k float64) float64 {
	if k <= t.CriticalDensity {
		return t.FreeFlowSpeed * k
	}
	return t.Capacity - t.WaveSpeed*(k-t.CriticalDensity)
}

// DeriveTriangular fits a triangular fundamental diagram for a known free
// flow speed (km/h). Capacity is the largest observed flow. Congested
// points are taken in groups of ten by density; from each group the
// largest flow not flagged as an outlier (above q75 + 1.5*IQR) forms the
// upper envelope, and the congested branch is the least squares line
// through (critical density, capacity) fitted on that envelope.
func DeriveTriangular(points []Point, freeFlowSpeed float64) (Triangular, error) {
	if freeFlowSpeed <= 0 {
		return Triangular{}, fmt.Errorf("free flow speed must be positive, got %v", freeFlowSpeed)
	}
	pts := finitePoints(points)
	if len(pts) == 0 {
		return Triangular{}, ErrNoData
	}

	flows := make([]float64, len(pts))
	for i, p := range pts {
		flows[i] = p.Flow
	}
	capacity := floats.Max(flows)
	critical := capacity / freeFlowSpeed
	iqr := quantile(flows, 0.75) - quantile(flows, 0.25)

	var congested []Point
	for _, p := range pts {
		if p.Density > critical {
			congested = append(congested, p)
		}
	}
	if len(congested) == 0 {
		return Triangular{}, ErrNoCongestion
	}
	slices.SortFunc(congested, func(a, b Point) int {
		return cmp.Or(cmp.Compare(a.Density, b.Density), cmp.Compare(a.Flow, b.Flow))
	})

	envelope := []Point{{Density: critical, Flow: capacity}}
	for i := 0; i < len(congested); i += congestedChunk {
		chunk := congested[i:min(i+congestedChunk, len(congested))]
		densities := make([]float64, len(chunk))
		chunkFlows := make([]float64, len(chunk))
		for j, p := range chunk {
			densities[j] = p.Density
			chunkFlows[j] = p.Flow
		}
		limit := quantile(chunkFlows, 0.75) + 1.5*iqr
		best, found := 0.0, false
		for _, f := range chunkFlows {
			if f <= limit && (!found || f > best) {
				best, found = f, true
			}
		}
		if !found {
			continue
		}
		envelope = append(envelope, Point{Density: stat.Mean(densities, nil), Flow: best})
	}

	xs := make([]float64, len(envelope))
	ys := make([]float64, len(envelope))
	for i, p := range envelope {
		xs[i] = p.Density - critical
		ys[i] = p.Flow - capacity
	}
	_, slope := stat.LinearRegression(xs, ys, nil, true)
	if math.IsNaN(slope) || slope >= 0 {
		return Triangular{}, fmt.Errorf("%w: congested branch slope %v", ErrNoCongestion, slope)
	}

	t := Triangular{
		FreeFlowSpeed:   freeFlowSpeed,
		CriticalDensity: critical,
		Capacity:        capacity,
		WaveSpeed:       math.Abs(slope),
		Envelope:        envelope,
	}
	t.JamDensity = capacity/t.WaveSpeed + critical
	t.RMSE, t.MAE = Errors(pts, t.Predict)
	return t, nil
}

// Errors returns the root mean square and the mean absolute error of a
// prediction over the points.
func Errors(points []Point, predict func(float64) float64) (rmse, mae float64) {
	if len(points) == 0 {
		return 0, 0
	}
	var se, ae float64
	for _, p := range points {
		d := predict(p.Density) - p.Flow
		se += d * d
		ae += math.Abs(d)
	}
	n := float64(len(points))
	return math.Sqrt(se / n), ae / n
}

// Comparison holds the errors of a triangular diagram and of an estimated
// piecewise-linear frontier on the same points.
type Comparison struct {
	TriangularRMSE float64 `json:"triangular_rmse"`
	TriangularMAE  float64 `json:"triangular_mae"`
	FrontierRMSE   float64 `json:"frontier_rmse"`
	FrontierMAE    float64 `json:"frontier_mae"`
	Points         int     `json:"points"`
}

// Compare evaluates the triangular diagram and the frontier given by its
// hyperplane coefficients on a point set.
func Compare(points []Point, t Triangular, alpha, beta []float64) (Comparison, error) {
	pts := finitePoints(points)
	if len(pts) == 0 {
		return Comparison{}, ErrNoData
	}
	if len(alpha) == 0 || len(alpha) != len(beta) {
		return Comparison{}, fmt.Errorf("coefficient lengths differ: %d alpha, %d beta", len(alpha), len(beta))
	}

	c := Comparison{Points: len(pts)}
	c.TriangularRMSE, c.TriangularMAE = Errors(pts, t.Predict)
	c.FrontierRMSE, c.FrontierMAE = Errors(pts, func(k float64) float64 {
		return Representor(alpha, beta, []float64{k})[0]
	})
	return c, nil
}

func finitePoints(points []Point) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if math.IsNaN(p.Density) || math.IsInf(p.Density, 0) || math.IsNaN(p.Flow) || math.IsInf(p.Flow, 0) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// quantile is the linearly interpolated sample quantile.
func quantile(values []float64, p float64) float64 {
	sorted := slices.Clone(values)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.LinInterp, sorted, nil)
}
