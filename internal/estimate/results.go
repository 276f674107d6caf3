package estimate

import (
	"fmt"
	"log"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/chrisdamba/roadtraffic/internal/solver"
)

// Results holds the fitted models of one data set. It is safe for
// concurrent use.
type Results struct {
	mu     sync.RWMutex
	models map[Key]*Model
	order  []Key
}

func NewResults() *Results {
	return &Results{models: make(map[Key]*Model)}
}

// Add stores m under its key, replacing an earlier fit with the same key.
func (r *Results) Add(m *Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[m.Key]; !ok {
		r.order = append(r.order, m.Key)
	}
	r.models[m.Key] = m
}

func (r *Results) Get(k Key) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotEstimated, k)
	}
	return m, nil
}

// Models lists the models in the order they were added.
func (r *Results) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Model, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.models[k])
	}
	return out
}

func (r *Results) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// Frontier returns the fitted values, context term included.
func (r *Results) Frontier(k Key) ([]float64, error) {
	m, err := r.Get(k)
	if err != nil {
		return nil, err
	}
	return m.Fitted, nil
}

// Coefficients returns the (alpha, beta) pair of every observation.
func (r *Results) Coefficients(k Key) ([][2]float64, error) {
	m, err := r.Get(k)
	if err != nil {
		return nil, err
	}
	out := make([][2]float64, len(m.Alpha))
	for i := range m.Alpha {
		out[i] = [2]float64{m.Alpha[i], m.Beta[i]}
	}
	return out, nil
}

// NumberOfSegments counts the distinct linear pieces of the frontier.
func (r *Results) NumberOfSegments(k Key) (int, error) {
	m, err := r.Get(k)
	if err != nil {
		return 0, err
	}
	return m.Segments(), nil
}

// NumberOfHyperplanes counts the supporting lines of the frontier, one
// (alpha_i, beta_i) pair per observation.
func (r *Results) NumberOfHyperplanes(k Key) (int, error) {
	m, err := r.Get(k)
	if err != nil {
		return 0, err
	}
	return m.Hyperplanes(), nil
}

func (m *Model) Hyperplanes() int {
	return len(m.Alpha)
}

// segmentTol is the relative slope change below which two neighbouring
// segments count as one.
const segmentTol = 1e-6

// Segments counts the linear pieces of the frontier. Neighbouring slopes
// that agree up to solver precision are merged.
func (m *Model) Segments() int {
	knots := m.knots()
	if len(knots) == 0 {
		return 0
	}
	if len(knots) < 3 {
		return 1
	}
	n := 1
	prev := slope(knots[0], knots[1])
	for k := 1; k+1 < len(knots); k++ {
		s := slope(knots[k], knots[k+1])
		if math.Abs(s-prev) > segmentTol*math.Max(1, math.Abs(prev)) {
			n++
		}
		prev = s
	}
	return n
}

// knots are the distinct densities with their frontier values, sorted.
func (m *Model) knots() [][2]float64 {
	pts := make([][2]float64, len(m.X))
	for i := range m.X {
		pts[i] = [2]float64{m.X[i], m.Frontier[i]}
	}
	sort.Slice(pts, func(a, b int) bool { return pts[a][0] < pts[b][0] })
	out := pts[:0]
	for _, p := range pts {
		if len(out) == 0 || p[0] != out[len(out)-1][0] {
			out = append(out, p)
		}
	}
	return out
}

func slope(a, b [2]float64) float64 {
	return (b[1] - a[1]) / (b[0] - a[0])
}

// EstimateRow is one observation of a fitted fundamental diagram.
type EstimateRow struct {
	Density       float64 `json:"density"`
	Flow          float64 `json:"flow"`
	FlowEstimate  float64 `json:"flow_estimate"`
	Speed         float64 `json:"speed"`
	SpeedEstimate float64 `json:"speed_estimate"`
	// Set only for models with a contextual variable.
	Context         *float64 `json:"context,omitempty"`
	ContextEstimate *float64 `json:"context_estimate,omitempty"`
}

// Estimate returns the observations with their fitted values, sorted by
// density. Speeds are flow over density and NaN at zero density.
func (r *Results) Estimate(k Key) ([]EstimateRow, error) {
	m, err := r.Get(k)
	if err != nil {
		return nil, err
	}
	return m.Estimate(), nil
}

func (m *Model) Estimate() []EstimateRow {
	rows := make([]EstimateRow, len(m.X))
	for i := range m.X {
		row := EstimateRow{
			Density:      m.X[i],
			Flow:         m.Y[i],
			FlowEstimate: m.Fitted[i],
		}
		if m.Z != nil {
			z, lambda := m.Z[i], m.Lambda
			row.Context = &z
			row.ContextEstimate = &lambda
		}
		rows[i] = row
	}
	sort.SliceStable(rows, func(a, b int) bool { return rows[a].Density < rows[b].Density })
	for i := range rows {
		rows[i].Speed = speed(rows[i].Flow, rows[i].Density)
		rows[i].SpeedEstimate = speed(rows[i].FlowEstimate, rows[i].Density)
	}
	return rows
}

func speed(flow, density float64) float64 {
	if density == 0 {
		return math.NaN()
	}
	return flow / density
}

func (r *Results) ProblemStatus(k Key) (solver.Status, error) {
	m, err := r.Get(k)
	if err != nil {
		return solver.StatusUnknown, err
	}
	return m.Status, nil
}

// ContextEstimate returns lambda, the coefficient of the contextual variable.
func (r *Results) ContextEstimate(k Key) (float64, error) {
	m, err := r.Get(k)
	if err != nil {
		return 0, err
	}
	if m.Z == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoContext, k)
	}
	return m.Lambda, nil
}

// TTest is the significance test of the contextual coefficient.
type TTest struct {
	Lambda   float64
	StdErr   float64
	T        float64
	PValue   float64
	DF       float64
	Critical float64
}

// TTestContext tests lambda against zero with a Student t distribution of
// n-2 degrees of freedom. PValue is one sided, 1 - F(|t|).
func (r *Results) TTestContext(k Key, alpha float64) (TTest, error) {
	if !(alpha > 0 && alpha < 1) {
		return TTest{}, fmt.Errorf("%w: got %v", ErrInvalidSignificance, alpha)
	}
	m, err := r.Get(k)
	if err != nil {
		return TTest{}, err
	}
	if m.Z == nil {
		return TTest{}, fmt.Errorf("%w: %s", ErrNoContext, k)
	}
	n := len(m.Y)
	if n < 3 {
		return TTest{}, fmt.Errorf("%w: t-test needs at least 3 observations, got %d", ErrNoObservations, n)
	}

	zMean := stat.Mean(m.Z, nil)
	var sumZ, sumY float64
	for i := range m.Y {
		d := m.Z[i] - zMean
		sumZ += d * d
		e := m.Y[i] - m.Fitted[i]
		sumY += e * e
	}
	df := float64(n - 2)
	se := math.Sqrt(sumY/df) / math.Sqrt(sumZ)

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	res := TTest{
		Lambda:   m.Lambda,
		StdErr:   se,
		T:        m.Lambda / se,
		DF:       df,
		Critical: dist.Quantile(alpha),
	}
	res.PValue = 1 - dist.CDF(math.Abs(res.T))
	log.Printf("[LOG] %s: lambda=%g t-value=%g t-score(%g, %g)=%g p-value=%g",
		k, res.Lambda, res.T, alpha, df, res.Critical, res.PValue)
	return res, nil
}
