package estimate

import (
	"context"
	"fmt"
	"log"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/chrisdamba/roadtraffic/internal/models"
	"github.com/chrisdamba/roadtraffic/internal/solver"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Model is a fitted frontier. Per-observation slices follow the order of
// the input data.
type Model struct {
	Key         Key
	Kind        string
	Quantile    float64
	Penalty     string
	Eta         float64
	ContextName string

	X       []float64
	Y       []float64
	Z       []float64
	Weights []float64

	// Frontier is f(x); Fitted adds the context term lambda*z.
	Frontier []float64
	Fitted   []float64
	Alpha    []float64
	Beta     []float64
	Lambda   float64

	Status     solver.Status
	Objective  float64
	Iterations int
	Method     solver.Method
	Elapsed    time.Duration
}

// problem holds the data in solver units: x and y divided by their
// largest magnitude, weights rescaled to average one.
//
// The frontier over the sorted distinct x is written in hinge form
//
//	f(x) = a + s(x - x_0) - Σ_j d_j (x - x_j)+,  d_j >= 0,
//
// with one kink per interior distinct x, so concavity is a sign bound
// on d and the slope of segment k is s - Σ_{j<=k} d_j.
type problem struct {
	spec Spec
	n, m int

	xScale, yScale float64
	ux             []float64 // sorted distinct x, scaled
	uxTrue         []float64
	group          []int
	y, z, w        []float64
	eta            float64

	// variable layout: a | s | d | lambda | t | u | v
	nv      int
	iSlope  int
	iKink   int
	nKink   int
	iLambda int
	iT      int
	iU, iV  int
}

// Fit estimates a concave piecewise-linear function of x. The fitted
// values at the distinct x form a concave sequence; slopes are free in
// sign.
func Fit(ctx context.Context, x, y []float64, spec Spec) (*Model, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := validateData(x, y, spec); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	key := spec.Key()
	log.Printf("[LOG] Estimating the %s model...", key)

	p := newProblem(x, y, spec)
	method, _ := solver.ParseMethod(string(spec.Solver))

	var res solver.Result
	var err error
	switch {
	case spec.linear():
		if method == solver.MethodAuto {
			method = solver.MethodSimplex
		}
		lp := p.linearProgram()
		if method == solver.MethodSimplex {
			res, err = solver.SolveSimplex(lp, 0)
		} else {
			res, err = solver.SolveADMM(ctx, lp.QP(), solver.ADMMSettings{})
		}
	default:
		if method == solver.MethodSimplex {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedSolver, key)
		}
		method = solver.MethodADMM
		res, err = solver.SolveADMM(ctx, p.quadraticProgram(), solver.ADMMSettings{})
	}
	if err != nil {
		return nil, fmt.Errorf("estimating %s: %w", key, err)
	}
	if res.Status != solver.Optimal || res.X == nil {
		return nil, fmt.Errorf("estimating %s: %w: %s solver finished with status %s after %d iterations",
			key, ErrNotSolved, method, res.Status, res.Iterations)
	}

	m := p.model(res)
	m.Key = key
	m.Method = method
	m.Elapsed = time.Since(start)
	log.Printf("[LOG] %s model was estimated in %.4f seconds.", key, m.Elapsed.Seconds())
	return m, nil
}

func validateData(x, y []float64, spec Spec) error {
	if len(x) == 0 {
		return ErrNoObservations
	}
	if len(x) != len(y) {
		return fmt.Errorf("%w: %d x, %d y", ErrMisaligned, len(x), len(y))
	}
	if spec.Weights != nil && len(spec.Weights) != len(x) {
		return fmt.Errorf("%w: %d weights for %d observations", ErrMisaligned, len(spec.Weights), len(x))
	}
	if spec.Context != nil && len(spec.Context) != len(x) {
		return fmt.Errorf("%w: %d context values for %d observations", ErrMisaligned, len(spec.Context), len(x))
	}
	for _, s := range [][]float64{x, y, spec.Weights, spec.Context} {
		for _, v := range s {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return ErrNonFinite
			}
		}
	}
	if spec.Weights != nil {
		sum := 0.0
		for _, w := range spec.Weights {
			if w < 0 {
				return fmt.Errorf("%w: got %v", ErrInvalidWeights, w)
			}
			sum += w
		}
		if sum <= 0 {
			return ErrInvalidWeights
		}
	}
	if spec.Context != nil {
		lo, hi := floats.Min(spec.Context), floats.Max(spec.Context)
		if lo == hi {
			return ErrConstantContext
		}
	}
	return nil
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	if m == 0 {
		return 1
	}
	return m
}

func newProblem(x, y []float64, spec Spec) *problem {
	n := len(x)
	p := &problem{
		spec:   spec,
		n:      n,
		xScale: maxAbs(x),
		yScale: maxAbs(y),
		group:  make([]int, n),
		y:      make([]float64, n),
		w:      make([]float64, n),
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })
	for _, i := range order {
		if len(p.uxTrue) == 0 || x[i] != p.uxTrue[len(p.uxTrue)-1] {
			p.uxTrue = append(p.uxTrue, x[i])
		}
		p.group[i] = len(p.uxTrue) - 1
	}
	p.m = len(p.uxTrue)
	p.ux = make([]float64, p.m)
	for k, v := range p.uxTrue {
		p.ux[k] = v / p.xScale
	}

	wSum := float64(n)
	if spec.Weights != nil {
		wSum = floats.Sum(spec.Weights)
	}
	objScale := float64(n) / wSum
	for i := range y {
		p.y[i] = y[i] / p.yScale
		p.w[i] = objScale
		if spec.Weights != nil {
			p.w[i] = spec.Weights[i] * objScale
		}
	}
	if spec.Context != nil {
		p.z = spec.Context
	}

	quantile := spec.Kind == models.ModelQuantile
	switch spec.Penalty {
	case models.PenaltyL1:
		if quantile {
			p.eta = spec.Eta / p.xScale
		} else {
			p.eta = spec.Eta / (p.xScale * p.yScale)
		}
		p.eta *= objScale
	case models.PenaltyL2:
		if quantile {
			p.eta = spec.Eta * p.yScale / (p.xScale * p.xScale)
		} else {
			p.eta = spec.Eta / (p.xScale * p.xScale)
		}
		p.eta *= objScale
	case models.PenaltyL3:
		p.eta = spec.Eta * p.xScale / p.yScale
	}

	p.nv = 1
	p.iSlope, p.iKink, p.iLambda, p.iT, p.iU, p.iV = -1, -1, -1, -1, -1, -1
	if p.m > 1 {
		p.iSlope = p.nv
		p.nv++
	}
	if p.m > 2 {
		p.iKink = p.nv
		p.nKink = p.m - 2
		p.nv += p.nKink
	}
	if p.z != nil {
		p.iLambda = p.nv
		p.nv++
	}
	if spec.Penalty == models.PenaltyL1 && p.m > 1 {
		p.iT = p.nv
		p.nv += p.m - 1
	}
	if quantile {
		p.iU = p.nv
		p.iV = p.nv + n
		p.nv += 2 * n
	}
	return p
}

// basisRow writes the coefficients of f(ux_g) over a, s and d.
func (p *problem) basisRow(row []float64, g int) {
	row[0] = 1
	if p.iSlope < 0 {
		return
	}
	row[p.iSlope] = p.ux[g] - p.ux[0]
	for j := 1; j < g && j <= p.nKink; j++ {
		row[p.iKink+j-1] = -(p.ux[g] - p.ux[j])
	}
}

// slopeRow adds sign times the slope of segment k.
func (p *problem) slopeRow(row []float64, k int, sign float64) {
	row[p.iSlope] += sign
	for j := 1; j <= k; j++ {
		row[p.iKink+j-1] -= sign
	}
}

// nonNegative marks the kink decrements and the auxiliary variables.
func (p *problem) nonNegative() []bool {
	nonneg := make([]bool, p.nv)
	for j := 0; j < p.nKink; j++ {
		nonneg[p.iKink+j] = true
	}
	if p.iT >= 0 {
		for k := 0; k < p.m-1; k++ {
			nonneg[p.iT+k] = true
		}
	}
	if p.iU >= 0 {
		for i := 0; i < 2*p.n; i++ {
			nonneg[p.iU+i] = true
		}
	}
	return nonneg
}

type boundedRow struct {
	coef   []float64
	lo, hi float64
}

// penaltyRows are the rows of the l1 and Lipschitz penalties as
// lo <= row*x <= hi.
func (p *problem) penaltyRows() []boundedRow {
	var rows []boundedRow
	for k := 0; k+1 < p.m; k++ {
		switch p.spec.Penalty {
		case models.PenaltyL1:
			for _, sign := range []float64{1, -1} {
				row := make([]float64, p.nv)
				p.slopeRow(row, k, sign)
				row[p.iT+k] = -1
				rows = append(rows, boundedRow{coef: row, lo: math.Inf(-1), hi: 0})
			}
		case models.PenaltyL3:
			row := make([]float64, p.nv)
			p.slopeRow(row, k, 1)
			rows = append(rows, boundedRow{coef: row, lo: -p.eta, hi: p.eta})
		}
	}
	return rows
}

// linearProgram is the quantile regression in the form
//
//	min Σ w(τu + (1-τ)v) + η Σ t
//	s.t. f(x_i) + λz_i + u_i - v_i = y_i, d, u, v, t >= 0, penalty rows.
func (p *problem) linearProgram() solver.LinearProgram {
	tau := p.spec.Quantile
	c := make([]float64, p.nv)
	if p.iT >= 0 {
		for k := 0; k < p.m-1; k++ {
			c[p.iT+k] = p.eta
		}
	}
	for i := 0; i < p.n; i++ {
		c[p.iU+i] = tau * p.w[i]
		c[p.iV+i] = (1 - tau) * p.w[i]
	}

	a := mat.NewDense(p.n, p.nv, nil)
	for i := 0; i < p.n; i++ {
		p.basisRow(a.RawRowView(i), p.group[i])
		if p.iLambda >= 0 {
			a.Set(i, p.iLambda, p.z[i])
		}
		a.Set(i, p.iU+i, 1)
		a.Set(i, p.iV+i, -1)
	}

	lp := solver.LinearProgram{
		C:           c,
		A:           a,
		B:           slices.Clone(p.y),
		NonNegative: p.nonNegative(),
	}

	var g [][]float64
	for _, r := range p.penaltyRows() {
		if !math.IsInf(r.hi, 1) {
			g = append(g, r.coef)
			lp.H = append(lp.H, r.hi)
		}
		if !math.IsInf(r.lo, -1) {
			neg := make([]float64, len(r.coef))
			floats.ScaleTo(neg, -1, r.coef)
			g = append(g, neg)
			lp.H = append(lp.H, -r.lo)
		}
	}
	if len(g) > 0 {
		lp.G = mat.NewDense(len(g), p.nv, nil)
		for i, row := range g {
			lp.G.SetRow(i, row)
		}
	}
	return lp
}

// addSlopeSquares adds 2η Σ r_k r_kᵀ, r_k the slope row of segment k, so
// that ½xᵀPx carries η Σ slope².
func (p *problem) addSlopeSquares(pm *mat.SymDense) {
	row := make([]float64, p.nv)
	for k := 0; k+1 < p.m; k++ {
		clear(row)
		p.slopeRow(row, k, 1)
		pm.SymRankOne(pm, 2*p.eta, mat.NewVecDense(p.nv, row))
	}
}

// quadraticProgram is the least squares problem, or the l2 penalised
// quantile regression.
func (p *problem) quadraticProgram() solver.QuadraticProgram {
	if p.spec.Kind == models.ModelQuantile {
		qp := p.linearProgram().QP()
		qp.P = mat.NewSymDense(p.nv, nil)
		p.addSlopeSquares(qp.P)
		return qp
	}

	// Σ_i w_i (f(x_i) + λz_i - y_i)² accumulated per distinct x
	wg := make([]float64, p.m)
	wzg := make([]float64, p.m)
	wyg := make([]float64, p.m)
	var wzz, wyz float64
	for i := 0; i < p.n; i++ {
		g, w := p.group[i], p.w[i]
		wg[g] += w
		wyg[g] += w * p.y[i]
		if p.iLambda >= 0 {
			wzg[g] += w * p.z[i]
			wzz += w * p.z[i] * p.z[i]
			wyz += w * p.y[i] * p.z[i]
		}
	}

	basis := mat.NewDense(p.m, p.nv, nil)
	q := make([]float64, p.nv)
	cross := make([]float64, p.nv)
	for g := 0; g < p.m; g++ {
		row := basis.RawRowView(g)
		p.basisRow(row, g)
		floats.AddScaled(q, -2*wyg[g], row)
		floats.AddScaled(cross, 2*wzg[g], row)
		floats.Scale(math.Sqrt(2*wg[g]), row)
	}
	pm := mat.NewSymDense(p.nv, nil)
	pm.SymOuterK(1, basis.T())
	if p.iLambda >= 0 {
		l := p.iLambda
		for j := 0; j < p.nv; j++ {
			if j != l && cross[j] != 0 {
				pm.SetSym(j, l, cross[j])
			}
		}
		pm.SetSym(l, l, 2*wzz)
		q[l] = -2 * wyz
	}

	switch p.spec.Penalty {
	case models.PenaltyL1:
		for k := 0; k < p.m-1; k++ {
			q[p.iT+k] = p.eta
		}
	case models.PenaltyL2:
		p.addSlopeSquares(pm)
	}

	qp := solver.QuadraticProgram{P: pm, Q: q}
	rows := p.penaltyRows()
	for j, nonneg := range p.nonNegative() {
		if !nonneg {
			continue
		}
		row := make([]float64, p.nv)
		row[j] = 1
		rows = append(rows, boundedRow{coef: row, lo: 0, hi: math.Inf(1)})
	}
	if len(rows) > 0 {
		qp.A = mat.NewDense(len(rows), p.nv, nil)
		for i, r := range rows {
			qp.A.SetRow(i, r.coef)
			qp.L = append(qp.L, r.lo)
			qp.U = append(qp.U, r.hi)
		}
	}
	return qp
}

// model maps a solution back to data units.
func (p *problem) model(res solver.Result) *Model {
	// walk the segments: f(ux_{k+1}) = f(ux_k) + s_k(ux_{k+1} - ux_k)
	yhat := make([]float64, p.m)
	slopes := make([]float64, max(p.m-1, 0))
	f, s := res.X[0], 0.0
	if p.iSlope >= 0 {
		s = res.X[p.iSlope]
	}
	for k := 0; k < p.m; k++ {
		if k > 0 {
			if k-1 >= 1 {
				s -= res.X[p.iKink+k-2]
			}
			f += s * (p.ux[k] - p.ux[k-1])
			slopes[k-1] = s * p.yScale / p.xScale
		}
		yhat[k] = f * p.yScale
	}

	spec := p.spec
	m := &Model{
		Kind:        spec.Kind,
		Quantile:    spec.Quantile,
		Penalty:     spec.Penalty,
		Eta:         spec.Eta,
		ContextName: spec.ContextName,
		Y:           make([]float64, p.n),
		X:           make([]float64, p.n),
		Weights:     spec.Weights,
		Z:           spec.Context,
		Frontier:    make([]float64, p.n),
		Fitted:      make([]float64, p.n),
		Alpha:       make([]float64, p.n),
		Beta:        make([]float64, p.n),
		Status:      res.Status,
		Iterations:  res.Iterations,
	}
	if p.iLambda >= 0 {
		m.Lambda = res.X[p.iLambda] * p.yScale
	}

	for i := 0; i < p.n; i++ {
		g := p.group[i]
		m.X[i] = p.uxTrue[g]
		m.Y[i] = p.y[i] * p.yScale
		var beta float64
		switch {
		case g < len(slopes):
			beta = slopes[g]
		case len(slopes) > 0:
			beta = slopes[len(slopes)-1]
		}
		m.Beta[i] = beta
		m.Alpha[i] = yhat[g] - beta*p.uxTrue[g]
		m.Frontier[i] = yhat[g]
		m.Fitted[i] = yhat[g]
		if m.Z != nil {
			m.Fitted[i] += m.Lambda * m.Z[i]
		}
	}
	m.Objective = objective(m, slopes)
	return m
}

// objective in data units, penalty included.
func objective(m *Model, slopes []float64) float64 {
	var loss float64
	for i := range m.Y {
		w := 1.0
		if m.Weights != nil {
			w = m.Weights[i]
		}
		r := m.Y[i] - m.Fitted[i]
		if m.Kind == models.ModelMean {
			loss += w * r * r
			continue
		}
		if r >= 0 {
			loss += w * m.Quantile * r
		} else {
			loss -= w * (1 - m.Quantile) * r
		}
	}
	switch m.Penalty {
	case models.PenaltyL1:
		for _, s := range slopes {
			loss += m.Eta * math.Abs(s)
		}
	case models.PenaltyL2:
		for _, s := range slopes {
			loss += m.Eta * s * s
		}
	}
	return loss
}
