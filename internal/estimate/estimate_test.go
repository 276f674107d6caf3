package estimate

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisdamba/roadtraffic/internal/models"
	"github.com/chrisdamba/roadtraffic/internal/solver"
)

// triangle is a concave diagram with capacity 8 reached at density 4.
func triangle() (x, y []float64) {
	for k := 1; k <= 6; k++ {
		x = append(x, float64(k))
		y = append(y, math.Min(2*float64(k), 8))
	}
	return x, y
}

// noisyDiagram scatters n observations around a triangular diagram with
// free flow speed 100, capacity 2000 and jam density 120. Densities are
// rounded to 0.5 so some of them repeat.
func noisyDiagram(seed int64, n int) (x, y, truth []float64) {
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < n; i++ {
		k := math.Round(2*(1+109*rng.Float64())) / 2
		q := math.Min(100*k, 20*(120-k))
		x = append(x, k)
		truth = append(truth, q)
		y = append(y, q+150*rng.NormFloat64())
	}
	return x, y, truth
}

func checkLoss(y, f, w []float64, tau float64) float64 {
	var loss float64
	for i := range y {
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		r := y[i] - f[i]
		if r >= 0 {
			loss += wi * tau * r
		} else {
			loss -= wi * (1 - tau) * r
		}
	}
	return loss
}

func squaredLoss(y, f, w []float64) float64 {
	var loss float64
	for i := range y {
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		loss += wi * (y[i] - f[i]) * (y[i] - f[i])
	}
	return loss
}

// assertConcave checks that the frontier slopes never increase.
func assertConcave(t *testing.T, m *Model) {
	t.Helper()
	knots := m.knots()
	for k := 2; k < len(knots); k++ {
		prev, next := slope(knots[k-2], knots[k-1]), slope(knots[k-1], knots[k])
		assert.LessOrEqual(t, next, prev+1e-6*math.Max(1, math.Abs(prev)), "slope increases at density %v", knots[k-1][0])
	}
}

func median(s solver.Method) Spec {
	return Spec{Kind: models.ModelQuantile, Quantile: 0.5, Solver: s}
}

func TestFit_QuantileInterpolatesConcaveData(t *testing.T) {
	t.Parallel()
	x, y := triangle()

	for _, method := range []solver.Method{solver.MethodSimplex, solver.MethodADMM} {
		t.Run(string(method), func(t *testing.T) {
			m, err := Fit(context.Background(), x, y, median(method))
			require.NoError(t, err)
			assert.Equal(t, method, m.Method)
			assert.Equal(t, solver.Optimal, m.Status)
			assert.InDeltaSlice(t, y, m.Fitted, 1e-3)
			assert.InDelta(t, 0, m.Objective, 1e-3)
		})
	}
}

func TestFit_Coefficients(t *testing.T) {
	t.Parallel()
	x, y := triangle()

	m, err := Fit(context.Background(), x, y, median(solver.MethodAuto))
	require.NoError(t, err)
	assert.Equal(t, solver.MethodSimplex, m.Method)
	assert.InDeltaSlice(t, []float64{2, 2, 2, 0, 0, 0}, m.Beta, 1e-6)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 8, 8, 8}, m.Alpha, 1e-6)

	r := NewResults()
	r.Add(m)
	n, err := r.NumberOfSegments(QuantileKey(0.5))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = r.NumberOfHyperplanes(QuantileKey(0.5))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	coef, err := r.Coefficients(QuantileKey(0.5))
	require.NoError(t, err)
	require.Len(t, coef, 6)
	assert.InDelta(t, 8, coef[5][0], 1e-6)
}

func TestFit_MeanProjectsOntoConcave(t *testing.T) {
	t.Parallel()
	x := []float64{1, 2, 3}
	y := []float64{1, 0, 1}

	m, err := Fit(context.Background(), x, y, Spec{Kind: models.ModelMean})
	require.NoError(t, err)
	assert.Equal(t, solver.MethodADMM, m.Method)
	assert.InDeltaSlice(t, []float64{2.0 / 3, 2.0 / 3, 2.0 / 3}, m.Fitted, 1e-3)
	assert.InDelta(t, 2.0/3, m.Objective, 1e-3)
	assert.Equal(t, MeanKey(), m.Key)

	w := []float64{1, 2, 1}
	m, err = Fit(context.Background(), x, y, Spec{Kind: models.ModelMean, Weights: w})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0.5}, m.Fitted, 1e-3)
}

func TestFit_RepeatedDensities(t *testing.T) {
	t.Parallel()
	x := []float64{1, 1, 2, 2, 3, 3}
	y := []float64{1, 3, 3, 5, 3, 5}

	m, err := Fit(context.Background(), x, y, median(solver.MethodSimplex))
	require.NoError(t, err)
	assert.Equal(t, m.Frontier[0], m.Frontier[1])
	assert.Equal(t, m.Frontier[2], m.Frontier[3])
	assert.Equal(t, []float64{1, 1, 2, 2, 3, 3}, m.X)
}

func TestFit_Penalties(t *testing.T) {
	t.Parallel()
	x, y := triangle()

	t.Run("lipschitz", func(t *testing.T) {
		spec := median(solver.MethodSimplex)
		spec.Penalty, spec.Eta = models.PenaltyL3, 1
		m, err := Fit(context.Background(), x, y, spec)
		require.NoError(t, err)
		for _, b := range m.Beta {
			assert.LessOrEqual(t, math.Abs(b), 1+1e-6)
		}
		assert.Equal(t, Key{Quantile: "0.5", Penalty: models.PenaltyL3, Eta: 1}, m.Key)
	})

	t.Run("l1", func(t *testing.T) {
		spec := median(solver.MethodAuto)
		spec.Penalty, spec.Eta = models.PenaltyL1, 100
		m, err := Fit(context.Background(), x, y, spec)
		require.NoError(t, err)
		assert.InDeltaSlice(t, make([]float64, 6), m.Beta, 1e-6)
	})

	t.Run("l2", func(t *testing.T) {
		spec := median(solver.MethodAuto)
		spec.Penalty, spec.Eta = models.PenaltyL2, 1000
		m, err := Fit(context.Background(), x, y, spec)
		require.NoError(t, err)
		assert.Equal(t, solver.MethodADMM, m.Method)
		for _, b := range m.Beta {
			assert.Less(t, math.Abs(b), 0.05)
		}
	})

	t.Run("l2 with simplex", func(t *testing.T) {
		spec := median(solver.MethodSimplex)
		spec.Penalty, spec.Eta = models.PenaltyL2, 1
		_, err := Fit(context.Background(), x, y, spec)
		assert.ErrorIs(t, err, ErrUnsupportedSolver)
	})
}

func TestFit_Context(t *testing.T) {
	t.Parallel()
	var x, y, z []float64
	pattern := []float64{0, 1, 0, 2}
	for k := 1; k <= 8; k++ {
		zk := pattern[(k-1)%4]
		x = append(x, float64(k))
		z = append(z, zk)
		y = append(y, math.Min(2*float64(k), 8)+3*zk)
	}

	spec := median(solver.MethodSimplex)
	spec.Context, spec.ContextName = z, "weekday"
	m, err := Fit(context.Background(), x, y, spec)
	require.NoError(t, err)
	assert.InDelta(t, 3, m.Lambda, 1e-6)
	assert.InDeltaSlice(t, y, m.Fitted, 1e-6)

	r := NewResults()
	r.Add(m)
	key := QuantileKey(0.5).WithContext("weekday")
	lambda, err := r.ContextEstimate(key)
	require.NoError(t, err)
	assert.InDelta(t, 3, lambda, 1e-6)

	rows, err := r.Estimate(key)
	require.NoError(t, err)
	require.NotNil(t, rows[0].Context)
	assert.InDelta(t, 3, *rows[0].ContextEstimate, 1e-6)
}

func TestFit_NoisyQuantile(t *testing.T) {
	t.Parallel()
	x, y, truth := noisyDiagram(7, 60)

	for _, tau := range []float64{0.5, 0.9} {
		t.Run(QuantileLabel(tau), func(t *testing.T) {
			spec := Spec{Kind: models.ModelQuantile, Quantile: tau, Solver: solver.MethodSimplex}
			lp, err := Fit(context.Background(), x, y, spec)
			require.NoError(t, err)
			assert.Equal(t, solver.Optimal, lp.Status)
			assertConcave(t, lp)
			assert.LessOrEqual(t, lp.Objective, checkLoss(y, truth, nil, tau))
			assert.InDelta(t, checkLoss(y, lp.Fitted, nil, tau), lp.Objective, 1e-6*lp.Objective)

			spec.Solver = solver.MethodADMM
			admm, err := Fit(context.Background(), x, y, spec)
			require.NoError(t, err)
			assert.Equal(t, solver.Optimal, admm.Status)
			assert.InEpsilon(t, lp.Objective, admm.Objective, 1e-3)
		})
	}
}

func TestFit_NoisyQuantileLarge(t *testing.T) {
	t.Parallel()
	x, y, truth := noisyDiagram(11, 200)

	m, err := Fit(context.Background(), x, y, Spec{Kind: models.ModelQuantile, Quantile: 0.9})
	require.NoError(t, err)
	assert.Equal(t, solver.MethodSimplex, m.Method)
	assert.Equal(t, solver.Optimal, m.Status)
	assertConcave(t, m)
	assert.LessOrEqual(t, m.Objective, checkLoss(y, truth, nil, 0.9))

	below := 0
	for i := range y {
		if y[i] <= m.Fitted[i]+1e-3 {
			below++
		}
	}
	assert.GreaterOrEqual(t, below, 170, "most observations lie under the 0.9 frontier")
}

func TestFit_NoisyWeightedQuantile(t *testing.T) {
	t.Parallel()
	x, y, truth := noisyDiagram(3, 50)
	rng := rand.New(rand.NewSource(4))
	w := make([]float64, len(x))
	for i := range w {
		w[i] = float64(1 + rng.Intn(6))
	}

	spec := Spec{Kind: models.ModelQuantile, Quantile: 0.9, Weights: w, Solver: solver.MethodSimplex}
	lp, err := Fit(context.Background(), x, y, spec)
	require.NoError(t, err)
	assert.Equal(t, solver.Optimal, lp.Status)
	assertConcave(t, lp)
	assert.LessOrEqual(t, lp.Objective, checkLoss(y, truth, w, 0.9))

	spec.Solver = solver.MethodADMM
	admm, err := Fit(context.Background(), x, y, spec)
	require.NoError(t, err)
	assert.InEpsilon(t, lp.Objective, admm.Objective, 1e-3)
}

func TestFit_NoisyQuantileWithContext(t *testing.T) {
	t.Parallel()
	x, y, truth := noisyDiagram(5, 60)
	z := make([]float64, len(x))
	shifted := make([]float64, len(x))
	for i := range z {
		z[i] = float64(i % 3)
		y[i] += 200 * z[i]
		shifted[i] = truth[i] + 200*z[i]
	}

	spec := Spec{Kind: models.ModelQuantile, Quantile: 0.5, Context: z, ContextName: "lanes_closed", Solver: solver.MethodSimplex}
	lp, err := Fit(context.Background(), x, y, spec)
	require.NoError(t, err)
	assert.Equal(t, solver.Optimal, lp.Status)
	assertConcave(t, lp)
	assert.LessOrEqual(t, lp.Objective, checkLoss(y, shifted, nil, 0.5))
	assert.InDelta(t, 200, lp.Lambda, 120)

	spec.Solver = solver.MethodADMM
	admm, err := Fit(context.Background(), x, y, spec)
	require.NoError(t, err)
	assert.InEpsilon(t, lp.Objective, admm.Objective, 1e-3)
}

func TestFit_NoisyPenalisedQuantile(t *testing.T) {
	t.Parallel()
	x, y, _ := noisyDiagram(9, 60)

	for _, penalty := range []string{models.PenaltyL1, models.PenaltyL3} {
		t.Run(penalty, func(t *testing.T) {
			spec := Spec{Kind: models.ModelQuantile, Quantile: 0.5, Penalty: penalty, Eta: 50, Solver: solver.MethodSimplex}
			lp, err := Fit(context.Background(), x, y, spec)
			require.NoError(t, err)
			assert.Equal(t, solver.Optimal, lp.Status)
			assertConcave(t, lp)

			spec.Solver = solver.MethodADMM
			admm, err := Fit(context.Background(), x, y, spec)
			require.NoError(t, err)
			assert.InEpsilon(t, lp.Objective, admm.Objective, 1e-3)
		})
	}
}

func TestFit_NoisyMean(t *testing.T) {
	t.Parallel()
	x, y, truth := noisyDiagram(13, 80)

	m, err := Fit(context.Background(), x, y, Spec{Kind: models.ModelMean})
	require.NoError(t, err)
	assert.Equal(t, solver.Optimal, m.Status)
	assertConcave(t, m)
	assert.LessOrEqual(t, m.Objective, squaredLoss(y, truth, nil)*(1+1e-6))
	assert.InDelta(t, squaredLoss(y, m.Fitted, nil), m.Objective, 1e-6*m.Objective)

	w := make([]float64, len(x))
	for i := range w {
		w[i] = float64(1 + i%4)
	}
	weighted, err := Fit(context.Background(), x, y, Spec{Kind: models.ModelMean, Weights: w})
	require.NoError(t, err)
	assert.Equal(t, solver.Optimal, weighted.Status)
	assertConcave(t, weighted)
	assert.LessOrEqual(t, weighted.Objective, squaredLoss(y, truth, w)*(1+1e-6))
}

func TestFit_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	x, y, _ := noisyDiagram(1, 30)

	_, err := Fit(ctx, x, y, Spec{Kind: models.ModelMean})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFit_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	x, y := triangle()

	tests := []struct {
		name string
		x, y []float64
		spec Spec
		want error
	}{
		{"kind", x, y, Spec{Kind: "median"}, ErrInvalidKind},
		{"quantile", x, y, Spec{Kind: models.ModelQuantile, Quantile: 1}, ErrInvalidQuantile},
		{"penalty", x, y, Spec{Kind: models.ModelMean, Penalty: "l4", Eta: 1}, ErrInvalidPenalty},
		{"eta", x, y, Spec{Kind: models.ModelMean, Penalty: models.PenaltyL1}, ErrMissingEta},
		{"empty", nil, nil, Spec{Kind: models.ModelMean}, ErrNoObservations},
		{"misaligned", x, y[:3], Spec{Kind: models.ModelMean}, ErrMisaligned},
		{"nan", []float64{1, math.NaN()}, []float64{1, 2}, Spec{Kind: models.ModelMean}, ErrNonFinite},
		{"weights", x, y, Spec{Kind: models.ModelMean, Weights: []float64{1, 1, 1, 1, 1, -1}}, ErrInvalidWeights},
		{"zero weights", x, y, Spec{Kind: models.ModelMean, Weights: make([]float64, 6)}, ErrInvalidWeights},
		{"constant context", x, y, Spec{Kind: models.ModelMean, Context: []float64{1, 1, 1, 1, 1, 1}, ContextName: "c"}, ErrConstantContext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fit(ctx, tt.x, tt.y, tt.spec)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResults_Unknown(t *testing.T) {
	t.Parallel()
	r := NewResults()

	_, err := r.Get(MeanKey())
	assert.ErrorIs(t, err, ErrModelNotEstimated)
	_, err = r.Frontier(QuantileKey(0.9))
	assert.ErrorIs(t, err, ErrModelNotEstimated)
	_, err = r.ProblemStatus(MeanKey().WithPenalty(models.PenaltyL2, 0.5))
	assert.ErrorIs(t, err, ErrModelNotEstimated)
	_, err = r.TTestContext(MeanKey(), 0.05)
	assert.ErrorIs(t, err, ErrModelNotEstimated)
}

func TestResults_Estimate(t *testing.T) {
	t.Parallel()
	r := NewResults()
	r.Add(&Model{
		Key:    MeanKey(),
		X:      []float64{20, 0, 10},
		Y:      []float64{1000, 0, 800},
		Fitted: []float64{1100, 50, 700},
		Status: solver.Optimal,
	})

	rows, err := r.Estimate(MeanKey())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []float64{0, 10, 20}, []float64{rows[0].Density, rows[1].Density, rows[2].Density})
	assert.True(t, math.IsNaN(rows[0].Speed))
	assert.InDelta(t, 80, rows[1].Speed, 1e-12)
	assert.InDelta(t, 70, rows[1].SpeedEstimate, 1e-12)
	assert.InDelta(t, 55, rows[2].SpeedEstimate, 1e-12)
	assert.Nil(t, rows[0].Context)

	status, err := r.ProblemStatus(MeanKey())
	require.NoError(t, err)
	assert.Equal(t, solver.Optimal, status)

	_, err = r.ContextEstimate(MeanKey())
	assert.ErrorIs(t, err, ErrNoContext)
}

func TestResults_TTestContext(t *testing.T) {
	t.Parallel()
	key := MeanKey().WithContext("rain")
	r := NewResults()
	r.Add(&Model{
		Key:    key,
		X:      []float64{1, 2, 3, 4},
		Y:      []float64{1, 2, 3, 4},
		Z:      []float64{0, 1, 2, 3},
		Fitted: []float64{1.5, 1.5, 3.5, 3.5},
		Lambda: 1,
	})

	res, err := r.TTestContext(key, 0.05)
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.DF)
	assert.InDelta(t, math.Sqrt(0.1), res.StdErr, 1e-12)
	assert.InDelta(t, math.Sqrt(10), res.T, 1e-9)
	assert.InDelta(t, 0.5-math.Sqrt(10)/(2*math.Sqrt(12)), res.PValue, 1e-6)
	assert.InDelta(t, -2.919986, res.Critical, 1e-5)

	_, err = r.TTestContext(key, 1)
	assert.ErrorIs(t, err, ErrInvalidSignificance)
}

func TestResults_Order(t *testing.T) {
	t.Parallel()
	r := NewResults()
	r.Add(&Model{Key: QuantileKey(0.9)})
	r.Add(&Model{Key: MeanKey()})
	r.Add(&Model{Key: QuantileKey(0.9), Objective: 1})

	ms := r.Models()
	require.Len(t, ms, 2)
	assert.Equal(t, QuantileKey(0.9), ms[0].Key)
	assert.Equal(t, 1.0, ms[0].Objective)
	assert.Equal(t, 2, r.Len())
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "mean", MeanKey().String())
	assert.Equal(t, "0.95/l2(eta=0.5)/z=rain", QuantileKey(0.95).WithPenalty(models.PenaltyL2, 0.5).WithContext("rain").String())
	assert.Equal(t, QuantileKey(0.1), QuantileKey(0.1).WithPenalty(models.PenaltyNone, 3))
}
