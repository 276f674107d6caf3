package solver

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func textbookLP() LinearProgram {
	// max x1 + x2 s.t. x1 + 2x2 <= 4, 3x1 + x2 <= 6, x >= 0
	return LinearProgram{
		C:           []float64{-1, -1},
		G:           mat.NewDense(2, 2, []float64{1, 2, 3, 1}),
		H:           []float64{4, 6},
		NonNegative: []bool{true, true},
	}
}

func TestSolveSimplex(t *testing.T) {
	t.Parallel()

	res, err := SolveSimplex(textbookLP(), 0)
	require.NoError(t, err)
	assert.Equal(t, Optimal, res.Status)
	assert.InDelta(t, 1.6, res.X[0], 1e-9)
	assert.InDelta(t, 1.2, res.X[1], 1e-9)
	assert.InDelta(t, -2.8, res.Objective, 1e-9)
}

func TestSolveSimplex_FreeVariables(t *testing.T) {
	t.Parallel()

	// same program with the sign constraints written as rows, solved
	// through the general form conversion
	p := LinearProgram{
		C: []float64{-1, -1},
		G: mat.NewDense(4, 2, []float64{1, 2, 3, 1, -1, 0, 0, -1}),
		H: []float64{4, 6, 0, 0},
	}
	res, err := SolveSimplex(p, 0)
	require.NoError(t, err)
	assert.Equal(t, Optimal, res.Status)
	assert.InDelta(t, 1.6, res.X[0], 1e-9)
	assert.InDelta(t, 1.2, res.X[1], 1e-9)
}

func TestSolveSimplex_Equality(t *testing.T) {
	t.Parallel()

	// min u + v s.t. x + u - v = 3, x <= 1 with x free
	p := LinearProgram{
		C:           []float64{0, 1, 1},
		A:           mat.NewDense(1, 3, []float64{1, 1, -1}),
		B:           []float64{3},
		G:           mat.NewDense(1, 3, []float64{1, 0, 0}),
		H:           []float64{1},
		NonNegative: []bool{false, true, true},
	}
	res, err := SolveSimplex(p, 0)
	require.NoError(t, err)
	assert.Equal(t, Optimal, res.Status)
	assert.InDelta(t, 1.0, res.X[0], 1e-9)
	assert.InDelta(t, 2.0, res.Objective, 1e-9)
}

func TestSolveSimplex_Infeasible(t *testing.T) {
	t.Parallel()

	p := LinearProgram{
		C:           []float64{1},
		G:           mat.NewDense(1, 1, []float64{1}),
		H:           []float64{-1},
		NonNegative: []bool{true},
	}
	res, err := SolveSimplex(p, 0)
	require.NoError(t, err)
	assert.Equal(t, Infeasible, res.Status)
}

func TestSolveSimplex_ShapeErrors(t *testing.T) {
	t.Parallel()

	_, err := SolveSimplex(LinearProgram{}, 0)
	assert.ErrorIs(t, err, ErrShape)

	_, err = SolveSimplex(LinearProgram{C: []float64{1, 2}, G: mat.NewDense(1, 3, nil), H: []float64{0}}, 0)
	assert.ErrorIs(t, err, ErrShape)

	_, err = SolveSimplex(LinearProgram{C: []float64{1}, B: []float64{1}}, 0)
	assert.ErrorIs(t, err, ErrShape)
}

func TestInitialBasis(t *testing.T) {
	t.Parallel()

	a := mat.NewDense(2, 4, []float64{
		1, 1, -1, 0,
		1, 0, 0, 1,
	})
	assert.Equal(t, []int{2, 3}, initialBasis(a, []float64{-2, 5}))
	assert.Equal(t, []int{1, 3}, initialBasis(a, []float64{2, 5}))
	assert.Nil(t, initialBasis(a, []float64{2, -5}))
}

func TestBoundedBelow(t *testing.T) {
	t.Parallel()

	free := LinearProgram{C: []float64{0, 1, 1}, NonNegative: []bool{false, true, true}}
	assert.True(t, free.boundedBelow())

	costlyFree := LinearProgram{C: []float64{1, 1}, NonNegative: []bool{false, true}}
	assert.False(t, costlyFree.boundedBelow())

	assert.False(t, textbookLP().boundedBelow())
	assert.False(t, LinearProgram{C: []float64{0, 1}}.boundedBelow())
}

// absoluteDeviations is min Σ|y_i - a - b x_i| over a line with a free
// intercept and slope, written with split residuals.
func absoluteDeviations(x, y []float64) LinearProgram {
	n := len(x)
	nv := 2 + 2*n
	c := make([]float64, nv)
	nonneg := make([]bool, nv)
	a := mat.NewDense(n, nv, nil)
	for i := range x {
		a.Set(i, 0, 1)
		a.Set(i, 1, x[i])
		a.Set(i, 2+i, 1)
		a.Set(i, 2+n+i, -1)
		c[2+i], c[2+n+i] = 1, 1
		nonneg[2+i], nonneg[2+n+i] = true, true
	}
	return LinearProgram{C: c, A: a, B: append([]float64(nil), y...), NonNegative: nonneg}
}

func TestSolveSimplex_LeastAbsoluteDeviations(t *testing.T) {
	t.Parallel()

	var x, y []float64
	for i := 0; i < 40; i++ {
		xi := float64(i) / 39
		x = append(x, xi)
		y = append(y, 1+2*xi+0.3*math.Sin(7*float64(i)))
	}
	p := absoluteDeviations(x, y)
	res, err := SolveSimplex(p, 0)
	require.NoError(t, err)
	assert.Equal(t, Optimal, res.Status)

	// no line does better than the fitted one
	for _, shift := range []float64{-0.05, 0.05} {
		var loss float64
		for i := range x {
			loss += math.Abs(y[i] - (res.X[0] + shift) - res.X[1]*x[i])
		}
		assert.GreaterOrEqual(t, loss, res.Objective-1e-9)
	}

	admm, err := SolveADMM(context.Background(), p.QP(), ADMMSettings{})
	require.NoError(t, err)
	assert.Equal(t, Optimal, admm.Status)
	assert.InEpsilon(t, res.Objective, admm.Objective, 1e-4)
}

func TestSolveADMM_BoxQP(t *testing.T) {
	t.Parallel()

	// min ½(x1² + x2²) - x1 - x2 s.t. x1 + x2 <= 1
	p := QuadraticProgram{
		P: mat.NewSymDense(2, []float64{1, 0, 0, 1}),
		Q: []float64{-1, -1},
		A: mat.NewDense(1, 2, []float64{1, 1}),
		L: []float64{math.Inf(-1)},
		U: []float64{1},
	}
	res, err := SolveADMM(context.Background(), p, ADMMSettings{})
	require.NoError(t, err)
	assert.Equal(t, Optimal, res.Status)
	assert.InDelta(t, 0.5, res.X[0], 1e-4)
	assert.InDelta(t, 0.5, res.X[1], 1e-4)
	assert.InDelta(t, -0.75, res.Objective, 1e-4)
}

func TestSolveADMM_Equality(t *testing.T) {
	t.Parallel()

	// min x1² + x2² s.t. x1 + x2 = 2
	p := QuadraticProgram{
		P: mat.NewSymDense(2, []float64{2, 0, 0, 2}),
		Q: []float64{0, 0},
		A: mat.NewDense(1, 2, []float64{1, 1}),
		L: []float64{2},
		U: []float64{2},
	}
	res, err := SolveADMM(context.Background(), p, ADMMSettings{})
	require.NoError(t, err)
	assert.Equal(t, Optimal, res.Status)
	assert.InDelta(t, 1.0, res.X[0], 1e-4)
	assert.InDelta(t, 1.0, res.X[1], 1e-4)
}

func TestSolveADMM_Unconstrained(t *testing.T) {
	t.Parallel()

	p := QuadraticProgram{
		P: mat.NewSymDense(1, []float64{2}),
		Q: []float64{-4},
	}
	res, err := SolveADMM(context.Background(), p, ADMMSettings{})
	require.NoError(t, err)
	assert.Equal(t, Optimal, res.Status)
	assert.InDelta(t, 2.0, res.X[0], 1e-5)
}

func TestSolveADMM_LinearProgram(t *testing.T) {
	t.Parallel()

	res, err := SolveADMM(context.Background(), textbookLP().QP(), ADMMSettings{})
	require.NoError(t, err)
	assert.Equal(t, Optimal, res.Status)
	assert.InDelta(t, 1.6, res.X[0], 1e-3)
	assert.InDelta(t, 1.2, res.X[1], 1e-3)
}

func TestSolveADMM_Errors(t *testing.T) {
	t.Parallel()

	_, err := SolveADMM(context.Background(), QuadraticProgram{}, ADMMSettings{})
	assert.ErrorIs(t, err, ErrShape)

	bad := QuadraticProgram{
		Q: []float64{1},
		A: mat.NewDense(1, 1, []float64{1}),
		L: []float64{2},
		U: []float64{1},
	}
	_, err = SolveADMM(context.Background(), bad, ADMMSettings{})
	assert.ErrorIs(t, err, ErrShape)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := textbookLP().QP()
	res, err := SolveADMM(ctx, slow, ADMMSettings{EpsAbs: 1e-300, EpsRel: 1e-300})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, IterationLimit, res.Status)
}

func TestSolveADMM_IllConditioned(t *testing.T) {
	t.Parallel()

	p := QuadraticProgram{
		P: mat.NewSymDense(2, []float64{1e12, 0, 0, 0}),
		Q: []float64{1, -1},
	}
	res, err := SolveADMM(context.Background(), p, ADMMSettings{})
	var cond mat.Condition
	assert.ErrorAs(t, err, &cond)
	assert.Equal(t, Failed, res.Status)
}

func TestSolveADMM_PolishDisabled(t *testing.T) {
	t.Parallel()

	res, err := SolveADMM(context.Background(), textbookLP().QP(), ADMMSettings{PolishEvery: -1})
	require.NoError(t, err)
	assert.Equal(t, Optimal, res.Status)
	assert.InDelta(t, -2.8, res.Objective, 1e-3)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodAuto, m)

	m, err = ParseMethod("admm")
	require.NoError(t, err)
	assert.Equal(t, MethodADMM, m)

	_, err = ParseMethod("interior")
	assert.Error(t, err)

	assert.Equal(t, "optimal", Optimal.String())
	assert.Equal(t, 1, int(Optimal))
}
