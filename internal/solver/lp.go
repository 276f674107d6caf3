package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// DefaultSimplexTol is the reduced cost tolerance of the simplex.
const DefaultSimplexTol = 1e-9

// LinearProgram is
//
//	minimize cᵀx  s.t.  Gx <= h, Ax = b, x_j >= 0 for NonNegative[j].
//
// G and A may be nil. A nil NonNegative leaves every variable free.
type LinearProgram struct {
	C           []float64
	G           *mat.Dense
	H           []float64
	A           *mat.Dense
	B           []float64
	NonNegative []bool
}

func (p LinearProgram) validate() error {
	n := len(p.C)
	if n == 0 {
		return fmt.Errorf("%w: no variables", ErrShape)
	}
	if p.G != nil {
		r, c := p.G.Dims()
		if r != len(p.H) || c != n {
			return fmt.Errorf("%w: G is %dx%d, h has %d, c has %d", ErrShape, r, c, len(p.H), n)
		}
	} else if len(p.H) != 0 {
		return fmt.Errorf("%w: h without G", ErrShape)
	}
	if p.A != nil {
		r, c := p.A.Dims()
		if r != len(p.B) || c != n {
			return fmt.Errorf("%w: A is %dx%d, b has %d, c has %d", ErrShape, r, c, len(p.B), n)
		}
	} else if len(p.B) != 0 {
		return fmt.Errorf("%w: b without A", ErrShape)
	}
	if p.NonNegative != nil && len(p.NonNegative) != n {
		return fmt.Errorf("%w: nonnegative mask has %d entries, want %d", ErrShape, len(p.NonNegative), n)
	}
	return nil
}

// standardForm rewrites the program as min c'x, Ax = b, x >= 0. Free
// variables are split into a positive and a negative part and every
// inequality gets a slack. columns[j] lists the standard form columns of
// original variable j with their sign.
func (p LinearProgram) standardForm() (c []float64, a *mat.Dense, b []float64, columns [][2]int) {
	if p.NonNegative == nil {
		var g, eq mat.Matrix
		if p.G != nil {
			g = p.G
		}
		if p.A != nil {
			eq = p.A
		}
		c, a, b = lp.Convert(p.C, g, p.H, eq, p.B)
		n := len(p.C)
		columns = make([][2]int, n)
		for j := range columns {
			columns[j] = [2]int{j, n + j}
		}
		return c, a, b, columns
	}

	n := len(p.C)
	columns = make([][2]int, n)
	cols := 0
	for j := 0; j < n; j++ {
		if p.NonNegative[j] {
			columns[j] = [2]int{cols, -1}
			cols++
		} else {
			columns[j] = [2]int{cols, cols + 1}
			cols += 2
		}
	}
	nIneq, nEq := len(p.H), len(p.B)
	slack := cols
	cols += nIneq

	c = make([]float64, cols)
	for j, col := range columns {
		c[col[0]] = p.C[j]
		if col[1] >= 0 {
			c[col[1]] = -p.C[j]
		}
	}

	a = mat.NewDense(nIneq+nEq, cols, nil)
	b = make([]float64, nIneq+nEq)
	fill := func(row int, src *mat.Dense, srcRow int) {
		for j, col := range columns {
			v := src.At(srcRow, j)
			if v == 0 {
				continue
			}
			a.Set(row, col[0], v)
			if col[1] >= 0 {
				a.Set(row, col[1], -v)
			}
		}
	}
	for i := 0; i < nIneq; i++ {
		fill(i, p.G, i)
		a.Set(i, slack+i, 1)
		b[i] = p.H[i]
	}
	for i := 0; i < nEq; i++ {
		fill(nIneq+i, p.A, i)
		b[nIneq+i] = p.B[i]
	}
	return c, a, b, columns
}

// initialBasis picks, for every row, a column that is nonzero in that row
// only and whose value b_i/a_ij is nonnegative. It returns nil when some
// row has no such column and the simplex has to find a start itself.
func initialBasis(a *mat.Dense, b []float64) []int {
	rows, cols := a.Dims()
	owner := make([]int, cols)
	for j := range owner {
		owner[j] = -1
		for i := 0; i < rows; i++ {
			if a.At(i, j) == 0 {
				continue
			}
			if owner[j] != -1 {
				owner[j] = -2
				break
			}
			owner[j] = i
		}
	}

	basis := make([]int, rows)
	for i := range basis {
		basis[i] = -1
	}
	for j, i := range owner {
		if i < 0 || basis[i] != -1 {
			continue
		}
		if v := a.At(i, j); b[i] == 0 || (b[i] > 0) == (v > 0) {
			basis[i] = j
		}
	}
	for _, j := range basis {
		if j == -1 {
			return nil
		}
	}
	return basis
}

// SolveSimplex solves the program with gonum's simplex.
func SolveSimplex(p LinearProgram, tol float64) (Result, error) {
	if err := p.validate(); err != nil {
		return Result{Status: Failed}, err
	}
	if tol <= 0 {
		tol = DefaultSimplexTol
	}

	c, a, b, columns := p.standardForm()
	if rows, cols := a.Dims(); rows == 0 || rows > cols {
		return Result{Status: Failed}, fmt.Errorf("%w: %d constraints for %d standard form variables", ErrShape, rows, cols)
	}

	_, optX, err := lp.Simplex(c, a, b, tol, initialBasis(a, b))
	if errors.Is(err, lp.ErrUnbounded) && p.boundedBelow() {
		// A ray reported on a program bounded below comes from round-off
		// in the basis solves; start over from a phase one basis.
		_, optX, err = lp.Simplex(c, a, b, 10*tol, nil)
		if errors.Is(err, lp.ErrUnbounded) {
			return Result{Status: Failed, Objective: math.NaN()}, fmt.Errorf("simplex: %w on a program bounded below", err)
		}
	}
	res := Result{Status: Optimal}
	switch {
	case err == nil:
	case errors.Is(err, lp.ErrInfeasible):
		return Result{Status: Infeasible, Objective: math.NaN()}, nil
	case errors.Is(err, lp.ErrUnbounded):
		return Result{Status: Unbounded, Objective: math.Inf(-1)}, nil
	default:
		if optX == nil {
			return Result{Status: Failed, Objective: math.NaN()}, fmt.Errorf("simplex: %w", err)
		}
		res.Status = Failed
	}

	x := make([]float64, len(columns))
	for j, col := range columns {
		x[j] = optX[col[0]]
		if col[1] >= 0 {
			x[j] -= optX[col[1]]
		}
	}
	res.X = x
	res.Objective = floats.Dot(p.C, x)
	return res, nil
}

// boundedBelow reports whether cᵀx >= 0 on every feasible point because
// free variables cost nothing and sign constrained ones cost nonnegative
// amounts.
func (p LinearProgram) boundedBelow() bool {
	for j, cj := range p.C {
		nonneg := p.NonNegative != nil && p.NonNegative[j]
		if (nonneg && cj < 0) || (!nonneg && cj != 0) {
			return false
		}
	}
	return true
}

// QP returns the program as a quadratic program with P = 0 and every
// constraint written as a bounded row.
func (p LinearProgram) QP() QuadraticProgram {
	n := len(p.C)
	var rows [][]float64
	var l, u []float64
	if p.G != nil {
		for i := range p.H {
			rows = append(rows, mat.Row(nil, i, p.G))
			l = append(l, math.Inf(-1))
			u = append(u, p.H[i])
		}
	}
	if p.A != nil {
		for i := range p.B {
			rows = append(rows, mat.Row(nil, i, p.A))
			l = append(l, p.B[i])
			u = append(u, p.B[i])
		}
	}
	for j, nonneg := range p.NonNegative {
		if !nonneg {
			continue
		}
		row := make([]float64, n)
		row[j] = 1
		rows = append(rows, row)
		l = append(l, 0)
		u = append(u, math.Inf(1))
	}

	var a *mat.Dense
	if len(rows) > 0 {
		a = mat.NewDense(len(rows), n, nil)
		for i, row := range rows {
			a.SetRow(i, row)
		}
	}
	return QuadraticProgram{Q: append([]float64(nil), p.C...), A: a, L: l, U: u}
}
