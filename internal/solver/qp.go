package solver

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// QuadraticProgram is
//
//	minimize ½xᵀPx + qᵀx  s.t.  l <= Ax <= u.
//
// P may be nil for a linear objective. Infinite bounds leave a side open.
type QuadraticProgram struct {
	P *mat.SymDense
	Q []float64
	A *mat.Dense
	L []float64
	U []float64
}

// ADMMSettings tune the iteration. Zero values select the defaults.
type ADMMSettings struct {
	Rho           float64
	Sigma         float64
	Alpha         float64
	EpsAbs        float64
	EpsRel        float64
	MaxIter       int
	AdaptiveEvery int
	// PolishEvery is the iteration spacing of polishing attempts once the
	// residuals are small. Negative disables polishing.
	PolishEvery int
}

func DefaultADMMSettings() ADMMSettings {
	return ADMMSettings{
		Rho:           0.1,
		Sigma:         1e-6,
		Alpha:         1.6,
		EpsAbs:        1e-7,
		EpsRel:        1e-7,
		MaxIter:       50000,
		AdaptiveEvery: 25,
		PolishEvery:   100,
	}
}

func (s ADMMSettings) withDefaults() ADMMSettings {
	d := DefaultADMMSettings()
	if s.Rho <= 0 {
		s.Rho = d.Rho
	}
	if s.Sigma <= 0 {
		s.Sigma = d.Sigma
	}
	if s.Alpha <= 0 || s.Alpha >= 2 {
		s.Alpha = d.Alpha
	}
	if s.EpsAbs <= 0 {
		s.EpsAbs = d.EpsAbs
	}
	if s.EpsRel <= 0 {
		s.EpsRel = d.EpsRel
	}
	if s.MaxIter <= 0 {
		s.MaxIter = d.MaxIter
	}
	if s.AdaptiveEvery <= 0 {
		s.AdaptiveEvery = d.AdaptiveEvery
	}
	if s.PolishEvery == 0 {
		s.PolishEvery = d.PolishEvery
	}
	return s
}

// equality rows get a stiffer penalty
const eqRhoScale = 1e3

const (
	// polishDelta regularises the reduced KKT system of the polishing step.
	polishDelta  = 1e-6
	polishRefine = 25
	// polishTol bounds the relative KKT violation of a polished solution.
	polishTol = 1e-7
	// polishStart is the relative residual below which polishing is tried.
	polishStart = 1e-3
)

func (p QuadraticProgram) validate() (n, m int, err error) {
	n = len(p.Q)
	if n == 0 {
		return 0, 0, fmt.Errorf("%w: no variables", ErrShape)
	}
	if p.P != nil && p.P.SymmetricDim() != n {
		return 0, 0, fmt.Errorf("%w: P is %d, q has %d", ErrShape, p.P.SymmetricDim(), n)
	}
	if p.A != nil {
		var c int
		m, c = p.A.Dims()
		if c != n {
			return 0, 0, fmt.Errorf("%w: A has %d columns, q has %d", ErrShape, c, n)
		}
	}
	if len(p.L) != m || len(p.U) != m {
		return 0, 0, fmt.Errorf("%w: %d constraint rows, %d lower and %d upper bounds", ErrShape, m, len(p.L), len(p.U))
	}
	for i := range p.L {
		if p.L[i] > p.U[i] {
			return 0, 0, fmt.Errorf("%w: row %d has lower bound %v above upper bound %v", ErrShape, i, p.L[i], p.U[i])
		}
	}
	return n, m, nil
}

type admm struct {
	p      QuadraticProgram
	set    ADMMSettings
	n, m   int
	rho    []float64
	rhoBar float64
	chol   mat.Cholesky

	x, xt, rhs, tmpN *mat.VecDense
	z, zt, y, tmpM   *mat.VecDense
}

// SolveADMM runs the OSQP style iteration: the reduced KKT matrix
// P + σI + Aᵀdiag(ρ)A is factorised once per penalty update and every
// step solves one linear system, projects onto [l, u] and updates the
// dual variables.
func SolveADMM(ctx context.Context, p QuadraticProgram, settings ADMMSettings) (Result, error) {
	n, m, err := p.validate()
	if err != nil {
		return Result{Status: Failed}, err
	}
	s := &admm{
		p:    p,
		set:  settings.withDefaults(),
		n:    n,
		m:    m,
		x:    mat.NewVecDense(n, nil),
		rhs:  mat.NewVecDense(n, nil),
		xt:   mat.NewVecDense(n, nil),
		tmpN: mat.NewVecDense(n, nil),
	}
	s.rhoBar = s.set.Rho
	if m > 0 {
		s.z = mat.NewVecDense(m, nil)
		s.y = mat.NewVecDense(m, nil)
		s.zt = mat.NewVecDense(m, nil)
		s.tmpM = mat.NewVecDense(m, nil)
	}
	s.setRho(s.rhoBar)
	if err := s.factorize(); err != nil {
		return Result{Status: Failed}, err
	}

	q := mat.NewVecDense(n, p.Q)
	for iter := 1; iter <= s.set.MaxIter; iter++ {
		if iter%100 == 0 {
			if err := ctx.Err(); err != nil {
				return s.result(IterationLimit, iter), err
			}
		}
		if err := s.step(q); err != nil {
			return s.result(Failed, iter), err
		}

		rPrim, rDual, epsPrim, epsDual, scalePrim, scaleDual := s.residuals(q)
		if rPrim <= epsPrim && rDual <= epsDual {
			if s.set.PolishEvery > 0 {
				s.polish(q)
			}
			return s.result(Optimal, iter), nil
		}
		if m > 0 && s.set.PolishEvery > 0 && iter%s.set.PolishEvery == 0 &&
			rPrim <= polishStart*math.Max(1, scalePrim) && rDual <= polishStart*math.Max(1, scaleDual) {
			if s.polish(q) {
				return s.result(Optimal, iter), nil
			}
		}

		if m > 0 && iter%s.set.AdaptiveEvery == 0 {
			ratio := math.Sqrt((rPrim / math.Max(scalePrim, 1e-12)) / math.Max(rDual/math.Max(scaleDual, 1e-12), 1e-12))
			newRho := math.Min(math.Max(s.rhoBar*ratio, 1e-6), 1e6)
			if newRho > 5*s.rhoBar || newRho < 0.2*s.rhoBar {
				s.rhoBar = newRho
				s.setRho(newRho)
				if err := s.factorize(); err != nil {
					return s.result(Failed, iter), err
				}
			}
		}
	}
	if m > 0 && s.set.PolishEvery > 0 && s.polish(q) {
		return s.result(Optimal, s.set.MaxIter), nil
	}
	return s.result(IterationLimit, s.set.MaxIter), nil
}

func (s *admm) setRho(rho float64) {
	s.rho = make([]float64, s.m)
	for i := range s.rho {
		switch {
		case math.IsInf(s.p.L[i], -1) && math.IsInf(s.p.U[i], 1):
			s.rho[i] = 1e-6
		case s.p.L[i] == s.p.U[i]:
			s.rho[i] = eqRhoScale * rho
		default:
			s.rho[i] = rho
		}
	}
}

func (s *admm) factorize() error {
	k := mat.NewSymDense(s.n, nil)
	if s.p.P != nil {
		k.CopySym(s.p.P)
	}
	for i := 0; i < s.n; i++ {
		k.SetSym(i, i, k.At(i, i)+s.set.Sigma)
	}
	if s.m > 0 {
		// Aᵀdiag(ρ)A
		scaled := mat.DenseCopyOf(s.p.A)
		for i := 0; i < s.m; i++ {
			row := scaled.RawRowView(i)
			floats.Scale(math.Sqrt(s.rho[i]), row)
		}
		var ata mat.SymDense
		ata.SymOuterK(1, scaled.T())
		k.AddSym(k, &ata)
	}
	if ok := s.chol.Factorize(k); !ok {
		return fmt.Errorf("admm: KKT matrix is not positive definite")
	}
	return nil
}

func (s *admm) step(q *mat.VecDense) error {
	alpha := s.set.Alpha

	// rhs = σx - q + Aᵀ(ρz - y)
	s.rhs.ScaleVec(s.set.Sigma, s.x)
	s.rhs.SubVec(s.rhs, q)
	if s.m > 0 {
		for i := 0; i < s.m; i++ {
			s.tmpM.SetVec(i, s.rho[i]*s.z.AtVec(i)-s.y.AtVec(i))
		}
		s.tmpN.MulVec(s.p.A.T(), s.tmpM)
		s.rhs.AddVec(s.rhs, s.tmpN)
	}
	if err := s.chol.SolveVecTo(s.xt, s.rhs); err != nil {
		return fmt.Errorf("admm: %w", err)
	}

	if s.m > 0 {
		s.zt.MulVec(s.p.A, s.xt)
		for i := 0; i < s.m; i++ {
			zRelax := alpha*s.zt.AtVec(i) + (1-alpha)*s.z.AtVec(i)
			zNew := clamp(zRelax+s.y.AtVec(i)/s.rho[i], s.p.L[i], s.p.U[i])
			s.y.SetVec(i, s.y.AtVec(i)+s.rho[i]*(zRelax-zNew))
			s.z.SetVec(i, zNew)
		}
	}
	for j := 0; j < s.n; j++ {
		s.x.SetVec(j, alpha*s.xt.AtVec(j)+(1-alpha)*s.x.AtVec(j))
	}
	return nil
}

// residuals returns the primal and dual residuals, their tolerances and
// the scales used to balance ρ.
func (s *admm) residuals(q *mat.VecDense) (rPrim, rDual, epsPrim, epsDual, scalePrim, scaleDual float64) {
	px := mat.NewVecDense(s.n, nil)
	if s.p.P != nil {
		px.MulVec(s.p.P, s.x)
	}
	dual := mat.NewVecDense(s.n, nil)
	dual.AddVec(px, q)
	var aty float64
	if s.m > 0 {
		var ax mat.VecDense
		ax.MulVec(s.p.A, s.x)
		var diff mat.VecDense
		diff.SubVec(&ax, s.z)
		rPrim = mat.Norm(&diff, math.Inf(1))
		scalePrim = math.Max(mat.Norm(&ax, math.Inf(1)), mat.Norm(s.z, math.Inf(1)))

		s.tmpN.MulVec(s.p.A.T(), s.y)
		aty = mat.Norm(s.tmpN, math.Inf(1))
		dual.AddVec(dual, s.tmpN)
	}
	rDual = mat.Norm(dual, math.Inf(1))
	scaleDual = math.Max(math.Max(mat.Norm(px, math.Inf(1)), aty), mat.Norm(q, math.Inf(1)))
	epsPrim = s.set.EpsAbs + s.set.EpsRel*scalePrim
	epsDual = s.set.EpsAbs + s.set.EpsRel*scaleDual
	return rPrim, rDual, epsPrim, epsDual, scalePrim, scaleDual
}

// polish guesses the active constraints from the iterate, solves the
// equality constrained problem on them by a regularised KKT solve with
// iterative refinement and keeps the solution only when it satisfies the
// optimality conditions of the full problem.
func (s *admm) polish(q *mat.VecDense) bool {
	if s.m == 0 {
		return false
	}
	var act []int
	var bound []float64
	for i := 0; i < s.m; i++ {
		l, u := s.p.L[i], s.p.U[i]
		z, y := s.z.AtVec(i), s.y.AtVec(i)
		switch {
		case l == u:
			act, bound = append(act, i), append(bound, l)
		case !math.IsInf(l, -1) && z-l < -y:
			act, bound = append(act, i), append(bound, l)
		case !math.IsInf(u, 1) && u-z < y:
			act, bound = append(act, i), append(bound, u)
		}
	}

	n, k := s.n, len(act)
	kkt := mat.NewDense(n+k, n+k, nil)
	if s.p.P != nil {
		kkt.Slice(0, n, 0, n).(*mat.Dense).Copy(s.p.P)
	}
	for r, i := range act {
		for j := 0; j < n; j++ {
			if v := s.p.A.At(i, j); v != 0 {
				kkt.Set(n+r, j, v)
				kkt.Set(j, n+r, v)
			}
		}
	}
	exact := mat.DenseCopyOf(kkt)
	for j := 0; j < n; j++ {
		kkt.Set(j, j, kkt.At(j, j)+polishDelta)
	}
	for r := 0; r < k; r++ {
		kkt.Set(n+r, n+r, -polishDelta)
	}
	var lu mat.LU
	lu.Factorize(kkt)

	rhs := mat.NewVecDense(n+k, nil)
	for j := 0; j < n; j++ {
		rhs.SetVec(j, -q.AtVec(j))
	}
	for r, b := range bound {
		rhs.SetVec(n+r, b)
	}
	sol := mat.NewVecDense(n+k, nil)
	if err := lu.SolveVecTo(sol, false, rhs); err != nil {
		return false
	}
	var resid, corr mat.VecDense
	for it := 0; it < polishRefine; it++ {
		resid.MulVec(exact, sol)
		resid.SubVec(rhs, &resid)
		if mat.Norm(&resid, math.Inf(1)) <= 1e-12*math.Max(1, mat.Norm(rhs, math.Inf(1))) {
			break
		}
		if err := lu.SolveVecTo(&corr, false, &resid); err != nil {
			return false
		}
		sol.AddVec(sol, &corr)
	}

	x := mat.NewVecDense(n, nil)
	y := mat.NewVecDense(s.m, nil)
	for j := 0; j < n; j++ {
		x.SetVec(j, sol.AtVec(j))
	}
	for r, i := range act {
		v := sol.AtVec(n + r)
		l, u := s.p.L[i], s.p.U[i]
		if l != u && ((bound[r] == l && v > polishTol) || (bound[r] == u && v < -polishTol)) {
			return false
		}
		y.SetVec(i, v)
	}
	if !s.kktHolds(q, x, y) {
		return false
	}

	s.x.CopyVec(x)
	s.y.CopyVec(y)
	s.z.MulVec(s.p.A, x)
	for i := 0; i < s.m; i++ {
		s.z.SetVec(i, clamp(s.z.AtVec(i), s.p.L[i], s.p.U[i]))
	}
	return true
}

// kktHolds checks primal feasibility and stationarity of (x, y) relative
// to the size of the problem data.
func (s *admm) kktHolds(q, x, y *mat.VecDense) bool {
	var ax mat.VecDense
	ax.MulVec(s.p.A, x)
	scale := math.Max(1, mat.Norm(&ax, math.Inf(1)))
	for i := 0; i < s.m; i++ {
		v := ax.AtVec(i)
		if v < s.p.L[i]-polishTol*scale || v > s.p.U[i]+polishTol*scale {
			return false
		}
	}

	grad := mat.NewVecDense(s.n, nil)
	if s.p.P != nil {
		grad.MulVec(s.p.P, x)
	}
	px := mat.Norm(grad, math.Inf(1))
	grad.AddVec(grad, q)
	var aty mat.VecDense
	aty.MulVec(s.p.A.T(), y)
	grad.AddVec(grad, &aty)
	scale = math.Max(math.Max(1, px), math.Max(mat.Norm(q, math.Inf(1)), mat.Norm(&aty, math.Inf(1))))
	return mat.Norm(grad, math.Inf(1)) <= polishTol*scale
}

func (s *admm) result(status Status, iter int) Result {
	x := make([]float64, s.n)
	copy(x, s.x.RawVector().Data)
	obj := floats.Dot(s.p.Q, x)
	if s.p.P != nil {
		v := mat.NewVecDense(s.n, x)
		obj += 0.5 * mat.Inner(v, s.p.P, v)
	}
	return Result{X: x, Objective: obj, Status: status, Iterations: iter}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
