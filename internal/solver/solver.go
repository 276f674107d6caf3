// Package solver solves the linear and quadratic programs behind the
// frontier estimators. Linear programs go through gonum's simplex;
// quadratic programs through an operator splitting (ADMM) iteration.
package solver

import (
	"errors"
	"fmt"
)

// Status reports how a solve ended. Optimal is 1 so it can be exported
// as the usual solver status code.
type Status int

const (
	StatusUnknown Status = iota
	Optimal
	Infeasible
	Unbounded
	IterationLimit
	Failed
)

func (s Status) String() string {
	switch s {
	case Optimal:
		return "optimal"
	case Infeasible:
		return "infeasible"
	case Unbounded:
		return "unbounded"
	case IterationLimit:
		return "iteration_limit"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Method selects the algorithm.
type Method string

const (
	MethodAuto    Method = "auto"
	MethodSimplex Method = "simplex"
	MethodADMM    Method = "admm"
)

func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "", MethodAuto:
		return MethodAuto, nil
	case MethodSimplex, MethodADMM:
		return Method(s), nil
	}
	return "", fmt.Errorf("unknown solver %q, want auto, simplex or admm", s)
}

var ErrShape = errors.New("solver: inconsistent problem dimensions")

// Result of a solve. X may be set even when the status is not Optimal.
type Result struct {
	X          []float64
	Objective  float64
	Status     Status
	Iterations int
}
