// Package estimate fits concave piecewise-linear frontiers to fundamental
// diagram data: convex nonparametric least squares for the mean and
// convex quantile regression for quantiles, optionally weighted,
// penalised and with one additive contextual variable.
package estimate

import (
	"errors"
	"fmt"
	"math"

	"github.com/chrisdamba/roadtraffic/internal/models"
	"github.com/chrisdamba/roadtraffic/internal/solver"
)

var (
	ErrInvalidKind         = errors.New("model type must be mean or quantile")
	ErrInvalidQuantile     = errors.New("quantile must be in (0, 1)")
	ErrInvalidPenalty      = errors.New("penalty must be l1, l2 or l3")
	ErrMissingEta          = errors.New("penalty requires a positive eta")
	ErrNoObservations      = errors.New("no observations")
	ErrMisaligned          = errors.New("observation slices differ in length")
	ErrNonFinite           = errors.New("observations must be finite")
	ErrInvalidWeights      = errors.New("weights must be nonnegative with a positive sum")
	ErrConstantContext     = errors.New("contextual variable has no variation")
	ErrUnsupportedSolver   = errors.New("simplex cannot solve quadratic programs")
	ErrNotSolved           = errors.New("no optimal solution")
	ErrModelNotEstimated   = errors.New("model with the specified parameters is not estimated")
	ErrNoContext           = errors.New("model has no contextual variable")
	ErrInvalidSignificance = errors.New("significance level must be in (0, 1)")
)

// Spec describes one model to fit.
type Spec struct {
	Kind     string
	Quantile float64
	Penalty  string
	Eta      float64
	// Weights per observation, nil for an unweighted fit.
	Weights []float64
	// Context is the optional contextual variable z and ContextName its label.
	Context     []float64
	ContextName string
	Solver      solver.Method
}

func (s Spec) Validate() error {
	switch s.Kind {
	case models.ModelMean:
	case models.ModelQuantile:
		if !(s.Quantile > 0 && s.Quantile < 1) {
			return fmt.Errorf("%w: got %v", ErrInvalidQuantile, s.Quantile)
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidKind, s.Kind)
	}
	switch s.Penalty {
	case models.PenaltyNone:
	case models.PenaltyL1, models.PenaltyL2, models.PenaltyL3:
		if !(s.Eta > 0) || math.IsInf(s.Eta, 0) {
			return fmt.Errorf("%w: got %v", ErrMissingEta, s.Eta)
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidPenalty, s.Penalty)
	}
	if _, err := solver.ParseMethod(string(s.Solver)); err != nil {
		return err
	}
	if s.Context != nil && s.ContextName == "" {
		return errors.New("contextual variable needs a name")
	}
	return nil
}

// Key identifies a fitted model in Results.
func (s Spec) Key() Key {
	k := Key{Penalty: s.Penalty, Context: s.ContextName}
	if s.Kind == models.ModelMean {
		k.Quantile = MeanLabel
	} else {
		k.Quantile = QuantileLabel(s.Quantile)
	}
	if s.Penalty != models.PenaltyNone {
		k.Eta = s.Eta
	}
	return k
}

// linear reports whether the model is a linear program.
func (s Spec) linear() bool {
	return s.Kind == models.ModelQuantile && s.Penalty != models.PenaltyL2
}
