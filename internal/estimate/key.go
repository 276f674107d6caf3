package estimate

import (
	"fmt"
	"strconv"

	"github.com/chrisdamba/roadtraffic/internal/models"
)

// MeanLabel is the quantile label of mean models.
const MeanLabel = "mean"

// Key is (quantile or "mean", penalty, eta, context).
type Key struct {
	Quantile string
	Penalty  string
	Eta      float64
	Context  string
}

func QuantileLabel(tau float64) string {
	return strconv.FormatFloat(tau, 'f', -1, 64)
}

// MeanKey is the key of an unpenalised mean model without context.
func MeanKey() Key {
	return Key{Quantile: MeanLabel}
}

// QuantileKey is the key of an unpenalised quantile model without context.
func QuantileKey(tau float64) Key {
	return Key{Quantile: QuantileLabel(tau)}
}

// WithPenalty returns the key of the same model fitted with a penalty.
func (k Key) WithPenalty(penalty string, eta float64) Key {
	k.Penalty = penalty
	k.Eta = eta
	if penalty == models.PenaltyNone {
		k.Eta = 0
	}
	return k
}

// WithContext returns the key of the same model fitted with a contextual variable.
func (k Key) WithContext(name string) Key {
	k.Context = name
	return k
}

func (k Key) String() string {
	s := k.Quantile
	if k.Penalty != "" {
		s += fmt.Sprintf("/%s(eta=%g)", k.Penalty, k.Eta)
	}
	if k.Context != "" {
		s += "/z=" + k.Context
	}
	return s
}
