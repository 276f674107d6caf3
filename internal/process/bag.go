package process

import (
	"cmp"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/chrisdamba/roadtraffic/internal/models"
)

type bagKey struct {
	station   int
	direction int
	density   int
	flow      int
}

// Bag merges aggregates that fall into the same cell of a
// gridDensity x gridFlow grid into one weighted centroid. The grid spans
// zero to the maximum density and flow; the maxima land in an extra bin.
func Bag(aggs []models.AggregatedRecord, gridDensity, gridFlow int) ([]models.BaggedRecord, error) {
	if gridDensity < 1 || gridFlow < 1 {
		return nil, fmt.Errorf("%w: got %dx%d", ErrInvalidGrid, gridDensity, gridFlow)
	}
	if len(aggs) == 0 {
		return []models.BaggedRecord{}, nil
	}
	start := time.Now()

	var maxDensity, maxFlow float64
	for _, a := range aggs {
		maxDensity = max(maxDensity, a.Density)
		maxFlow = max(maxFlow, a.Flow)
	}
	densitySize := maxDensity / float64(gridDensity)
	flowSize := maxFlow / float64(gridFlow)

	bags := make(map[bagKey]*models.BaggedRecord)
	for _, a := range aggs {
		key := bagKey{
			station:   a.StationID,
			direction: a.Direction,
			density:   binIndex(a.Density, densitySize),
			flow:      binIndex(a.Flow, flowSize),
		}
		b, ok := bags[key]
		if !ok {
			b = &models.BaggedRecord{
				StationID:  key.station,
				Direction:  key.direction,
				DensityBin: key.density,
				FlowBin:    key.flow,
			}
			bags[key] = b
		}
		b.Size++
		b.SumFlow += a.Flow
		b.SumDensity += a.Density
	}

	total := float64(len(aggs))
	out := make([]models.BaggedRecord, 0, len(bags))
	for _, b := range bags {
		b.CentroidFlow = b.SumFlow / float64(b.Size)
		b.CentroidDensity = b.SumDensity / float64(b.Size)
		b.Weight = float64(b.Size) / total
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b models.BaggedRecord) int {
		return cmp.Or(
			cmp.Compare(a.StationID, b.StationID),
			cmp.Compare(a.Direction, b.Direction),
			cmp.Compare(a.DensityBin, b.DensityBin),
			cmp.Compare(a.FlowBin, b.FlowBin),
		)
	})

	log.Printf("Data bagging took %.4f seconds. Data reduction is %.2f%%",
		time.Since(start).Seconds(), (1-float64(len(out))/total)*100)
	return out, nil
}

// binIndex puts everything in bin zero when the axis has no extent.
func binIndex(v, size float64) int {
	if size <= 0 {
		return 0
	}
	return int(v / size)
}

// Representor evaluates the lower envelope min_i(alpha_i + beta_i*x) of
// the hyperplanes at every x.
func Representor(alpha, beta, x []float64) []float64 {
	out := make([]float64, len(x))
	for j, xj := range x {
		for i := range alpha {
			v := alpha[i] + beta[i]*xj
			if i == 0 || v < out[j] {
				out[j] = v
			}
		}
	}
	return out
}
