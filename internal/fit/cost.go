package fit

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/plasticityfit/internal/store"
)

// CostFunc reduces per-outcome deviations to a scalar
type CostFunc func(deviations []float64) float64

// LInfCost is the worst-case absolute deviation
func LInfCost(d []float64) float64 {
	if len(d) == 0 {
		return 0
	}
	return floats.Max(d)
}

// L2Cost is the summed squared deviation. It is not divided by the number
// of outcomes, so values from different protocols are not comparable.
func L2Cost(d []float64) float64 {
	return floats.Dot(d, d)
}

// MetricsOf computes both stored metrics from absolute deviations
func MetricsOf(d []float64) (store.Metrics, error) {
	for i, v := range d {
		if v < 0 {
			return store.Metrics{}, fmt.Errorf("deviation %d is negative: %g", i, v)
		}
	}
	return store.Metrics{LInf: LInfCost(d), L2: L2Cost(d)}, nil
}
