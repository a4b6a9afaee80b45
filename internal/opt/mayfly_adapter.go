package opt

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MayflyAdapter wraps the Mayfly library to conform to the Optimizer interface
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a Mayfly optimizer. Population sizes below 20 are
// raised to 20, the smallest the library accepts.
func NewMayfly(maxIters, popSize int, seed int64) (*MayflyAdapter, error) {
	if maxIters <= 0 {
		return nil, fmt.Errorf("iterations must be positive, got %d", maxIters)
	}
	if popSize < 20 {
		popSize = 20
	}
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}, nil
}

// Run executes the optimization. Mayfly only supports one scalar bound for
// all dimensions, so the search runs on the unit cube and every position is
// mapped back to [lower[i], upper[i]] before eval sees it.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64) ([]float64, float64, error) {
	dim := len(lower)
	if dim == 0 || len(upper) != dim {
		return nil, 0, fmt.Errorf("bounds mismatch: %d lower, %d upper", len(lower), len(upper))
	}
	for i := range lower {
		if upper[i] < lower[i] {
			return nil, 0, fmt.Errorf("dimension %d: upper %g below lower %g", i, upper[i], lower[i])
		}
	}

	config := mayfly.NewDefaultConfig()

	denormalize := func(pos []float64) []float64 {
		x := make([]float64, dim)
		for i := range x {
			u := math.Min(1, math.Max(0, pos[i]))
			x[i] = lower[i] + u*(upper[i]-lower[i])
		}
		return x
	}

	config.ObjectiveFunc = func(pos []float64) float64 {
		return eval(denormalize(pos))
	}
	config.ProblemSize = dim
	config.LowerBound = 0.0
	config.UpperBound = 1.0
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := runMayfly(config)
	if err != nil {
		return nil, 0, err
	}
	return denormalize(result.GlobalBest.Position), result.GlobalBest.Cost, nil
}

func runMayfly(cfg *mayfly.Config) (_ *mayfly.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mayfly panic: %v", r)
		}
	}()
	return mayfly.Optimize(cfg)
}
