package fit

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/plasticityfit/internal/opt"
	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/store"
)

// RefineResult holds the output of a continuous refinement
type RefineResult struct {
	Start       param.Configuration
	Initial     store.Metrics
	Best        param.Configuration
	BestValues  param.Values
	BestMetrics store.Metrics
	Evaluations int
}

// Refine polishes start by minimizing L2 over continuous indices inside the
// free ranges of space. Fixed parameters of the space keep their indices.
// Refinement results are not written to any store; the indices are off-grid.
func Refine(ctx context.Context, pipeline *Pipeline, optimizer opt.Optimizer, space *param.Space, start param.Configuration) (*RefineResult, error) {
	if !space.Contains(start) {
		return nil, fmt.Errorf("start %v lies outside the space", start)
	}
	dim := len(space.Free)
	if dim == 0 {
		return nil, fmt.Errorf("space has no free parameters")
	}

	slog.Info("Starting refinement", "free_params", dim, "start", start.String())

	initial, err := pipeline.Evaluate(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate start: %w", err)
	}

	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i, f := range space.Free {
		lower[i] = f.Lower
		upper[i] = f.Upper
	}

	configure := func(x []float64) param.Configuration {
		cfg := start
		for i, f := range space.Free {
			cfg = cfg.With(f.ID, x[i])
		}
		return cfg
	}

	// The optimizer has no error channel. The first failure stops further
	// simulations and is reported after the run.
	var (
		evalErr     error
		evaluations int
	)
	objective := func(x []float64) float64 {
		if evalErr != nil {
			return math.Inf(1)
		}
		if err := ctx.Err(); err != nil {
			evalErr = err
			return math.Inf(1)
		}
		m, err := pipeline.Evaluate(ctx, configure(x))
		if err != nil {
			evalErr = err
			return math.Inf(1)
		}
		evaluations++
		return m.L2
	}

	bestX, bestCost, err := optimizer.Run(objective, lower, upper)
	if err != nil {
		return nil, err
	}
	if evalErr != nil {
		return nil, fmt.Errorf("refinement aborted: %w", evalErr)
	}

	best := configure(bestX)
	result := &RefineResult{
		Start:       start,
		Initial:     initial,
		Best:        best,
		Evaluations: evaluations,
	}

	// Keep the start when the optimizer found nothing better.
	if bestCost >= initial.L2 {
		result.Best = start
		result.BestMetrics = initial
	} else if result.BestMetrics, err = pipeline.Evaluate(ctx, best); err != nil {
		return nil, fmt.Errorf("failed to evaluate refined point: %w", err)
	}

	result.BestValues, err = pipeline.Codec().Decode(result.Best)
	if err != nil {
		return nil, err
	}

	slog.Info("Refinement complete",
		"initial_l2", initial.L2,
		"best_l2", result.BestMetrics.L2,
		"best_l_inf", result.BestMetrics.LInf,
		"evaluations", evaluations,
	)
	return result, nil
}
