// Package search explores the discretized parameter grid: an exhaustive
// enumerator and a stochastic local search with random restarts.
package search

import (
	"context"

	"github.com/cwbudde/plasticityfit/internal/param"
)

// VisitFunc is called once per configuration. Returning an error stops the
// traversal.
type VisitFunc func(cfg param.Configuration) error

// Enumerate visits every configuration of space in nested-loop order, the
// first free parameter varying slowest. Each call to visit receives its own
// copy of the configuration.
func Enumerate(ctx context.Context, space *param.Space, visit VisitFunc) error {
	if len(space.Free) == 0 {
		return nil
	}
	return enumerate(ctx, space.Free, space.Base(), visit)
}

func enumerate(ctx context.Context, free []param.Spec, cfg param.Configuration, visit VisitFunc) error {
	if len(free) == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return visit(cfg)
	}
	spec := free[0]
	for i := 0; i < spec.Count(); i++ {
		if err := enumerate(ctx, free[1:], cfg.With(spec.ID, spec.At(i)), visit); err != nil {
			return err
		}
	}
	return nil
}
