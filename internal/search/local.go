package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/cwbudde/plasticityfit/internal/fit"
	"github.com/cwbudde/plasticityfit/internal/param"
)

// Unbounded is the iteration cap used when none is given. The search is
// expected to run until it is cancelled.
const Unbounded = math.MaxInt

// Accept decides whether the search moves from a configuration with metric
// current to one with metric candidate. Improvements are always taken;
// otherwise the move is taken with probability current/candidate, and
// always when the candidate metric is zero.
func Accept(rng *rand.Rand, current, candidate float64) bool {
	if candidate < current || candidate == 0 {
		return true
	}
	// Both infinite, e.g. two diverged simulations in a row.
	if math.IsInf(current, 1) && math.IsInf(candidate, 1) {
		return true
	}
	return rng.Float64() < current/candidate
}

// LocalStats counts what a local search did
type LocalStats struct {
	Iterations int                 `json:"iterations"`
	Evaluated  int                 `json:"evaluated"`
	Reused     int                 `json:"reused"`
	Walls      int                 `json:"walls"`
	Restarts   int                 `json:"restarts"`
	Accepted   int                 `json:"accepted"`
	Current    param.Configuration `json:"-"`
	Best       float64             `json:"best"`
}

// LocalSearch is a single-coordinate hill climber with metric-ratio
// acceptance of worse moves and random restarts once patience runs out.
type LocalSearch struct {
	scorer *fit.Scorer
	space  *param.Space
	rng    *rand.Rand

	// MaxIterations caps the number of iterations; walls count.
	MaxIterations int

	// Patience is the number of unproductive draws before a restart.
	Patience int
}

// NewLocalSearch creates a search over space with patience 3 per free
// parameter and no iteration cap.
func NewLocalSearch(scorer *fit.Scorer, space *param.Space, rng *rand.Rand) *LocalSearch {
	return &LocalSearch{
		scorer:        scorer,
		space:         space,
		rng:           rng,
		MaxIterations: Unbounded,
		Patience:      3 * len(space.Free),
	}
}

// Random draws every free parameter uniformly from its range
func (ls *LocalSearch) Random() param.Configuration {
	cfg := ls.space.Base()
	for _, f := range ls.space.Free {
		cfg = cfg.With(f.ID, f.At(ls.rng.Intn(f.Count())))
	}
	return cfg
}

// neighbor moves one random free parameter by one step. ok is false when
// the move would leave the grid.
func (ls *LocalSearch) neighbor(cfg param.Configuration) (param.Configuration, param.ID, bool) {
	f := ls.space.Free[ls.rng.Intn(len(ls.space.Free))]
	step := f.Step
	if ls.rng.Intn(2) == 0 {
		step = -step
	}
	v := cfg.Get(f.ID) + step
	if !f.Contains(v) {
		return cfg, f.ID, false
	}
	return cfg.With(f.ID, v), f.ID, true
}

// Run searches until ctx is cancelled or the iteration cap is reached. The
// first iteration scores start, or a random configuration when start is nil.
func (ls *LocalSearch) Run(ctx context.Context, start *param.Configuration) (LocalStats, error) {
	if len(ls.space.Free) == 0 {
		return LocalStats{}, fmt.Errorf("space has no free parameters")
	}
	if ls.Patience <= 0 {
		return LocalStats{}, fmt.Errorf("patience must be positive, got %d", ls.Patience)
	}

	var first param.Configuration
	if start != nil {
		if !ls.space.Contains(*start) {
			return LocalStats{}, fmt.Errorf("start %v lies outside the space", *start)
		}
		first = *start
	} else {
		first = ls.Random()
	}

	patience := NewPatience(ls.Patience)
	stats := LocalStats{Current: first, Best: math.Inf(1)}
	current := first
	candidate := &first

	slog.Info("Starting local search",
		"table", ls.space.Rule.TableName(),
		"job", ls.space.Job,
		"free_params", len(ls.space.Free),
		"patience", ls.Patience,
	)

	for stats.Iterations < ls.MaxIterations {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Iterations++

		var next param.Configuration
		switch {
		case candidate != nil:
			next = *candidate
			candidate = nil
		case patience.Exhausted():
			patience.Reset()
			stats.Restarts++
			next = ls.Random()
			slog.Info("Random restart", "iteration", stats.Iterations, "configuration", next.String())
		default:
			var (
				id param.ID
				ok bool
			)
			next, id, ok = ls.neighbor(current)
			if !ok {
				patience.Wall()
				stats.Walls++
				slog.Debug("Hit grid wall", "iteration", stats.Iterations, "param", id.String())
				continue
			}
		}

		out, err := ls.scorer.Score(ctx, next)
		if err != nil {
			return stats, err
		}
		if out.Fresh {
			patience.Fresh()
			stats.Evaluated++
		} else {
			patience.Repeat()
			stats.Reused++
		}

		metric := out.Metric()
		accepted := Accept(ls.rng, patience.Best(), metric)
		if accepted {
			current = next
			patience.Accept(metric)
			stats.Accepted++
			stats.Current = current
			stats.Best = math.Min(stats.Best, metric)
		}

		slog.Info("Iteration",
			"iteration", stats.Iterations,
			"configuration", next.String(),
			"l_inf", metric,
			"score", patience.Best(),
			"accepted", accepted,
			"waiting", patience.Waiting(),
		)
		if err := ls.scorer.Record(stats.Iterations, out, &accepted); err != nil {
			return stats, err
		}
	}
	return stats, nil
}
