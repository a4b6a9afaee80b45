package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cwbudde/plasticityfit/internal/fit"
	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/store"
)

// Policy decides how the grid pass treats configurations already stored
type Policy string

const (
	// PolicyCatchUp skips stored configurations until the first one that is
	// missing, then evaluates everything after it without looking up.
	// Resuming this way relies on the traversal order being stable between
	// runs.
	PolicyCatchUp Policy = "catch-up"

	// PolicyLookupAll looks up every configuration before evaluating it.
	PolicyLookupAll Policy = "lookup-all"
)

// ParsePolicy validates a policy name
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyCatchUp, PolicyLookupAll:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown grid policy %q", s)
}

// GridStats counts what a grid pass did
type GridStats struct {
	Visited   int `json:"visited"`
	Skipped   int `json:"skipped"`
	Evaluated int `json:"evaluated"`
}

// Grid scores every configuration of a space exactly once
type Grid struct {
	scorer *fit.Scorer
	policy Policy
}

// NewGrid creates a grid pass. An empty policy means catch-up.
func NewGrid(scorer *fit.Scorer, policy Policy) *Grid {
	if policy == "" {
		policy = PolicyCatchUp
	}
	return &Grid{scorer: scorer, policy: policy}
}

// Run enumerates space and scores each configuration according to the
// policy.
func (g *Grid) Run(ctx context.Context, space *param.Space) (GridStats, error) {
	var stats GridStats
	catchUp := g.policy == PolicyCatchUp

	slog.Info("Starting grid pass",
		"table", space.Rule.TableName(),
		"granularity", space.Granularity,
		"job", space.Job,
		"size", space.Size(),
		"policy", g.policy,
	)

	err := Enumerate(ctx, space, func(cfg param.Configuration) error {
		stats.Visited++

		var (
			out fit.Outcome
			err error
		)
		switch {
		case catchUp:
			rec, lerr := g.scorer.Lookup(ctx, cfg)
			if lerr != nil {
				return lerr
			}
			if rec != nil && !rec.Pending() {
				stats.Skipped++
				return nil
			}
			if rec != nil {
				// Left pending by the interrupted run; catch-up continues
				slog.Info("Re-evaluating pending record", "id", rec.ID, "configuration", cfg.String())
				out, err = g.scorer.Rescore(ctx, *rec)
				break
			}
			catchUp = false
			slog.Info("Caught up with stored results", "skipped", stats.Skipped)
			out, err = g.scorer.Fresh(ctx, cfg)
		case g.policy == PolicyCatchUp:
			out, err = g.scorer.Fresh(ctx, cfg)
			if errors.Is(err, store.ErrDuplicateConfiguration) {
				slog.Warn("Configuration stored after catch-up ended", "configuration", cfg.String())
				stats.Skipped++
				return nil
			}
		default:
			out, err = g.scorer.Score(ctx, cfg)
		}
		if err != nil {
			return err
		}

		if !out.Fresh {
			stats.Skipped++
			return nil
		}
		stats.Evaluated++
		return g.scorer.Record(stats.Visited, out, nil)
	})

	slog.Info("Grid pass finished",
		"visited", stats.Visited,
		"skipped", stats.Skipped,
		"evaluated", stats.Evaluated,
	)
	return stats, err
}
