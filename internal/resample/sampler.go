package resample

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/cwbudde/plasticityfit/internal/fit"
	"github.com/cwbudde/plasticityfit/internal/store"
)

// SampleStats counts the draws of a sampling pass
type SampleStats struct {
	Draws     int `json:"draws"`
	Evaluated int `json:"evaluated"`
	Skipped   int `json:"skipped"`
}

// Sampler draws candidates by inverse-CDF lookup on their crp and scores
// the ones still pending.
type Sampler struct {
	scorer *fit.Scorer
	rng    *rand.Rand

	// MaxDraws caps the number of draws
	MaxDraws int
}

// NewSampler creates a sampler over the candidate store of scorer
func NewSampler(scorer *fit.Scorer, rng *rand.Rand, maxDraws int) *Sampler {
	return &Sampler{scorer: scorer, rng: rng, MaxDraws: maxDraws}
}

// Run draws until the cap, cancellation, or until no candidate is left
// pending.
func (s *Sampler) Run(ctx context.Context) (SampleStats, error) {
	var stats SampleStats
	st := s.scorer.Store()
	if st.Layout() != store.LayoutSample {
		return stats, fmt.Errorf("sampler: store %s has %s layout", st.Path(), st.Layout())
	}

	for stats.Draws < s.MaxDraws {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Draws++

		u := s.rng.Float64()
		rec, err := st.Draw(ctx, u)
		if err != nil {
			return stats, err
		}

		if !rec.Pending() {
			stats.Skipped++
			summary, err := st.Summary(ctx)
			if err != nil {
				return stats, err
			}
			if summary.Pending == 0 {
				slog.Info("Every candidate is scored", "draws", stats.Draws)
				break
			}
			continue
		}

		out, err := s.scorer.Rescore(ctx, *rec)
		if err != nil {
			return stats, err
		}
		stats.Evaluated++
		slog.Info("Sample scored",
			"draw", stats.Draws,
			"u", u,
			"crp", rec.CRP,
			"evaluated", stats.Evaluated,
		)
		if err := s.scorer.Record(stats.Draws, out, nil); err != nil {
			return stats, err
		}
	}
	return stats, nil
}
