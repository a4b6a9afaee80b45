package resample

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/cwbudde/plasticityfit/internal/store"
)

const (
	// DefaultThreshold caps the relative probability; samples whose best
	// coarse neighbor is at or above it are dropped.
	DefaultThreshold = 3000.0

	// DefaultPartitions is the number of jobs sharing one sample space
	DefaultPartitions = 64

	// shuffleSeed fixes the sample permutation so that every job derives
	// the same one.
	shuffleSeed = 1
)

// ErrPartitionSizeMismatch is returned when the sample space cannot be
// split evenly between the jobs.
var ErrPartitionSizeMismatch = errors.New("partition size mismatch")

// SampleIDs returns the zero-based sample ids assigned to job: its slice of
// a fixed-seed permutation of 0..total-1.
func SampleIDs(total, partitions, job int) ([]int, error) {
	if partitions <= 0 {
		return nil, fmt.Errorf("partitions must be positive, got %d", partitions)
	}
	if total%partitions != 0 {
		return nil, fmt.Errorf("%w: %d samples cannot be split between %d jobs", ErrPartitionSizeMismatch, total, partitions)
	}
	if job < 0 || job >= partitions {
		return nil, fmt.Errorf("job %d out of range for %d partitions", job, partitions)
	}
	size := total / partitions
	all := rand.New(rand.NewSource(shuffleSeed)).Perm(total)
	return all[job*size : (job+1)*size], nil
}

// RelativeProbability is the lowest L2 among the neighbors, capped at
// threshold.
func RelativeProbability(neighbors []store.Record, threshold float64) float64 {
	rp := threshold
	for _, n := range neighbors {
		rp = math.Min(rp, n.Metrics.L2)
	}
	return rp
}

// DistributionStats summarizes one resampling pass
type DistributionStats struct {
	Samples int     `json:"samples"`
	Kept    int     `json:"kept"`
	Dropped int     `json:"dropped"`
	Total   float64 `json:"total"`
}

// Distribution builds the cumulative sampling table of one job from a
// finished coarse store and a complete sample space.
type Distribution struct {
	Coarse      *store.Store
	Space       *store.Store
	Candidates  *store.Store
	Granularity int
	Threshold   float64
	Partitions  int

	// ProgressEvery is the number of samples between progress logs.
	// Zero means 1000.
	ProgressEvery int
}

// Run processes the samples of job and writes the kept ones, with their
// normalized cumulative probability, to the candidate store.
func (d *Distribution) Run(ctx context.Context, job int) (DistributionStats, error) {
	var stats DistributionStats

	threshold := d.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	partitions := d.Partitions
	if partitions <= 0 {
		partitions = DefaultPartitions
	}
	every := d.ProgressEvery
	if every <= 0 {
		every = 1000
	}

	existing, err := d.Candidates.Count(ctx)
	if err != nil {
		return stats, err
	}
	if existing > 0 {
		return stats, fmt.Errorf("candidate store %s already holds %d rows", d.Candidates.Path(), existing)
	}

	total, err := d.Space.Count(ctx)
	if err != nil {
		return stats, err
	}
	ids, err := SampleIDs(total, partitions, job)
	if err != nil {
		return stats, err
	}

	halfwidth := math.Pow(0.5, float64(d.Granularity))
	slog.Info("Building sampling distribution",
		"space", d.Space.Path(),
		"coarse", d.Coarse.Path(),
		"samples", len(ids),
		"threshold", threshold,
		"halfwidth", halfwidth,
	)

	var cumulative float64
	for i, s := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Samples++

		// Space rows are numbered from 1 in enumeration order.
		sample, err := d.Space.Get(ctx, int64(s)+1)
		if err != nil {
			return stats, fmt.Errorf("sample %d: %w", s, err)
		}
		neighbors, err := d.Coarse.Window(ctx, sample.Config, halfwidth)
		if err != nil {
			return stats, err
		}

		rp := RelativeProbability(neighbors, threshold)
		if rp < threshold {
			cumulative += threshold - rp
			if _, err := d.Candidates.ClaimCandidate(ctx, sample.Config, cumulative); err != nil {
				return stats, err
			}
			stats.Kept++
		} else {
			stats.Dropped++
		}

		if (i+1)%every == 0 {
			slog.Info("Sampling progress",
				"processed", i+1,
				"kept", stats.Kept,
				"dropped", stats.Dropped,
				"cumulative", cumulative,
			)
		}
	}

	stats.Total = cumulative
	if cumulative == 0 {
		slog.Warn("No sample had a coarse neighbor below the threshold; nothing to normalize",
			"samples", stats.Samples,
		)
		return stats, nil
	}
	if err := d.Candidates.NormalizeCRP(ctx, cumulative); err != nil {
		return stats, err
	}

	slog.Info("Sampling distribution built",
		"kept", stats.Kept,
		"dropped", stats.Dropped,
		"total", cumulative,
	)
	return stats, nil
}
