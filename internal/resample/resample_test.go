package resample

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/plasticityfit/internal/fit"
	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/store"
)

var noveto = param.Rule{Plasticity: param.Claire}

func openStore(t *testing.T, dir string, layout store.Layout, job int) *store.Store {
	t.Helper()
	path := filepath.Join(dir, store.FileName(layout, param.Letzkus, 1, job))
	st, err := store.Open(context.Background(), path, layout, noveto)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// at returns the no-veto configuration with theta_high = th and every
// other index at 0.
func at(th float64) param.Configuration {
	cfg := param.NewConfiguration(noveto.Params())
	return cfg.With(param.ThetaHigh, th)
}

func scored(t *testing.T, st *store.Store, cfg param.Configuration, l2 float64) {
	t.Helper()
	ctx := context.Background()
	id, err := st.Claim(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, st.Finalize(ctx, id, store.Metrics{LInf: l2 / 10, L2: l2}))
}

func TestSampleIDs(t *testing.T) {
	const total, partitions = 120, 8

	var all []int
	for job := 0; job < partitions; job++ {
		ids, err := SampleIDs(total, partitions, job)
		require.NoError(t, err)
		assert.Len(t, ids, total/partitions)
		all = append(all, ids...)
	}
	sort.Ints(all)
	for i, id := range all {
		require.Equal(t, i, id, "jobs must cover every sample exactly once")
	}

	first, _ := SampleIDs(total, partitions, 3)
	second, _ := SampleIDs(total, partitions, 3)
	assert.Equal(t, first, second)

	_, err := SampleIDs(100, 64, 0)
	assert.ErrorIs(t, err, ErrPartitionSizeMismatch)

	_, err = SampleIDs(128, 64, 64)
	assert.Error(t, err)
}

func TestRelativeProbability(t *testing.T) {
	neighbors := []store.Record{
		{Metrics: store.Metrics{L2: 1500}},
		{Metrics: store.Metrics{L2: 5000}},
	}
	rp := RelativeProbability(neighbors, DefaultThreshold)
	assert.Equal(t, 1500.0, rp)
	assert.Equal(t, 1500.0, DefaultThreshold-rp, "crp increment")

	assert.Equal(t, DefaultThreshold, RelativeProbability(nil, DefaultThreshold))
	assert.Equal(t, DefaultThreshold, RelativeProbability([]store.Record{{Metrics: store.Metrics{L2: 9000}}}, DefaultThreshold))
}

func TestDistribution(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	coarse := openStore(t, dir, store.LayoutMonte, 0)
	scored(t, coarse, at(0), 1500)
	scored(t, coarse, at(1), 5000)
	scored(t, coarse, at(5), 4000)
	// Pending coarse rows are never neighbors.
	_, err := coarse.Claim(ctx, at(3))
	require.NoError(t, err)

	space := openStore(t, dir, store.LayoutSpace, -1)
	_, err = space.InsertSpace(ctx, []param.Configuration{
		at(0.5),  // neighbors 0 and 1 -> 1500
		at(-0.5), // neighbor 0 -> 1500
		at(3.5),  // only the pending row -> dropped
		at(4.5),  // neighbor 5 at 4000 -> dropped
	})
	require.NoError(t, err)

	candidates := openStore(t, dir, store.LayoutSample, 0)
	d := &Distribution{
		Coarse:      coarse,
		Space:       space,
		Candidates:  candidates,
		Granularity: 1,
		Partitions:  1,
	}
	stats, err := d.Run(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, DistributionStats{Samples: 4, Kept: 2, Dropped: 2, Total: 3000}, stats)

	n, err := candidates.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	prev := 0.0
	for id := int64(1); id <= 2; id++ {
		rec, err := candidates.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Pending())
		assert.GreaterOrEqual(t, rec.CRP, prev)
		prev = rec.CRP
	}
	assert.InDelta(t, 1.0, prev, 1e-12)

	for _, th := range []float64{3.5, 4.5} {
		_, err := candidates.Find(ctx, at(th))
		assert.ErrorIs(t, err, store.ErrNotFound, "dropped sample th=%g must not be a candidate", th)
	}

	_, err = d.Run(ctx, 0)
	assert.Error(t, err, "a populated candidate store must not be extended")
}

func TestDistributionNothingKept(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	coarse := openStore(t, dir, store.LayoutGrid, 0)
	scored(t, coarse, at(0), 8000)

	space := openStore(t, dir, store.LayoutSpace, -1)
	_, err := space.InsertSpace(ctx, []param.Configuration{at(0.5), at(-0.5)})
	require.NoError(t, err)

	candidates := openStore(t, dir, store.LayoutSample, 0)
	stats, err := (&Distribution{
		Coarse: coarse, Space: space, Candidates: candidates, Granularity: 1, Partitions: 2,
	}).Run(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, DistributionStats{Samples: 1, Dropped: 1}, stats)
}

func TestDistributionProgressCoversDroppedSamples(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	// No coarse record lies near any sample, so every sample is dropped.
	coarse := openStore(t, dir, store.LayoutGrid, 0)
	space := openStore(t, dir, store.LayoutSpace, -1)
	_, err := space.InsertSpace(ctx, []param.Configuration{at(10.5), at(11.5), at(12.5), at(13.5)})
	require.NoError(t, err)

	stats, err := (&Distribution{
		Coarse:        coarse,
		Space:         space,
		Candidates:    openStore(t, dir, store.LayoutSample, 0),
		Granularity:   1,
		Partitions:    1,
		ProgressEvery: 2,
	}).Run(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, DistributionStats{Samples: 4, Dropped: 4}, stats)

	var processed, dropped []float64
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["msg"] != "Sampling progress" {
			continue
		}
		processed = append(processed, entry["processed"].(float64))
		dropped = append(dropped, entry["dropped"].(float64))
	}
	assert.Equal(t, []float64{2, 4}, processed)
	assert.Equal(t, []float64{2, 4}, dropped)
}

func TestDistributionPartitionMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	space := openStore(t, dir, store.LayoutSpace, -1)
	_, err := space.InsertSpace(ctx, []param.Configuration{at(0.5), at(1.5), at(2.5)})
	require.NoError(t, err)

	_, err = (&Distribution{
		Coarse:      openStore(t, dir, store.LayoutGrid, 0),
		Space:       space,
		Candidates:  openStore(t, dir, store.LayoutSample, 0),
		Granularity: 1,
		Partitions:  2,
	}).Run(ctx, 0)
	assert.ErrorIs(t, err, ErrPartitionSizeMismatch)
}

func TestBuildSpace(t *testing.T) {
	ctx := context.Background()
	space, err := param.NewSpace(noveto, param.RegimeAbsolute, []param.Spec{
		{ID: param.ThetaHigh, Lower: -0.5, Upper: 2.5, Step: 1},
		{ID: param.ThetaLow, Lower: -0.5, Upper: 1.5, Step: 1},
		{ID: param.TauX, Lower: 0.5, Upper: 1.5, Step: 1},
	})
	require.NoError(t, err)
	for _, id := range []param.ID{param.ALTP, param.ALTD, param.TauLowpass1, param.TauLowpass2} {
		space.Fixed = space.Fixed.With(id, 0.5)
	}

	st := openStore(t, t.TempDir(), store.LayoutSpace, -1)
	n, err := BuildSpace(ctx, st, space, 5)
	require.NoError(t, err)
	assert.Equal(t, 4*3*2, n)

	// Row ids follow enumeration order.
	first, err := st.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, first.Config.Equal(space.Base()))

	n, err = BuildSpace(ctx, st, space, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "rebuild must not duplicate rows")

	total, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 24, total)

	_, err = BuildSpace(ctx, openStore(t, t.TempDir(), store.LayoutGrid, 0), space, 0)
	assert.Error(t, err)
}

type indexEvaluator struct{ calls int }

func (e *indexEvaluator) Evaluate(ctx context.Context, cfg param.Configuration) (store.Metrics, error) {
	e.calls++
	th := cfg.Get(param.ThetaHigh)
	return store.Metrics{LInf: th, L2: th * th}, nil
}

func TestSampler(t *testing.T) {
	ctx := context.Background()
	candidates := openStore(t, t.TempDir(), store.LayoutSample, 0)
	for i, crp := range []float64{0.25, 0.5, 1} {
		_, err := candidates.ClaimCandidate(ctx, at(float64(i)+0.5), crp)
		require.NoError(t, err)
	}

	eval := &indexEvaluator{}
	sampler := NewSampler(fit.NewScorer(candidates, eval), rand.New(rand.NewSource(1)), 200)
	stats, err := sampler.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Evaluated)
	assert.Equal(t, 3, eval.calls)
	assert.Equal(t, stats.Draws, stats.Evaluated+stats.Skipped)
	assert.Less(t, stats.Draws, 200, "sampling stops once every candidate is scored")

	summary, err := candidates.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Pending)

	rec, err := candidates.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, store.Metrics{LInf: 1.5, L2: 2.25}, rec.Metrics)
	assert.Equal(t, 0.5, rec.CRP, "scoring keeps the crp")
}

func TestSamplerRequiresSampleLayout(t *testing.T) {
	st := openStore(t, t.TempDir(), store.LayoutGrid, 0)
	_, err := NewSampler(fit.NewScorer(st, &indexEvaluator{}), rand.New(rand.NewSource(1)), 10).Run(context.Background())
	assert.Error(t, err)
}
