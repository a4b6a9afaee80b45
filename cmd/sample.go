package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/resample"
	"github.com/cwbudde/plasticityfit/internal/store"
)

var (
	sampleGranularity int
	sampleJob         int
	sampleSeed        int64
	sampleDraws       int
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Score candidates drawn from a job's sampling table",
	Long: `Draws u uniformly from [0,1), picks the first candidate whose cumulative
probability reaches u and evaluates it if it is still pending. Stops after
--draws draws or once every candidate is scored.`,
	RunE: runSample,
}

func init() {
	sampleCmd.Flags().IntVar(&sampleGranularity, "granularity", 1, "Granularity of the sampling table")
	sampleCmd.Flags().IntVar(&sampleJob, "job", 0, "Job partition index")
	sampleCmd.Flags().Int64Var(&sampleSeed, "seed", 0, "Random seed (0 = time based)")
	sampleCmd.Flags().IntVar(&sampleDraws, "draws", 1000000, "Maximum number of draws")
	rootCmd.AddCommand(sampleCmd)
}

func runSample(cmd *cobra.Command, args []string) error {
	space, err := param.LookupSpace(param.KindSpace, runConfig.Rule(), sampleGranularity, 0, false)
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(space)
	if err != nil {
		return err
	}

	seed := sampleSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	ctx, stop := signalContext()
	defer stop()

	st, err := store.OpenExisting(ctx, storePath(store.LayoutSample, sampleGranularity, sampleJob), store.LayoutSample, runConfig.Rule())
	if err != nil {
		return err
	}
	defer st.Close()

	sess, err := startSession(ctx, st, pipeline, store.Run{
		Kind:        "sample",
		Granularity: sampleGranularity,
		Job:         sampleJob,
		Seed:        seed,
	})
	if err != nil {
		return err
	}

	stats, err := resample.NewSampler(sess.scorer, rand.New(rand.NewSource(seed)), sampleDraws).Run(ctx)
	if interrupted(err) {
		slog.Info("Sampling interrupted", "draws", stats.Draws)
		err = nil
	}
	if err := sess.finish(err); err != nil {
		return err
	}

	fmt.Printf("Sample job %d: %d draws, %d evaluated, %d already scored (%s)\n",
		sampleJob, stats.Draws, stats.Evaluated, stats.Skipped, st.Path())
	return nil
}
