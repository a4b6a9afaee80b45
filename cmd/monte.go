package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/search"
	"github.com/cwbudde/plasticityfit/internal/store"
)

var (
	monteJob        int
	monteSeed       int64
	monteIterations int
	monteFirstID    int64
)

var monteCmd = &cobra.Command{
	Use:   "monte",
	Short: "Run the stochastic local search on one job partition",
	Long: `Walks the parameter grid one coordinate step at a time, accepting worse
moves with probability current/candidate and restarting at random once
patience runs out. Without --iterations the search runs until interrupted.`,
	RunE: runMonte,
}

func init() {
	monteCmd.Flags().IntVar(&monteJob, "job", 0, "Job partition index")
	monteCmd.Flags().Int64Var(&monteSeed, "seed", 0, "Random seed (0 = time based)")
	monteCmd.Flags().IntVar(&monteIterations, "iterations", 0, "Iteration cap (0 = unbounded)")
	monteCmd.Flags().Int64Var(&monteFirstID, "first-id", 0, "Start from this record id of the store instead of a random configuration")
	rootCmd.AddCommand(monteCmd)
}

func runMonte(cmd *cobra.Command, args []string) error {
	space, err := param.LookupSpace(param.KindMonte, runConfig.Rule(), 0, monteJob, true)
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(space)
	if err != nil {
		return err
	}

	seed := monteSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	ctx, stop := signalContext()
	defer stop()

	st, err := openStore(ctx, store.LayoutMonte, 0, monteJob)
	if err != nil {
		return err
	}
	defer st.Close()

	var start *param.Configuration
	if monteFirstID > 0 {
		rec, err := st.Get(ctx, monteFirstID)
		if err != nil {
			return fmt.Errorf("failed to load start configuration: %w", err)
		}
		start = &rec.Config
	}

	sess, err := startSession(ctx, st, pipeline, store.Run{
		Kind: "monte",
		Job:  monteJob,
		Seed: seed,
	})
	if err != nil {
		return err
	}

	ls := search.NewLocalSearch(sess.scorer, space, rand.New(rand.NewSource(seed)))
	if monteIterations > 0 {
		ls.MaxIterations = monteIterations
	}

	stats, err := ls.Run(ctx, start)
	if interrupted(err) {
		slog.Info("Local search interrupted", "iterations", stats.Iterations)
		err = nil
	}
	if err := sess.finish(err); err != nil {
		return err
	}

	fmt.Printf("Monte job %d: %d iterations, %d evaluated, %d reused, %d restarts, best l_inf %.2f (%s)\n",
		monteJob, stats.Iterations, stats.Evaluated, stats.Reused, stats.Restarts, stats.Best, st.Path())
	return nil
}
