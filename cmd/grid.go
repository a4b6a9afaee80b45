package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/search"
	"github.com/cwbudde/plasticityfit/internal/store"
)

var (
	gridGranularity int
	gridJob         int
	gridPolicy      string
	gridPurge       bool
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Exhaustively score one job partition of the parameter grid",
	Long: `Enumerates every configuration of the job's partition and scores each one
exactly once. Interrupted runs are resumed by running the same job again.`,
	RunE: runGrid,
}

func init() {
	gridCmd.Flags().IntVar(&gridGranularity, "granularity", 0, "Grid granularity (step 0.5^g)")
	gridCmd.Flags().IntVar(&gridJob, "job", 0, "Job partition index")
	gridCmd.Flags().StringVar(&gridPolicy, "policy", "", "Resumption policy: catch-up, lookup-all (overrides config)")
	gridCmd.Flags().BoolVar(&gridPurge, "purge-pending", false, "Delete rows left pending by an interrupted run first (overrides config)")
	rootCmd.AddCommand(gridCmd)
}

func runGrid(cmd *cobra.Command, args []string) error {
	policy := runConfig.GridPolicy()
	if cmd.Flags().Changed("policy") {
		p, err := search.ParsePolicy(gridPolicy)
		if err != nil {
			return err
		}
		policy = p
	}
	purge := runConfig.PurgePending
	if cmd.Flags().Changed("purge-pending") {
		purge = gridPurge
	}

	space, err := param.LookupSpace(param.KindGrid, runConfig.Rule(), gridGranularity, gridJob, true)
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(space)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	st, err := openStore(ctx, store.LayoutGrid, gridGranularity, gridJob)
	if err != nil {
		return err
	}
	defer st.Close()

	if purge {
		n, err := st.PurgePending(ctx)
		if err != nil {
			return err
		}
		slog.Info("Purged pending records", "count", n)
	}

	sess, err := startSession(ctx, st, pipeline, store.Run{
		Kind:        "grid",
		Granularity: gridGranularity,
		Job:         gridJob,
	})
	if err != nil {
		return err
	}

	stats, err := search.NewGrid(sess.scorer, policy).Run(ctx, space)
	if err := sess.finish(err); err != nil {
		return err
	}

	fmt.Printf("Grid job %d done: %d visited, %d skipped, %d evaluated (%s)\n",
		gridJob, stats.Visited, stats.Skipped, stats.Evaluated, st.Path())
	return nil
}
