package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/resample"
	"github.com/cwbudde/plasticityfit/internal/store"
)

var (
	spaceGranularity int
	spaceJob         int
	spaceBatch       int
)

var spaceCmd = &cobra.Command{
	Use:   "space",
	Short: "Build the sample space for importance resampling",
	Long: `Enumerates the sample points between the cells of the previous granularity
into a samplespace store. With --job the space is split into partitions that
must be merged before running distribution; without it the complete space is
written at once.`,
	RunE: runSpace,
}

func init() {
	spaceCmd.Flags().IntVar(&spaceGranularity, "granularity", 1, "Target granularity of the resampling pass")
	spaceCmd.Flags().IntVar(&spaceJob, "job", -1, "Job partition index (-1 = whole space)")
	spaceCmd.Flags().IntVar(&spaceBatch, "batch", resample.DefaultBatch, "Rows per transaction")
	rootCmd.AddCommand(spaceCmd)
}

func runSpace(cmd *cobra.Command, args []string) error {
	split := spaceJob >= 0
	space, err := param.LookupSpace(param.KindSpace, runConfig.Rule(), spaceGranularity, spaceJob, split)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	st, err := openStore(ctx, store.LayoutSpace, spaceGranularity, spaceJob)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := resample.BuildSpace(ctx, st, space, spaceBatch)
	if err != nil {
		return err
	}
	total, err := st.Count(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Sample space: %d rows added, %d total (%s)\n", n, total, st.Path())
	return nil
}
