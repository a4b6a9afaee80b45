package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/plasticityfit/internal/resample"
	"github.com/cwbudde/plasticityfit/internal/store"
)

var (
	distGranularity int
	distJob         int
)

var distributionCmd = &cobra.Command{
	Use:   "distribution",
	Short: "Build the cumulative sampling table of one job",
	Long: `Reads the merged coarse results of granularity g-1 and the merged sample
space of granularity g, keeps the samples whose neighborhood scored below the
threshold and writes them with their normalized cumulative probability to the
job's sampleresults store.`,
	RunE: runDistribution,
}

func init() {
	distributionCmd.Flags().IntVar(&distGranularity, "granularity", 1, "Target granularity (at least 1)")
	distributionCmd.Flags().IntVar(&distJob, "job", 0, "Job partition index")
	rootCmd.AddCommand(distributionCmd)
}

func runDistribution(cmd *cobra.Command, args []string) error {
	if distGranularity < 1 {
		return fmt.Errorf("granularity must be at least 1, got %d", distGranularity)
	}

	ctx, stop := signalContext()
	defer stop()

	rule := runConfig.Rule()
	coarse, err := store.OpenExisting(ctx, storePath(runConfig.CoarseLayout(), distGranularity-1, -1), runConfig.CoarseLayout(), rule)
	if err != nil {
		return err
	}
	defer coarse.Close()

	space, err := store.OpenExisting(ctx, storePath(store.LayoutSpace, distGranularity, -1), store.LayoutSpace, rule)
	if err != nil {
		return err
	}
	defer space.Close()

	candidates, err := openStore(ctx, store.LayoutSample, distGranularity, distJob)
	if err != nil {
		return err
	}
	defer candidates.Close()

	d := &resample.Distribution{
		Coarse:      coarse,
		Space:       space,
		Candidates:  candidates,
		Granularity: distGranularity,
		Threshold:   runConfig.Threshold,
		Partitions:  runConfig.Partitions,
	}
	stats, err := d.Run(ctx, distJob)
	if err != nil {
		return err
	}

	fmt.Printf("Distribution job %d: %d samples, %d kept, %d dropped (%s)\n",
		distJob, stats.Samples, stats.Kept, stats.Dropped, candidates.Path())
	return nil
}
