package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/plasticityfit/internal/fit"
	"github.com/cwbudde/plasticityfit/internal/opt"
	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/store"
)

var (
	refineGranularity int
	refineIters       int
	refinePopSize     int
	refineSeed        int64
	refineSave        bool
)

var refineCmd = &cobra.Command{
	Use:   "refine <store>",
	Short: "Polish the best configuration of a store with the Mayfly optimizer",
	Long: `Loads the configuration with the lowest L2 from a result store and minimizes
L2 over continuous indices inside the bounds of the store's grid. The refined
physical parameter values are printed and saved as the protocol's center.`,
	Args: cobra.ExactArgs(1),
	RunE: runRefine,
}

func init() {
	refineCmd.Flags().IntVar(&refineGranularity, "granularity", 0, "Granularity of the store's grid")
	refineCmd.Flags().IntVar(&refineIters, "iters", 100, "Max iterations")
	refineCmd.Flags().IntVar(&refinePopSize, "pop", 30, "Population size")
	refineCmd.Flags().Int64Var(&refineSeed, "seed", 42, "Random seed")
	refineCmd.Flags().BoolVar(&refineSave, "save", true, "Save the result as a center")
	rootCmd.AddCommand(refineCmd)
}

// kindForLayout maps a result store to the grid family it was scored on
func kindForLayout(layout store.Layout) (param.Kind, error) {
	switch layout {
	case store.LayoutGrid:
		return param.KindGrid, nil
	case store.LayoutMonte:
		return param.KindMonte, nil
	case store.LayoutSample:
		return param.KindSpace, nil
	}
	return "", fmt.Errorf("%s stores hold no scored configurations", layout)
}

func runRefine(cmd *cobra.Command, args []string) error {
	name := filepath.Base(args[0])
	layout, ok := store.LayoutForFile(name)
	if !ok {
		return fmt.Errorf("%w: %s is not a result store", store.ErrStoreUnavailable, name)
	}
	kind, err := kindForLayout(layout)
	if err != nil {
		return err
	}

	rule := runConfig.Rule()
	space, err := param.LookupSpace(kind, rule, refineGranularity, 0, false)
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(space)
	if err != nil {
		return err
	}
	optimizer, err := opt.NewMayfly(refineIters, refinePopSize, refineSeed)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	st, err := store.OpenExisting(ctx, filepath.Join(runConfig.DataDir, name), layout, rule)
	if err != nil {
		return err
	}
	defer st.Close()

	best, err := st.Best(ctx, 1, "l2")
	if err != nil {
		return err
	}
	if len(best) == 0 {
		return fmt.Errorf("%s has no scored configuration: %w", name, store.ErrNotFound)
	}
	start := best[0]

	result, err := fit.Refine(ctx, pipeline, optimizer, space, start.Config)
	if err != nil {
		return err
	}

	center := &store.Center{
		Protocol:  runConfig.ProtocolValue(),
		Table:     rule.TableName(),
		Values:    make(map[string]float64),
		LInf:      result.BestMetrics.LInf,
		L2:        result.BestMetrics.L2,
		Source:    name,
		RecordID:  start.ID,
		Timestamp: time.Now().UTC(),
	}
	for _, id := range rule.Params().IDs() {
		center.Values[id.String()] = result.BestValues[id]
	}

	printRefineResult(result, rule)

	if refineSave {
		cs, err := store.NewCenterStore(runConfig.DataDir)
		if err != nil {
			return err
		}
		if err := cs.Save(center); err != nil {
			return err
		}
		fmt.Printf("Saved center %s\n", center.Key())
	}
	return nil
}

func printRefineResult(result *fit.RefineResult, rule param.Rule) {
	fmt.Printf("Start: %s (l_inf %.2f, l2 %.2f)\n", result.Start, result.Initial.LInf, result.Initial.L2)
	fmt.Printf("Best:  %s (l_inf %.2f, l2 %.2f, %d evaluations)\n\n",
		result.Best, result.BestMetrics.LInf, result.BestMetrics.L2, result.Evaluations)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARAMETER\tINDEX\tVALUE")
	fmt.Fprintln(w, "---------\t-----\t-----")
	for _, id := range rule.Params().IDs() {
		fmt.Fprintf(w, "%s\t%.4f\t%.6g\n", id, result.Best.Get(id), result.BestValues[id])
	}
	w.Flush()
}
