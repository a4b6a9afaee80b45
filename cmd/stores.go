package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/store"
)

var (
	bestCount int
	bestBy    string
	allTables bool
)

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "Inspect and maintain result stores",
	Long:  `Inspect the result stores in the data directory, list their run logs and saved centers, and purge records left pending by interrupted runs.`,
}

var listStoresCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stores in the data directory",
	RunE:  runListStores,
}

var summaryCmd = &cobra.Command{
	Use:   "summary <store>",
	Short: "Show record counts and best metrics of every rule table",
	Args:  cobra.ExactArgs(1),
	RunE:  runSummary,
}

var bestCmd = &cobra.Command{
	Use:   "best <store>",
	Short: "Show the best scored configurations",
	Args:  cobra.ExactArgs(1),
	RunE:  runBest,
}

var purgeCmd = &cobra.Command{
	Use:   "purge <store>",
	Short: "Delete records left pending by interrupted runs",
	Long: `Deletes pending records so that their configurations are evaluated again.
Only run this while no search is writing to the store.`,
	Args: cobra.ExactArgs(1),
	RunE: runPurge,
}

var runsCmd = &cobra.Command{
	Use:   "runs <store>",
	Short: "List the run log of a store",
	Args:  cobra.ExactArgs(1),
	RunE:  runRuns,
}

var centersCmd = &cobra.Command{
	Use:   "centers",
	Short: "List the centers saved by refine",
	RunE:  runCenters,
}

func init() {
	rootCmd.AddCommand(storesCmd)

	storesCmd.AddCommand(listStoresCmd)
	storesCmd.AddCommand(summaryCmd)
	storesCmd.AddCommand(bestCmd)
	storesCmd.AddCommand(purgeCmd)
	storesCmd.AddCommand(runsCmd)
	storesCmd.AddCommand(centersCmd)

	bestCmd.Flags().IntVarP(&bestCount, "count", "n", 10, "Number of records")
	bestCmd.Flags().StringVar(&bestBy, "by", "li", "Ranking metric: li, l2 or (monte) score")
	purgeCmd.Flags().BoolVar(&allTables, "all-tables", false, "Purge every rule table instead of the configured one")
}

// resolveStore maps a store argument to its path and layout. Bare names
// are looked up in the data directory and the .db suffix is optional.
func resolveStore(name string) (string, store.Layout, error) {
	path := name
	if !strings.ContainsRune(name, filepath.Separator) {
		path = filepath.Join(runConfig.DataDir, name)
	}
	if filepath.Ext(path) != ".db" {
		path += ".db"
	}
	layout, ok := store.LayoutForFile(path)
	if !ok {
		return "", "", fmt.Errorf("%w: %s is not a result store", store.ErrStoreUnavailable, name)
	}
	return path, layout, nil
}

// eachTable opens every rule table of a store in turn
func eachTable(ctx context.Context, path string, layout store.Layout, fn func(*store.Store) error) error {
	rules, err := store.Tables(ctx, path)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Printf("%s has no rule tables.\n", filepath.Base(path))
		return nil
	}
	for _, rule := range rules {
		st, err := store.OpenExisting(ctx, path, layout, rule)
		if err != nil {
			return err
		}
		err = fn(st)
		st.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// openConfigured opens the configured rule table of a store
func openConfigured(ctx context.Context, name string) (*store.Store, error) {
	path, layout, err := resolveStore(name)
	if err != nil {
		return nil, err
	}
	return store.OpenExisting(ctx, path, layout, runConfig.Rule())
}

func formatMetric(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func runListStores(cmd *cobra.Command, args []string) error {
	entries, err := os.ReadDir(runConfig.DataDir)
	if os.IsNotExist(err) {
		fmt.Println("No stores found.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	ctx := cmd.Context()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STORE\tLAYOUT\tTABLES\tSIZE")
	fmt.Fprintln(w, "-----\t------\t------\t----")

	found := 0
	for _, entry := range entries {
		name := entry.Name()
		layout, ok := store.LayoutForFile(name)
		if entry.IsDir() || !ok || filepath.Ext(name) != ".db" {
			continue
		}
		path := filepath.Join(runConfig.DataDir, name)

		tables := "unknown"
		if rules, err := store.Tables(ctx, path); err == nil {
			names := make([]string, len(rules))
			for i, r := range rules {
				names[i] = r.TableName()
			}
			tables = strings.Join(names, ",")
		} else {
			slog.Warn("Failed to list tables", "store", name, "error", err)
		}

		sizeStr := "unknown"
		if info, err := entry.Info(); err == nil {
			sizeStr = formatBytes(info.Size())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, layout, tables, sizeStr)
		found++
	}
	w.Flush()

	fmt.Printf("\nTotal stores: %d\n", found)
	return nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	path, layout, err := resolveStore(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tTOTAL\tSCORED\tPENDING\tBEST L_INF\tBEST L2")
	fmt.Fprintln(w, "-----\t-----\t------\t-------\t----------\t-------")
	err = eachTable(ctx, path, layout, func(st *store.Store) error {
		sum, err := st.Summary(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n",
			sum.Table, sum.Total, sum.Scored, sum.Pending,
			formatMetric(sum.BestLInf), formatMetric(sum.BestL2))
		return nil
	})
	w.Flush()
	return err
}

func runBest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openConfigured(ctx, args[0])
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.Best(ctx, bestCount, bestBy)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No scored records.")
		return nil
	}

	ids := st.Rule().Params().IDs()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := []string{"ID"}
	for _, id := range ids {
		header = append(header, strings.ToUpper(id.Column()))
	}
	header = append(header, "L_INF", "L2")
	fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, rec := range records {
		row := []string{fmt.Sprint(rec.ID)}
		for _, id := range ids {
			row = append(row, fmt.Sprintf("%g", rec.Config.Get(id)))
		}
		row = append(row, fmt.Sprintf("%.2f", rec.Metrics.LInf), fmt.Sprintf("%.2f", rec.Metrics.L2))
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	purge := func(st *store.Store) error {
		n, err := st.PurgePending(ctx)
		if err != nil {
			return err
		}
		slog.Info("Purged pending records", "store", st.Path(), "table", st.Table(), "count", n)
		fmt.Printf("%s: purged %d pending record(s)\n", st.Table(), n)
		return nil
	}

	if allTables {
		path, layout, err := resolveStore(args[0])
		if err != nil {
			return err
		}
		return eachTable(ctx, path, layout, purge)
	}

	st, err := openConfigured(ctx, args[0])
	if err != nil {
		return err
	}
	defer st.Close()
	return purge(st)
}

func runRuns(cmd *cobra.Command, args []string) error {
	path, layout, err := resolveStore(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	// The run log is shared by every table of the file
	rules, err := store.Tables(ctx, path)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	st, err := store.OpenExisting(ctx, path, layout, rules[0])
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.Runs(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tKIND\tTABLE\tJOB\tSTARTED\tSTATUS\tEVALUATED")
	fmt.Fprintln(w, "------\t----\t-----\t---\t-------\t------\t---------")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%d\n",
			run.ID, run.Kind, run.Rule, run.Job,
			run.StartedAt.Format("2006-01-02 15:04:05"),
			run.Status, run.Evaluated)
	}
	w.Flush()

	fmt.Printf("\nTotal runs: %d\n", len(runs))
	return nil
}

func runCenters(cmd *cobra.Command, args []string) error {
	cs, err := store.NewCenterStore(runConfig.DataDir)
	if err != nil {
		return err
	}
	centers, err := cs.List()
	if err != nil {
		return err
	}
	if len(centers) == 0 {
		fmt.Println("No centers saved.")
		return nil
	}

	for _, c := range centers {
		fmt.Printf("%s (l_inf %.2f, l2 %.2f, from %s record %d, %s)\n",
			c.Key(), c.LInf, c.L2, c.Source, c.RecordID, c.Timestamp.Format("2006-01-02 15:04:05"))

		names := make([]string, 0, len(c.Values))
		for name := range c.Values {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			a, _ := param.ParseID(names[i])
			b, _ := param.ParseID(names[j])
			return a < b
		})
		for _, name := range names {
			fmt.Printf("  %-14s %.6g\n", name, c.Values[name])
		}
	}
	return nil
}
