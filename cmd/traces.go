package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/plasticityfit/internal/store"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
)

// TraceInfo describes one run trace file
type TraceInfo struct {
	RunID   string
	ModTime time.Time
	Size    int64
}

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "Manage run progress traces",
	Long: `Manage the JSONL progress traces written by runs with tracing enabled,
including listing and cleaning old traces.`,
}

var listTracesCmd = &cobra.Command{
	Use:   "list",
	Short: "List all run traces",
	Long:  `Display all traces with run ID, last write time, entry count and file size.`,
	RunE:  runListTraces,
}

var cleanTracesCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old traces",
	Long: `Delete old traces based on retention policy.
You can specify how many traces to keep or delete traces older than N days.`,
	RunE: runCleanTraces,
}

func init() {
	rootCmd.AddCommand(tracesCmd)

	tracesCmd.AddCommand(listTracesCmd)
	tracesCmd.AddCommand(cleanTracesCmd)

	cleanTracesCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the N most recent traces (0 = keep all)")
	cleanTracesCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete traces older than N days (0 = no age limit)")
	cleanTracesCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

// listTraces returns the traces under dataDir, newest first
func listTraces(dataDir string) ([]TraceInfo, error) {
	entries, err := os.ReadDir(store.TraceDir(dataDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read trace directory: %w", err)
	}

	var infos []TraceInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			slog.Warn("Failed to stat trace", "file", name, "error", err)
			continue
		}
		infos = append(infos, TraceInfo{
			RunID:   strings.TrimSuffix(name, ".jsonl"),
			ModTime: fi.ModTime(),
			Size:    fi.Size(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ModTime.After(infos[j].ModTime) })
	return infos, nil
}

// countEntries counts the entries of a trace; -1 if it cannot be read
func countEntries(dataDir, runID string) int {
	tr, err := store.NewTraceReader(dataDir, runID)
	if err != nil {
		return -1
	}
	defer tr.Close()
	entries, err := tr.ReadAll()
	if err != nil {
		return -1
	}
	return len(entries)
}

func runListTraces(cmd *cobra.Command, args []string) error {
	infos, err := listTraces(runConfig.DataDir)
	if err != nil {
		return err
	}

	if len(infos) == 0 {
		fmt.Println("No traces found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tLAST WRITE\tENTRIES\tSIZE")
	fmt.Fprintln(w, "------\t----------\t-------\t----")

	for _, info := range infos {
		entries := "unknown"
		if n := countEntries(runConfig.DataDir, info.RunID); n >= 0 {
			entries = fmt.Sprint(n)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			info.RunID,
			info.ModTime.Format("2006-01-02 15:04:05"),
			entries,
			formatBytes(info.Size),
		)
	}

	w.Flush()

	fmt.Printf("\nTotal traces: %d\n", len(infos))
	return nil
}

func runCleanTraces(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	infos, err := listTraces(runConfig.DataDir)
	if err != nil {
		return err
	}

	if len(infos) == 0 {
		fmt.Println("No traces to clean.")
		return nil
	}

	toDelete := selectTracesForDeletion(infos, keepLast, olderThanDays)

	if len(toDelete) == 0 {
		fmt.Println("No traces match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d trace(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - %s (%s, %s)\n",
			info.RunID,
			formatBytes(info.Size),
			info.ModTime.Format("2006-01-02 15:04:05"),
		)
	}

	// Ask for confirmation unless --force is set
	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := store.DeleteTrace(runConfig.DataDir, info.RunID); err != nil {
			slog.Error("Failed to delete trace", "run_id", info.RunID, "error", err)
			failed++
		} else {
			slog.Info("Deleted trace", "run_id", info.RunID)
			deleted++
		}
	}

	fmt.Printf("\nDeleted %d trace(s), %d failed.\n", deleted, failed)
	return nil
}

// selectTracesForDeletion applies the retention policy: traces older than
// olderThanDays, plus everything beyond the keepLast most recent ones.
func selectTracesForDeletion(infos []TraceInfo, keepLast int, olderThanDays int) []TraceInfo {
	selected := make(map[string]bool)
	var toDelete []TraceInfo
	add := func(info TraceInfo) {
		if !selected[info.RunID] {
			selected[info.RunID] = true
			toDelete = append(toDelete, info)
		}
	}

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.ModTime.Before(cutoff) {
				add(info)
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]TraceInfo, len(infos))
		copy(sorted, infos)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].ModTime.After(sorted[j].ModTime) })
		for _, info := range sorted[keepLast:] {
			add(info)
		}
	}

	return toDelete
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
