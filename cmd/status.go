package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/plasticityfit/internal/server"
	"github.com/cwbudde/plasticityfit/internal/store"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [store]",
	Short: "Query server for store progress",
	Long: `Queries a running server for the stores of its data directory.
If no store is given, lists every store with its per-table progress.
If a store is given, shows its tables and the run log.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		var infos []server.StoreInfo
		if err := getJSON(serverURL+"/api/v1/stores", &infos); err != nil {
			return err
		}
		return printStores(os.Stdout, infos)
	}

	name := url.PathEscape(args[0])
	var info server.StoreInfo
	if err := getJSON(serverURL+"/api/v1/stores/"+name, &info); err != nil {
		return err
	}
	// Stores with several rule tables cannot list runs without ?table=
	var runs []store.Run
	if err := getJSON(serverURL+"/api/v1/stores/"+name+"/runs", &runs); err != nil {
		slog.Debug("Run log unavailable", "store", args[0], "error", err)
		runs = nil
	}
	return printStore(os.Stdout, info, runs)
}

// getJSON fetches target and decodes the JSON body into v
func getJSON(target string, v any) error {
	resp, err := http.Get(target)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("not found: %s", string(body))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printStores(out io.Writer, infos []server.StoreInfo) error {
	if len(infos) == 0 {
		fmt.Fprintln(out, "No stores found")
		return nil
	}

	fmt.Fprintf(out, "Found %d store(s):\n\n", len(infos))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STORE\tTABLE\tTOTAL\tSCORED\tPENDING\tBEST L_INF")
	for _, info := range infos {
		for _, sum := range info.Tables {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
				info.Name, sum.Table, sum.Total, sum.Scored, sum.Pending, formatMetric(sum.BestLInf))
		}
	}
	return w.Flush()
}

func printStore(out io.Writer, info server.StoreInfo, runs []store.Run) error {
	fmt.Fprintf(out, "Store: %s\n", info.Name)
	fmt.Fprintf(out, "Layout: %s\n", info.Layout)
	fmt.Fprintf(out, "Size: %s\n", formatBytes(info.Size))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Tables:")
	for _, sum := range info.Tables {
		fmt.Fprintf(out, "  %s: %d total, %d scored, %d pending", sum.Table, sum.Total, sum.Scored, sum.Pending)
		if sum.BestLInf != nil {
			fmt.Fprintf(out, ", best l_inf %.2f, best l2 %s", *sum.BestLInf, formatMetric(sum.BestL2))
		}
		fmt.Fprintln(out)
	}

	if len(runs) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Runs:")
		for _, run := range runs {
			fmt.Fprintf(out, "  %s %s job %d: %s, %d evaluated", run.ID, run.Kind, run.Job, run.Status, run.Evaluated)
			if run.Error != "" {
				fmt.Fprintf(out, " (%s)", run.Error)
			}
			fmt.Fprintln(out)
		}
	}
	return nil
}
