package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/cwbudde/plasticityfit/internal/param"
)

// Request is written as one JSON document to the simulator's stdin
type Request struct {
	Protocol   param.Protocol `json:"protocol"`
	Trace      int            `json:"trace"`
	PreSpikeMs float64        `json:"pre_spike_ms"`
	Parameters Parameters     `json:"parameters"`
}

// Response is read from the simulator's stdout
type Response struct {
	Plasticity *float64 `json:"plasticity"`
}

// Command runs an external program once per trace. The program receives a
// Request on stdin and must print a Response on stdout.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// NewCommand creates a command-backed simulator. A zero timeout means no
// per-trace limit beyond the caller's context.
func NewCommand(path string, args []string, timeout time.Duration) *Command {
	return &Command{Path: path, Args: args, Timeout: timeout}
}

// Simulate runs the program for one trace
func (c *Command) Simulate(ctx context.Context, protocol param.Protocol, trace int, p Parameters) (float64, error) {
	// The monte catalogs list every recorded trace
	catalog, err := LookupCatalogFor(protocol, param.KindMonte)
	if err != nil {
		return 0, err
	}
	if trace < 0 || trace >= catalog.Traces {
		return 0, fmt.Errorf("trace %d out of range for %s (%d traces)", trace, protocol, catalog.Traces)
	}

	req := Request{
		Protocol:   catalog.TraceProtocol(),
		Trace:      trace,
		PreSpikeMs: catalog.PreSpike[trace],
		Parameters: p,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("failed to encode simulator request: %w", err)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(body)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit the pipes must not keep Run blocked after a kill.
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("simulator %s trace %d: %w", protocol, trace, ctx.Err())
		}
		return 0, fmt.Errorf("simulator %s trace %d failed: %w: %s", protocol, trace, err, strings.TrimSpace(stderr.String()))
	}
	slog.Debug("Simulated trace",
		"protocol", protocol,
		"trace", trace,
		"elapsed", time.Since(start),
	)

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return 0, fmt.Errorf("simulator %s trace %d: invalid response: %w", protocol, trace, err)
	}
	if resp.Plasticity == nil {
		return 0, fmt.Errorf("simulator %s trace %d: response has no plasticity field", protocol, trace)
	}
	return *resp.Plasticity, nil
}
