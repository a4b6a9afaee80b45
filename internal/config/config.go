// Package config loads the JSON run configuration shared by the search
// commands.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/resample"
	"github.com/cwbudde/plasticityfit/internal/search"
	"github.com/cwbudde/plasticityfit/internal/sim"
	"github.com/cwbudde/plasticityfit/internal/store"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Simulator selects the external program that evaluates one trace
type Simulator struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`

	// Timeout is a duration string like "10m"; empty means no limit.
	Timeout string `json:"timeout,omitempty"`
}

// Config is the run configuration. Command-line flags override it.
type Config struct {
	DataDir    string `json:"data_dir"`
	Protocol   string `json:"protocol"`
	Plasticity string `json:"plasticity"`
	Veto       bool   `json:"veto"`

	// Threshold and Partitions drive the importance resampler
	Threshold  float64 `json:"threshold"`
	Partitions int     `json:"partitions"`

	// CoarseAlgorithm names the layout of the store the resampler reads:
	// "grid" or "monte".
	CoarseAlgorithm string `json:"coarse_algorithm"`

	Simulator Simulator `json:"simulator"`

	// CatchUp selects the catch-up grid policy; false looks up every
	// configuration.
	CatchUp      bool `json:"catch_up"`
	PurgePending bool `json:"purge_pending"`

	// Trace enables the per-run JSONL progress trace
	Trace bool `json:"trace"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		DataDir:         "./data",
		Protocol:        string(param.Letzkus),
		Plasticity:      param.Claire,
		Threshold:       resample.DefaultThreshold,
		Partitions:      resample.DefaultPartitions,
		CoarseAlgorithm: string(store.LayoutMonte),
		CatchUp:         true,
	}
}

// Load reads a JSON configuration. Fields omitted from the file keep their
// Default values.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if _, err := param.ParseProtocol(c.Protocol); err != nil {
		return err
	}
	if _, err := param.ParseRule(c.Plasticity, c.Veto); err != nil {
		return err
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %g", c.Threshold)
	}
	if c.Partitions <= 0 {
		return fmt.Errorf("partitions must be positive, got %d", c.Partitions)
	}
	switch store.Layout(c.CoarseAlgorithm) {
	case store.LayoutGrid, store.LayoutMonte:
	default:
		return fmt.Errorf("coarse_algorithm must be %q or %q, got %q", store.LayoutGrid, store.LayoutMonte, c.CoarseAlgorithm)
	}
	if c.Simulator.Timeout != "" {
		if _, err := time.ParseDuration(c.Simulator.Timeout); err != nil {
			return fmt.Errorf("invalid simulator timeout '%s': %w", c.Simulator.Timeout, err)
		}
	}
	return nil
}

// ProtocolValue returns the parsed protocol
func (c *Config) ProtocolValue() param.Protocol {
	p, _ := param.ParseProtocol(c.Protocol)
	return p
}

// Rule returns the parsed plasticity rule
func (c *Config) Rule() param.Rule {
	r, _ := param.ParseRule(c.Plasticity, c.Veto)
	return r
}

// CoarseLayout returns the store layout of the resampler's input
func (c *Config) CoarseLayout() store.Layout {
	return store.Layout(c.CoarseAlgorithm)
}

// GridPolicy returns the grid policy selected by CatchUp
func (c *Config) GridPolicy() search.Policy {
	if c.CatchUp {
		return search.PolicyCatchUp
	}
	return search.PolicyLookupAll
}

// NewSimulator builds the command-backed simulator. It fails when no
// command is configured.
func (c *Config) NewSimulator() (*sim.Command, error) {
	if c.Simulator.Command == "" {
		return nil, fmt.Errorf("no simulator command configured")
	}
	var timeout time.Duration
	if c.Simulator.Timeout != "" {
		d, err := time.ParseDuration(c.Simulator.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid simulator timeout '%s': %w", c.Simulator.Timeout, err)
		}
		timeout = d
	}
	return sim.NewCommand(c.Simulator.Command, c.Simulator.Args, timeout), nil
}
