package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/plasticityfit/internal/config"
)

var (
	logLevel   string
	logger     *slog.Logger
	configPath string

	// Overrides of the run configuration
	dataDir    string
	protocol   string
	plasticity string
	veto       bool

	runConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "plasticityfit",
	Short: "Parameter search for synaptic plasticity rules",
	Long: `plasticityfit searches the parameters of a synaptic plasticity rule so
that simulated weight changes reproduce published stimulation protocols.
Results are memoized in SQLite stores, one per search pass and job.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Setup logger
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: level}
		handler := slog.NewJSONHandler(os.Stdout, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)

		cfg, err := loadRunConfig(cmd)
		if err != nil {
			return err
		}
		runConfig = cfg
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "JSON run configuration file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding the result stores (overrides config)")
	rootCmd.PersistentFlags().StringVar(&protocol, "protocol", "", "Stimulation protocol: Letzkus, Brandalise, Brandaliseb (overrides config)")
	rootCmd.PersistentFlags().StringVar(&plasticity, "plasticity", "", "Plasticity rule: Claire, Clopath (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&veto, "veto", false, "Use the veto variant of the rule (overrides config)")
}

// loadRunConfig reads --config, or the defaults without it, and applies
// the flags the user set explicitly.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("protocol") {
		cfg.Protocol = protocol
	}
	if flags.Changed("plasticity") {
		cfg.Plasticity = plasticity
	}
	if flags.Changed("veto") {
		cfg.Veto = veto
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	slog.Debug("Run configuration",
		"data_dir", cfg.DataDir,
		"protocol", cfg.Protocol,
		"table", cfg.Rule().TableName(),
	)
	return cfg, nil
}
