package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/goodtune/pacewatch/internal/config"
	"github.com/goodtune/pacewatch/internal/tracker"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
	dataPath   string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pacewatch",
	Short: "Pacewatch - usage pace tracking against a billing cycle",
	Long: `Pacewatch records a usage value or percentage for the current billing
cycle and projects whether the spend stays inside the allowance. It tracks
calendar months or rolling 30-day windows, rolls the cycle over at the
natural boundary, and serves the projection to desktop widgets over a
local status API and Prometheus metrics.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to status command when no subcommand is provided
		return runStatus(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&dataPath, "data", "", "Path to the usage record (overrides storage.path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, tracker.ErrInvalidInput) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// loadConfig loads the configuration and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if dataPath != "" {
		path, err := config.ExpandPath(dataPath)
		if err != nil {
			return nil, err
		}
		cfg.Storage.Path = path
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

// quietLogger is the logger for one-shot commands: errors only, unless
// --verbose asks for the full trace.
func quietLogger() zerolog.Logger {
	level := zerolog.ErrorLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
