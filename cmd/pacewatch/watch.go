package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/pacewatch/internal/config"
	"github.com/goodtune/pacewatch/internal/metrics"
	"github.com/goodtune/pacewatch/internal/statusapi"
	"github.com/goodtune/pacewatch/internal/storage"
	"github.com/goodtune/pacewatch/internal/storage/bolt"
	"github.com/goodtune/pacewatch/internal/storage/file"
	"github.com/goodtune/pacewatch/internal/storage/redis"
	"github.com/goodtune/pacewatch/internal/systemd"
	"github.com/goodtune/pacewatch/internal/tracker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the tracking daemon",
	Long: `Run the pacewatch daemon: refresh the projection on a schedule, roll the
cycle over at its natural boundary, and serve the local status API and
Prometheus metrics for desktop widgets and scrapers.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// logFile is the rotating log sink when logging.file is configured.
// SIGHUP triggers a rotation so logrotate-style setups can reopen it.
var logFile *lumberjack.Logger

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("mode", cfg.Tracker.Mode).
		Msg("Starting pacewatch")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	mode, err := tracker.ParseMode(cfg.Tracker.Mode)
	if err != nil {
		return err
	}

	tr := tracker.New(store.Records(), mode, nil, logger)

	// Start the status API server
	var apiServer *statusapi.Server
	if cfg.Watch.API.Enabled {
		apiServer = statusapi.NewServer(cfg.Watch.API.Listen, tr, logger)
		if sdListeners.Activated && sdListeners.API != nil {
			apiServer.SetListener(sdListeners.API)
		}
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start status API server: %w", err)
		}
		logger.Info().Str("addr", cfg.Watch.API.Listen).Msg("Status API server started")
	}

	// Start the metrics server
	var metricsServer *metrics.Server
	if cfg.Watch.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Watch.Metrics.Listen, logger)
		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		logger.Info().Str("addr", cfg.Watch.Metrics.Listen).Msg("Metrics server started")
	}

	ctx := context.Background()

	tick := func() {
		m, err := tr.Tick(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Refresh failed")
			return
		}
		logger.Info().
			Int("day", m.DayOfCycle).
			Int("days_in_cycle", m.DaysInCycle).
			Float64("value", m.CurrentValue).
			Float64("projected", m.Projected).
			Str("status", string(m.Status)).
			Msg("Projection refreshed")
	}

	// Immediate refresh so widgets see fresh numbers right after start
	tick()

	interval := cfg.Watch.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", interval).Msg("Refresh schedule started")

	// Systemd watchdog pings, when requested by the unit
	var watchdogC <-chan time.Time
	if cfg.Watch.Watchdog {
		if wi := systemd.WatchdogInterval(); wi > 0 {
			watchdog := time.NewTicker(wi)
			defer watchdog.Stop()
			watchdogC = watchdog.C
			logger.Info().Dur("interval", wi).Msg("Systemd watchdog pings enabled")
		}
	}

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

loop:
	for {
		select {
		case <-ticker.C:
			tick()

		case <-watchdogC:
			if err := systemd.NotifyWatchdog(); err != nil {
				logger.Warn().Err(err).Msg("Failed to ping systemd watchdog")
			}

		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				logger.Info().Msg("SIGHUP received, rotating logs and refreshing")
				if logFile != nil {
					if err := logFile.Rotate(); err != nil {
						logger.Error().Err(err).Msg("Failed to rotate log file")
					}
				}
				tick()
				continue

			case os.Interrupt, syscall.SIGTERM:
				logger.Info().Msg("Shutdown signal received, gracefully stopping...")
				break loop
			}
		}
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping status API server")
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("Pacewatch stopped")

	return nil
}

// openStorage opens the configured storage backend.
func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "file", "":
		return file.Open(cfg.Path)
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// buildTracker opens storage and wires a tracker in the configured mode.
// The caller owns the returned store and must close it.
func buildTracker(cfg *config.Config, logger zerolog.Logger) (*tracker.Tracker, storage.Store, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	mode, err := tracker.ParseMode(cfg.Tracker.Mode)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	return tracker.New(store.Records(), mode, nil, logger), store, nil
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		logFile = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = logFile
	}

	// Console format only makes sense on a terminal; files always get JSON
	if cfg.Format == "console" && cfg.File == "" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}
