package main

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/pacewatch/internal/storage"
	"github.com/goodtune/pacewatch/internal/tracker"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset [YYYY-MM-DD]",
	Short: "Start a new cycle",
	Long: `Zero the usage value and start a new cycle at today or the given date.
In absolute mode a first-of-month date anchors calendar tracking; any other
date starts a rolling 30-day window.`,
	Example: `  pacewatch reset
  pacewatch reset 2024-02-01`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReset,
}

var resetDateCmd = &cobra.Command{
	Use:   "reset-date YYYY-MM-DD",
	Short: "Anchor the cycle at a billing date without clearing usage",
	Long: `Move the cycle anchor to a custom billing date while keeping the recorded
usage, for installs that join a billing cycle already underway. The cycle
becomes a rolling 30-day window from the anchor.`,
	Args: cobra.ExactArgs(1),
	RunE: runResetDate,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(resetDateCmd)
}

func parseDateArg(arg string) (time.Time, error) {
	day, err := time.Parse(storage.DateLayout, arg)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q (expected YYYY-MM-DD)", tracker.ErrInvalidInput, arg)
	}
	return day, nil
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tr, store, err := buildTracker(cfg, quietLogger())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	start := tr.Now()
	if len(args) == 1 {
		start, err = parseDateArg(args[0])
		if err != nil {
			return err
		}
	}

	if err := tr.ResetCycle(ctx, start); err != nil {
		return err
	}

	m, err := tr.GetMetrics(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute projection: %w", err)
	}

	fmt.Printf("Cycle reset at %s, next rollover %s\n",
		start.Format(storage.DateLayout),
		m.NextReset.Format(storage.DateLayout))
	return nil
}

func runResetDate(cmd *cobra.Command, args []string) error {
	anchor, err := parseDateArg(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tr, store, err := buildTracker(cfg, quietLogger())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	if err := tr.SetResetDate(ctx, anchor); err != nil {
		return err
	}

	m, err := tr.GetMetrics(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute projection: %w", err)
	}

	fmt.Printf("Cycle anchored at %s, next rollover %s\n",
		anchor.Format(storage.DateLayout),
		m.NextReset.Format(storage.DateLayout))
	return nil
}
