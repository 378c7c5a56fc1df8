package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goodtune/pacewatch/internal/tracker"
	"github.com/spf13/cobra"
)

var setCmd = &cobra.Command{
	Use:   "set VALUE",
	Short: "Record the usage for the running cycle",
	Long: `Record the current usage reading: the absolute value in absolute mode,
or the used percentage (0-100) in percent mode.`,
	Example: `  pacewatch set 123.5
  pacewatch --config ~/.config/pacewatch/config.yaml set 42`,
	Args: cobra.ExactArgs(1),
	RunE: runSet,
}

var limitCmd = &cobra.Command{
	Use:   "limit VALUE",
	Short: "Set the cycle allowance",
	Long:  `Set the allowance the absolute usage is tracked against. The limit survives cycle resets.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runLimit,
}

func init() {
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(limitCmd)
}

func parseValue(arg string) (float64, error) {
	value, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: not a number: %q", tracker.ErrInvalidInput, arg)
	}
	return value, nil
}

func runSet(cmd *cobra.Command, args []string) error {
	value, err := parseValue(args[0])
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

	if tr.Mode() == tracker.ModePercent {
		if err := tr.SetPercentage(ctx, value); err != nil {
			return err
		}
		fmt.Printf("Usage set to %.1f%%\n", value)
		return nil
	}

	if err := tr.SetUsage(ctx, value); err != nil {
		return err
	}
	fmt.Printf("Usage set to %.1f\n", value)
	return nil
}

func runLimit(cmd *cobra.Command, args []string) error {
	value, err := parseValue(args[0])
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

	if err := tr.SetLimit(context.Background(), value); err != nil {
		return err
	}
	fmt.Printf("Limit set to %.1f\n", value)
	return nil
}
