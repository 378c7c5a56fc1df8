package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/pacewatch/internal/storage"
	"github.com/goodtune/pacewatch/internal/tracker"
	"github.com/spf13/cobra"
)

var (
	statusJSON bool
	statusDate string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current usage projection",
	Long: `Show where the usage stands in the current cycle: daily average,
projected end-of-cycle value, and whether the pace stays inside the
allowance.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw metrics document")
	statusCmd.Flags().StringVar(&statusDate, "date", "", "Preview the projection as of this date (YYYY-MM-DD) without modifying the record")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var previewDay time.Time
	if statusDate != "" {
		previewDay, err = parseDateArg(statusDate)
		if err != nil {
			return err
		}
	}

	tr, store, err := buildTracker(cfg, quietLogger())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	var m *tracker.Metrics
	if statusDate != "" {
		// A dated view reads the record as a tick on that date would,
		// without persisting the roll.
		m, err = tr.PreviewMetrics(ctx, previewDay)
	} else {
		m, err = tr.Tick(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to compute projection: %w", err)
	}

	if statusJSON {
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	printStatus(m)
	return nil
}

// printStatus prints the projection with colors
func printStatus(m *tracker.Metrics) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("USAGE PACE")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Cycle:       started %s, resets %s (day %d of %d)\n",
		m.CycleStart.Format(storage.DateLayout),
		m.NextReset.Format(storage.DateLayout),
		m.DayOfCycle, m.DaysInCycle)

	if m.Mode == tracker.ModePercent {
		fmt.Printf("Used:        %.1f%%\n", m.CurrentValue)
		fmt.Printf("Daily avg:   %.1f%% per day\n", m.DailyAverage)
		fmt.Printf("Projected:   %.1f%% by cycle end\n", m.Projected)
		fmt.Printf("Expected:    %.1f%% at this point in the cycle\n", m.ExpectedValue)
		fmt.Printf("Remaining:   %d days\n", m.DaysRemaining)
	} else if m.Limit > 0 {
		fmt.Printf("Usage:       %.1f of %.1f (%.1f%%)\n", m.CurrentValue, m.Limit, m.PercentUsed)
		fmt.Printf("Daily avg:   %.1f per day\n", m.DailyAverage)
		fmt.Printf("Projected:   %.1f by cycle end (%.1f%% of limit)\n", m.Projected, m.ProjectedPercent)
		fmt.Printf("Expected:    %.1f at this point in the cycle\n", m.ExpectedValue)
		fmt.Printf("Remaining:   %d days (recommended %.1f per day)\n", m.DaysRemaining, m.RecommendedDaily)
	} else {
		fmt.Printf("Usage:       %.1f (no limit set)\n", m.CurrentValue)
		fmt.Printf("Daily avg:   %.1f per day\n", m.DailyAverage)
		fmt.Printf("Projected:   %.1f by cycle end\n", m.Projected)
		fmt.Printf("Remaining:   %d days\n", m.DaysRemaining)
	}

	if m.LastUpdated != nil {
		fmt.Printf("Updated:     %s\n", m.LastUpdated.Format("2006-01-02 15:04"))
	}
	fmt.Println()

	cyan.Print("Status:      ")
	switch m.Status {
	case tracker.StatusOnTrack:
		green.Println("ON TRACK")
		fmt.Println("             → Spend is below 80% of the expected pace")
	case tracker.StatusWarning:
		yellow.Println("WARNING")
		fmt.Println("             → Spend is at 80% or more of the expected pace")
	case tracker.StatusOverpace:
		red.Println("OVER PACE")
		fmt.Println("             → Spend is at or past the expected pace")
		if m.OverBudget > 0 {
			red.Printf("             → Over budget by %.1f\n", m.OverBudget)
		}
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
