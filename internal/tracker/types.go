package tracker

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInput is returned when a mutation carries a value the tracker
// refuses to store. The record is left untouched in that case.
var ErrInvalidInput = errors.New("tracker: invalid input")

// Mode selects which derived-metric formulas apply: absolute tracks a usage
// value against a limit, percent tracks a 0-100 percentage directly.
type Mode string

const (
	ModeAbsolute Mode = "absolute"
	ModePercent  Mode = "percent"
)

// ParseMode validates a mode string from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAbsolute, ModePercent:
		return Mode(s), nil
	case "":
		return ModeAbsolute, nil
	default:
		return "", fmt.Errorf("invalid tracker mode %q (must be absolute or percent)", s)
	}
}

// Status is the pace tier relative to an even spend of the allowance across
// the cycle. Boundaries round toward the stricter tier: exactly 80% of the
// expected pace is already a warning, exactly 100% is already overpace.
type Status string

const (
	StatusOnTrack  Status = "on_track"
	StatusWarning  Status = "warning"
	StatusOverpace Status = "overpace"
)

// statusFor derives the tier from the current value and the expected value
// at this point of the cycle. A zero expectation reads as on track.
func statusFor(value, expected float64) Status {
	if expected <= 0 {
		return StatusOnTrack
	}
	ratio := value / expected
	switch {
	case ratio < 0.8:
		return StatusOnTrack
	case ratio < 1.0:
		return StatusWarning
	default:
		return StatusOverpace
	}
}

// Tier maps the status to a stable numeric level for gauges and exit paths.
func (s Status) Tier() int {
	switch s {
	case StatusWarning:
		return 1
	case StatusOverpace:
		return 2
	default:
		return 0
	}
}

// Metrics is the derived projection over the current record. It is computed
// on demand and never persisted.
type Metrics struct {
	Mode             Mode       `json:"mode"`
	CycleStart       time.Time  `json:"cycle_start"`
	NextReset        time.Time  `json:"next_reset"`
	DayOfCycle       int        `json:"day_of_cycle"`
	DaysInCycle      int        `json:"days_in_cycle"`
	DaysRemaining    int        `json:"days_remaining"`
	CurrentValue     float64    `json:"current_value"`
	Limit            float64    `json:"limit,omitempty"`
	DailyAverage     float64    `json:"daily_average"`
	Projected        float64    `json:"projected_end_of_cycle"`
	PercentUsed      float64    `json:"percentage_used"`
	ProjectedPercent float64    `json:"projected_percentage"`
	ExpectedValue    float64    `json:"expected_value"`
	RecommendedDaily float64    `json:"recommended_daily_rate,omitempty"`
	OverBudget       float64    `json:"over_budget,omitempty"`
	Status           Status     `json:"status"`
	LastUpdated      *time.Time `json:"last_updated,omitempty"`
}
