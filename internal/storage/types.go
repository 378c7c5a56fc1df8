package storage

import (
	"fmt"
	"time"
)

// Date layouts used by the wire format. The cycle anchor is a calendar month
// for monthly tracking and a plain date for fixed 30-day tracking.
const (
	MonthLayout = "2006-01"
	DateLayout  = "2006-01-02"
)

// UsageRecord is the persisted state: one JSON object holding the current
// cycle's usage. Absolute tracking uses limit/current_usage and anchors the
// cycle at current_month (or reset_date when a custom anchor is set);
// percentage tracking uses current_percentage and always anchors at
// reset_date. Zero fields are omitted on disk and load back as zero, so the
// serialized shape carries only the fields the active variant uses.
type UsageRecord struct {
	Limit             float64    `json:"limit,omitempty"`
	CurrentUsage      float64    `json:"current_usage,omitempty"`
	CurrentPercentage float64    `json:"current_percentage,omitempty"`
	CurrentMonth      string     `json:"current_month,omitempty"`
	ResetDate         string     `json:"reset_date,omitempty"`
	LastUpdated       *time.Time `json:"last_updated,omitempty"`
}

// Validate reports whether the record holds values a tracker can work with.
// Hand-edited or truncated files surface here and get replaced by defaults.
func (r *UsageRecord) Validate() error {
	if r.Limit < 0 {
		return fmt.Errorf("limit cannot be negative: %v", r.Limit)
	}
	if r.CurrentUsage < 0 {
		return fmt.Errorf("current_usage cannot be negative: %v", r.CurrentUsage)
	}
	if r.CurrentPercentage < 0 || r.CurrentPercentage > 100 {
		return fmt.Errorf("current_percentage out of range: %v", r.CurrentPercentage)
	}
	if r.CurrentMonth != "" {
		if _, err := time.Parse(MonthLayout, r.CurrentMonth); err != nil {
			return fmt.Errorf("invalid current_month %q: %w", r.CurrentMonth, err)
		}
	}
	if r.ResetDate != "" {
		if _, err := time.Parse(DateLayout, r.ResetDate); err != nil {
			return fmt.Errorf("invalid reset_date %q: %w", r.ResetDate, err)
		}
	}
	return nil
}

// Clone returns an independent copy of the record.
func (r *UsageRecord) Clone() *UsageRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.LastUpdated != nil {
		t := *r.LastUpdated
		out.LastUpdated = &t
	}
	return &out
}
