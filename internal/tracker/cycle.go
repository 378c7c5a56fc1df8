package tracker

import (
	"fmt"
	"time"

	"github.com/goodtune/pacewatch/internal/storage"
)

// rollingCycleDays is the fixed window length when the cycle is anchored at a
// custom reset date instead of the calendar month.
const rollingCycleDays = 30

// cycle is the active tracking window: its first day, its length in days,
// and whether it rolls every 30 days or follows the calendar month.
type cycle struct {
	start   time.Time
	length  int
	rolling bool
}

// activeCycle derives the window the record is currently tracking against.
// A reset_date anchor takes precedence over the calendar month; a record
// with neither anchor cycles over today's month.
func activeCycle(record *storage.UsageRecord, today time.Time) (cycle, error) {
	if record.ResetDate != "" {
		anchor, err := time.Parse(storage.DateLayout, record.ResetDate)
		if err != nil {
			return cycle{}, fmt.Errorf("invalid reset_date %q: %w", record.ResetDate, err)
		}
		return cycle{start: anchor, length: rollingCycleDays, rolling: true}, nil
	}

	month := today
	if record.CurrentMonth != "" {
		parsed, err := time.Parse(storage.MonthLayout, record.CurrentMonth)
		if err != nil {
			return cycle{}, fmt.Errorf("invalid current_month %q: %w", record.CurrentMonth, err)
		}
		month = parsed
	}
	return cycle{
		start:  time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC),
		length: daysInMonth(month.Year(), month.Month()),
	}, nil
}

// dayOfCycle is the whole days elapsed since the cycle started, never below
// 1 so that per-day division is always defined.
func (c cycle) dayOfCycle(today time.Time) int {
	day := daysBetween(c.start, today)
	if day < 1 {
		return 1
	}
	return day
}

// daysRemaining floors at 0 once the cycle is past due.
func (c cycle) daysRemaining(today time.Time) int {
	remaining := c.length - c.dayOfCycle(today)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// expired reports whether today lies past the cycle's natural boundary.
func (c cycle) expired(today time.Time) bool {
	return daysBetween(c.start, today) >= c.length
}

// nextStart is the natural boundary: the first of the following month, or
// the anchor plus 30 days.
func (c cycle) nextStart() time.Time {
	if c.rolling {
		return c.start.AddDate(0, 0, c.length)
	}
	return time.Date(c.start.Year(), c.start.Month()+1, 1, 0, 0, 0, 0, c.start.Location())
}

// advance returns the cycle that contains today. A rolling cycle steps its
// anchor forward by whole 30-day windows so long gaps between checks do not
// drift the anchor; a calendar cycle adopts today's month directly.
func (c cycle) advance(today time.Time) cycle {
	if c.rolling {
		steps := daysBetween(c.start, today) / c.length
		if steps < 1 {
			steps = 1
		}
		return cycle{start: c.start.AddDate(0, 0, steps*c.length), length: c.length, rolling: true}
	}
	return cycle{
		start:  time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC),
		length: daysInMonth(today.Year(), today.Month()),
	}
}

// daysBetween counts whole calendar days from one date to another, ignoring
// the time of day and any zone offset difference.
func daysBetween(from, to time.Time) int {
	fromDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	toDay := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(toDay.Sub(fromDay) / (24 * time.Hour))
}

// daysInMonth uses the zeroth day of the following month, which time.Date
// normalizes to the last day of the given one.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
