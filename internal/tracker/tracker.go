package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/pacewatch/internal/metrics"
	"github.com/goodtune/pacewatch/internal/storage"
	"github.com/rs/zerolog"
)

// Tracker owns the usage record. Every read and mutation goes through it:
// mutations validate first, then clone, change, persist, and only swap the
// in-memory record once the write succeeded, so a failed save never leaves
// memory and disk disagreeing about committed state.
type Tracker struct {
	records storage.RecordStore
	mode    Mode
	clock   Clock
	logger  zerolog.Logger

	mu         sync.Mutex
	record     *storage.UsageRecord
	lastStatus Status
	hasStatus  bool
}

// New creates a tracker in the given mode. A nil clock falls back to the
// system clock.
func New(records storage.RecordStore, mode Mode, clock Clock, logger zerolog.Logger) *Tracker {
	if clock == nil {
		clock = RealClock{}
	}
	return &Tracker{
		records: records,
		mode:    mode,
		clock:   clock,
		logger:  logger.With().Str("component", "tracker").Logger(),
	}
}

// Mode returns the tracking mode the tracker was built with.
func (t *Tracker) Mode() Mode { return t.mode }

// Now returns the tracker's notion of the current time, so presentation
// layers date their defaults from the same clock the cycle math uses.
func (t *Tracker) Now() time.Time { return t.clock.Now() }

// Load reads the persisted record. A missing, unreadable, or invalid record
// fails soft: the tracker substitutes defaults anchored at today and carries
// on. Callers receive a copy.
func (t *Tracker) Load(ctx context.Context) *storage.UsageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadLocked(ctx)
	return t.record.Clone()
}

func (t *Tracker) loadLocked(ctx context.Context) {
	if t.record != nil {
		return
	}

	record, err := t.records.Get(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		t.logger.Debug().Msg("No usage record yet, starting with defaults")
		record = &storage.UsageRecord{}
	case err != nil:
		metrics.StoreErrorsTotal.Inc()
		t.logger.Warn().Err(err).Msg("Usage record unreadable, substituting defaults")
		record = &storage.UsageRecord{}
	default:
		if verr := record.Validate(); verr != nil {
			t.logger.Warn().Err(verr).Msg("Usage record invalid, substituting defaults")
			record = &storage.UsageRecord{}
		}
	}

	t.normalize(record)
	t.record = record
}

// normalize anchors a record that has no cycle marker yet.
func (t *Tracker) normalize(record *storage.UsageRecord) {
	if record.ResetDate != "" || record.CurrentMonth != "" {
		return
	}
	now := t.clock.Now()
	if t.mode == ModePercent {
		record.ResetDate = now.Format(storage.DateLayout)
	} else {
		record.CurrentMonth = now.Format(storage.MonthLayout)
	}
}

// SetUsage stores the absolute usage value for the running cycle.
func (t *Tracker) SetUsage(ctx context.Context, value float64) error {
	if t.mode != ModeAbsolute {
		return fmt.Errorf("%w: usage value applies to absolute mode", ErrInvalidInput)
	}
	if value < 0 {
		return fmt.Errorf("%w: usage cannot be negative", ErrInvalidInput)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadLocked(ctx)

	record := t.record.Clone()
	record.CurrentUsage = value
	if err := t.commitLocked(ctx, record); err != nil {
		return err
	}
	t.logger.Info().Float64("usage", value).Msg("Usage updated")
	return nil
}

// SetPercentage stores the usage percentage for the running cycle.
func (t *Tracker) SetPercentage(ctx context.Context, value float64) error {
	if t.mode != ModePercent {
		return fmt.Errorf("%w: percentage applies to percent mode", ErrInvalidInput)
	}
	if value < 0 || value > 100 {
		return fmt.Errorf("%w: percentage must be between 0 and 100", ErrInvalidInput)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadLocked(ctx)

	record := t.record.Clone()
	record.CurrentPercentage = value
	if err := t.commitLocked(ctx, record); err != nil {
		return err
	}
	t.logger.Info().Float64("percentage", value).Msg("Usage percentage updated")
	return nil
}

// SetLimit stores the cycle allowance the absolute usage is tracked against.
func (t *Tracker) SetLimit(ctx context.Context, value float64) error {
	if t.mode != ModeAbsolute {
		return fmt.Errorf("%w: limit applies to absolute mode", ErrInvalidInput)
	}
	if value <= 0 {
		return fmt.Errorf("%w: limit must be greater than zero", ErrInvalidInput)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadLocked(ctx)

	record := t.record.Clone()
	record.Limit = value
	if err := t.commitLocked(ctx, record); err != nil {
		return err
	}
	t.logger.Info().Float64("limit", value).Msg("Limit updated")
	return nil
}

// SetResetDate re-anchors the cycle at a custom billing date without zeroing
// the usage value, for installs that join a billing cycle already underway.
// The cycle becomes a rolling 30-day window from the anchor; if the anchor
// already lies a full window in the past, the next rollover check zeroes at
// the natural boundary.
func (t *Tracker) SetResetDate(ctx context.Context, anchor time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadLocked(ctx)

	record := t.record.Clone()
	record.ResetDate = anchor.Format(storage.DateLayout)
	record.CurrentMonth = ""
	if err := t.commitLocked(ctx, record); err != nil {
		return err
	}
	t.logger.Info().Str("reset_date", record.ResetDate).Msg("Billing anchor updated")
	return nil
}

// ResetCycle starts a new cycle at the given date: the usage value drops to
// zero and the cycle anchor moves to start. A first-of-month date anchors
// the calendar month in absolute mode; any other date anchors a rolling
// 30-day window.
func (t *Tracker) ResetCycle(ctx context.Context, start time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadLocked(ctx)

	record := t.record.Clone()
	record.CurrentUsage = 0
	record.CurrentPercentage = 0
	if t.mode == ModeAbsolute && start.Day() == 1 {
		record.CurrentMonth = start.Format(storage.MonthLayout)
		record.ResetDate = ""
	} else {
		record.ResetDate = start.Format(storage.DateLayout)
		record.CurrentMonth = ""
	}
	if err := t.commitLocked(ctx, record); err != nil {
		return err
	}
	t.logger.Info().
		Str("cycle_start", start.Format(storage.DateLayout)).
		Msg("Cycle reset")
	return nil
}

// CheckRollover rolls the record into a fresh cycle when today lies on or
// past the natural boundary: the first of the next month, or the reset date
// plus 30 days. It reports whether a rollover happened and is a no-op when
// repeated the same day, so callers can run it on every tick.
func (t *Tracker) CheckRollover(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadLocked(ctx)

	today := t.clock.Now()
	current, err := activeCycle(t.record, today)
	if err != nil {
		return false, fmt.Errorf("derive cycle: %w", err)
	}
	if !current.expired(today) {
		return false, nil
	}

	next := current.advance(today)
	record := t.record.Clone()
	record.CurrentUsage = 0
	record.CurrentPercentage = 0
	if next.rolling {
		record.ResetDate = next.start.Format(storage.DateLayout)
		record.CurrentMonth = ""
	} else {
		record.CurrentMonth = next.start.Format(storage.MonthLayout)
		record.ResetDate = ""
	}
	if err := t.commitLocked(ctx, record); err != nil {
		return false, err
	}

	metrics.RolloversTotal.Inc()
	t.logger.Info().
		Time("cycle_start", next.start).
		Int("cycle_days", next.length).
		Msg("Cycle rolled over")
	return true, nil
}

// GetMetrics derives the projection for today. It mutates nothing.
func (t *Tracker) GetMetrics(ctx context.Context) (*Metrics, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadLocked(ctx)

	today := t.clock.Now()
	c, err := activeCycle(t.record, today)
	if err != nil {
		return nil, fmt.Errorf("derive cycle: %w", err)
	}
	return t.compute(t.record, c, today), nil
}

// PreviewMetrics derives the projection as it would read on the given date,
// without touching the record. An expired cycle reads as freshly rolled, the
// same way a tick on that date would report it.
func (t *Tracker) PreviewMetrics(ctx context.Context, asOf time.Time) (*Metrics, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadLocked(ctx)

	record := t.record
	c, err := activeCycle(record, asOf)
	if err != nil {
		return nil, fmt.Errorf("derive cycle: %w", err)
	}
	if c.expired(asOf) {
		c = c.advance(asOf)
		record = record.Clone()
		record.CurrentUsage = 0
		record.CurrentPercentage = 0
	}
	return t.compute(record, c, asOf), nil
}

// Tick is the scheduler entry point: roll the cycle if due, recompute, and
// publish the result to the exported gauges.
func (t *Tracker) Tick(ctx context.Context) (*Metrics, error) {
	rolled, err := t.CheckRollover(ctx)
	if err != nil {
		return nil, err
	}
	m, err := t.GetMetrics(ctx)
	if err != nil {
		return nil, err
	}

	metrics.RefreshesTotal.Inc()
	publish(m)
	t.observeStatus(m, rolled)
	return m, nil
}

func (t *Tracker) compute(record *storage.UsageRecord, c cycle, today time.Time) *Metrics {
	day := c.dayOfCycle(today)
	remaining := c.daysRemaining(today)

	m := &Metrics{
		Mode:          t.mode,
		CycleStart:    c.start,
		NextReset:     c.nextStart(),
		DayOfCycle:    day,
		DaysInCycle:   c.length,
		DaysRemaining: remaining,
		LastUpdated:   record.LastUpdated,
	}

	allowance := 100.0
	if t.mode == ModeAbsolute {
		m.CurrentValue = record.CurrentUsage
		m.Limit = record.Limit
		allowance = record.Limit
	} else {
		m.CurrentValue = record.CurrentPercentage
	}

	m.DailyAverage = m.CurrentValue / float64(day)
	m.Projected = m.DailyAverage * float64(c.length)

	if t.mode == ModeAbsolute {
		if record.Limit > 0 {
			m.PercentUsed = m.CurrentValue / record.Limit * 100
			m.ProjectedPercent = m.Projected / record.Limit * 100

			budget := record.Limit - m.CurrentValue
			if budget < 0 {
				m.OverBudget = -budget
				budget = 0
			}
			days := remaining
			if days < 1 {
				days = 1
			}
			m.RecommendedDaily = budget / float64(days)
		}
	} else {
		m.PercentUsed = m.CurrentValue
		m.ProjectedPercent = m.Projected
	}

	m.ExpectedValue = allowance / float64(c.length) * float64(day)
	m.Status = statusFor(m.CurrentValue, m.ExpectedValue)
	return m
}

// commitLocked stamps the mutation time, persists, and only then replaces
// the in-memory record.
func (t *Tracker) commitLocked(ctx context.Context, record *storage.UsageRecord) error {
	now := t.clock.Now()
	record.LastUpdated = &now
	if err := t.records.Put(ctx, record); err != nil {
		metrics.StoreErrorsTotal.Inc()
		return fmt.Errorf("persist usage record: %w", err)
	}
	t.record = record
	return nil
}

func publish(m *Metrics) {
	metrics.UsageCurrent.Set(m.CurrentValue)
	metrics.UsageLimit.Set(m.Limit)
	metrics.UsagePercent.Set(m.PercentUsed)
	metrics.UsageProjected.Set(m.Projected)
	metrics.UsageDailyAverage.Set(m.DailyAverage)
	metrics.CycleDay.Set(float64(m.DayOfCycle))
	metrics.CycleDaysRemaining.Set(float64(m.DaysRemaining))
	metrics.StatusTier.Set(float64(m.Status.Tier()))
}

// observeStatus logs pace tier transitions so a daemon run leaves an audit
// trail of when the spend crossed the warning and overpace thresholds. A
// rollover resets the baseline without logging the jump back to on track.
func (t *Tracker) observeStatus(m *Metrics, rolled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rolled || !t.hasStatus {
		t.lastStatus = m.Status
		t.hasStatus = true
		return
	}
	if m.Status == t.lastStatus {
		return
	}

	event := t.logger.Info()
	if m.Status.Tier() > t.lastStatus.Tier() {
		event = t.logger.Warn()
	}
	event.
		Str("from", string(t.lastStatus)).
		Str("to", string(m.Status)).
		Float64("value", m.CurrentValue).
		Float64("expected", m.ExpectedValue).
		Msg("Pace status changed")
	t.lastStatus = m.Status
}
