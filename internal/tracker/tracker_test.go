package tracker

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/goodtune/pacewatch/internal/storage"
	"github.com/rs/zerolog"
)

// memStore is an in-memory RecordStore so tests can seed state and observe
// exactly what the tracker persists.
type memStore struct {
	record  *storage.UsageRecord
	failGet bool
	failPut bool
	puts    int
}

func (s *memStore) Get(ctx context.Context) (*storage.UsageRecord, error) {
	if s.failGet {
		return nil, errors.New("store unavailable")
	}
	if s.record == nil {
		return nil, storage.ErrNotFound
	}
	return s.record.Clone(), nil
}

func (s *memStore) Put(ctx context.Context, record *storage.UsageRecord) error {
	if s.failPut {
		return errors.New("store unavailable")
	}
	s.record = record.Clone()
	s.puts++
	return nil
}

func newTestTracker(t *testing.T, mode Mode, seed *storage.UsageRecord, today string) (*Tracker, *memStore, *TestClock) {
	t.Helper()

	store := &memStore{record: seed}
	clock := &TestClock{CurrentTime: mustDate(t, today)}
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	return New(store, mode, clock, logger), store, clock
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestMetricsAbsoluteRollingCycle(t *testing.T) {
	seed := &storage.UsageRecord{Limit: 500, CurrentUsage: 100, ResetDate: "2024-01-01"}
	tr, _, _ := newTestTracker(t, ModeAbsolute, seed, "2024-01-11")

	m, err := tr.GetMetrics(context.Background())
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}

	if m.DayOfCycle != 10 || m.DaysInCycle != 30 || m.DaysRemaining != 20 {
		t.Fatalf("cycle position = day %d of %d, %d remaining", m.DayOfCycle, m.DaysInCycle, m.DaysRemaining)
	}
	approx(t, "daily_average", m.DailyAverage, 10)
	approx(t, "projected", m.Projected, 300)
	approx(t, "percentage_used", m.PercentUsed, 20)
	approx(t, "projected_percentage", m.ProjectedPercent, 60)
	approx(t, "recommended_daily_rate", m.RecommendedDaily, 20)
	if m.Status != StatusOnTrack {
		t.Errorf("status = %s, want %s", m.Status, StatusOnTrack)
	}
	if got := m.NextReset.Format(storage.DateLayout); got != "2024-01-31" {
		t.Errorf("next_reset = %s, want 2024-01-31", got)
	}
}

func TestMetricsAbsoluteMonthlyCycle(t *testing.T) {
	seed := &storage.UsageRecord{Limit: 500, CurrentUsage: 100, CurrentMonth: "2024-01"}
	tr, _, _ := newTestTracker(t, ModeAbsolute, seed, "2024-01-11")

	m, err := tr.GetMetrics(context.Background())
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}

	if m.DayOfCycle != 10 || m.DaysInCycle != 31 || m.DaysRemaining != 21 {
		t.Fatalf("cycle position = day %d of %d, %d remaining", m.DayOfCycle, m.DaysInCycle, m.DaysRemaining)
	}
	approx(t, "daily_average", m.DailyAverage, 10)
	approx(t, "projected", m.Projected, 310)
	approx(t, "expected_value", m.ExpectedValue, 500.0/31*10)
	if m.Status != StatusOnTrack {
		t.Errorf("status = %s, want %s", m.Status, StatusOnTrack)
	}
}

func TestMetricsPercentMode(t *testing.T) {
	seed := &storage.UsageRecord{CurrentPercentage: 20, ResetDate: "2024-01-01"}
	tr, _, _ := newTestTracker(t, ModePercent, seed, "2024-01-11")

	m, err := tr.GetMetrics(context.Background())
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}

	if m.DayOfCycle != 10 {
		t.Fatalf("day_of_cycle = %d, want 10", m.DayOfCycle)
	}
	approx(t, "daily_average", m.DailyAverage, 2)
	approx(t, "projected", m.Projected, 60)
	approx(t, "percentage_used", m.PercentUsed, 20)
	approx(t, "expected_value", m.ExpectedValue, 100.0/30*10)
	if m.RecommendedDaily != 0 {
		t.Errorf("recommended_daily_rate = %v, want 0 in percent mode", m.RecommendedDaily)
	}
	if m.Status != StatusOnTrack {
		t.Errorf("status = %s, want %s", m.Status, StatusOnTrack)
	}
}

func TestStatusTierBoundaries(t *testing.T) {
	// Day 10 of 30 with limit 300 puts the expected pace at exactly 100.
	tests := []struct {
		name  string
		usage float64
		want  Status
	}{
		{name: "under_pace", usage: 60, want: StatusOnTrack},
		{name: "just_under_warning", usage: 79.9, want: StatusOnTrack},
		{name: "exactly_eighty_percent", usage: 80, want: StatusWarning},
		{name: "between_thresholds", usage: 99.9, want: StatusWarning},
		{name: "exactly_at_pace", usage: 100, want: StatusOverpace},
		{name: "over_pace", usage: 180, want: StatusOverpace},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seed := &storage.UsageRecord{Limit: 300, CurrentUsage: tt.usage, ResetDate: "2024-01-01"}
			tr, _, _ := newTestTracker(t, ModeAbsolute, seed, "2024-01-11")

			m, err := tr.GetMetrics(context.Background())
			if err != nil {
				t.Fatalf("GetMetrics: %v", err)
			}
			approx(t, "expected_value", m.ExpectedValue, 100)
			if m.Status != tt.want {
				t.Errorf("status at usage %v = %s, want %s", tt.usage, m.Status, tt.want)
			}
		})
	}
}

func TestZeroLimitGuards(t *testing.T) {
	seed := &storage.UsageRecord{CurrentUsage: 50, CurrentMonth: "2024-01"}
	tr, _, _ := newTestTracker(t, ModeAbsolute, seed, "2024-01-15")

	m, err := tr.GetMetrics(context.Background())
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}

	if m.PercentUsed != 0 {
		t.Errorf("percentage_used = %v, want 0 with no limit", m.PercentUsed)
	}
	if m.RecommendedDaily != 0 || m.OverBudget != 0 {
		t.Errorf("budget metrics should be zero with no limit, got rec %v over %v", m.RecommendedDaily, m.OverBudget)
	}
	if m.Status != StatusOnTrack {
		t.Errorf("status = %s, want %s with no limit", m.Status, StatusOnTrack)
	}
}

func TestOverBudget(t *testing.T) {
	seed := &storage.UsageRecord{Limit: 500, CurrentUsage: 620, ResetDate: "2024-01-01"}
	tr, _, _ := newTestTracker(t, ModeAbsolute, seed, "2024-01-21")

	m, err := tr.GetMetrics(context.Background())
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}

	approx(t, "over_budget", m.OverBudget, 120)
	approx(t, "recommended_daily_rate", m.RecommendedDaily, 0)
	if m.Status != StatusOverpace {
		t.Errorf("status = %s, want %s", m.Status, StatusOverpace)
	}
}

func TestSetUsageRejectsInvalidInput(t *testing.T) {
	seed := &storage.UsageRecord{Limit: 500, CurrentUsage: 100, CurrentMonth: "2024-01"}
	tr, store, _ := newTestTracker(t, ModeAbsolute, seed, "2024-01-11")

	if err := tr.SetUsage(context.Background(), -5); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if store.puts != 0 {
		t.Errorf("rejected mutation must not persist, saw %d writes", store.puts)
	}
	if store.record.CurrentUsage != 100 {
		t.Errorf("record changed after rejected input: %+v", store.record)
	}

	m, err := tr.GetMetrics(context.Background())
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if m.CurrentValue != 100 {
		t.Errorf("in-memory state changed after rejected input: %v", m.CurrentValue)
	}
}

func TestMutationValidation(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		call func(context.Context, *Tracker) error
	}{
		{name: "usage_in_percent_mode", mode: ModePercent, call: func(ctx context.Context, tr *Tracker) error {
			return tr.SetUsage(ctx, 10)
		}},
		{name: "percentage_in_absolute_mode", mode: ModeAbsolute, call: func(ctx context.Context, tr *Tracker) error {
			return tr.SetPercentage(ctx, 10)
		}},
		{name: "percentage_above_range", mode: ModePercent, call: func(ctx context.Context, tr *Tracker) error {
			return tr.SetPercentage(ctx, 100.5)
		}},
		{name: "percentage_negative", mode: ModePercent, call: func(ctx context.Context, tr *Tracker) error {
			return tr.SetPercentage(ctx, -1)
		}},
		{name: "limit_zero", mode: ModeAbsolute, call: func(ctx context.Context, tr *Tracker) error {
			return tr.SetLimit(ctx, 0)
		}},
		{name: "limit_negative", mode: ModeAbsolute, call: func(ctx context.Context, tr *Tracker) error {
			return tr.SetLimit(ctx, -10)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, store, _ := newTestTracker(t, tt.mode, nil, "2024-01-11")
			if err := tt.call(context.Background(), tr); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if store.puts != 0 {
				t.Errorf("rejected mutation must not persist, saw %d writes", store.puts)
			}
		})
	}
}

func TestMutationsPersist(t *testing.T) {
	tr, store, _ := newTestTracker(t, ModeAbsolute, nil, "2024-01-11")
	ctx := context.Background()

	if err := tr.SetLimit(ctx, 500); err != nil {
		t.Fatalf("SetLimit: %v", err)
	}
	if err := tr.SetUsage(ctx, 120); err != nil {
		t.Fatalf("SetUsage: %v", err)
	}

	if store.record.Limit != 500 || store.record.CurrentUsage != 120 {
		t.Fatalf("persisted record = %+v", store.record)
	}
	if store.record.LastUpdated == nil {
		t.Fatal("last_updated not stamped")
	}
	if got := store.record.LastUpdated.Format(storage.DateLayout); got != "2024-01-11" {
		t.Errorf("last_updated = %s, want 2024-01-11", got)
	}

	// A second tracker over the same store sees the committed state.
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	again := New(store, ModeAbsolute, &TestClock{CurrentTime: mustDate(t, "2024-01-11")}, logger)
	record := again.Load(ctx)
	if record.Limit != 500 || record.CurrentUsage != 120 {
		t.Errorf("reloaded record = %+v", record)
	}
}

func TestLoadSubstitutesDefaults(t *testing.T) {
	tests := []struct {
		name string
		seed *storage.UsageRecord
		fail bool
	}{
		{name: "missing_record", seed: nil},
		{name: "unreadable_store", fail: true},
		{name: "invalid_values", seed: &storage.UsageRecord{CurrentUsage: -3, CurrentMonth: "2024-01"}},
		{name: "invalid_anchor", seed: &storage.UsageRecord{CurrentUsage: 10, CurrentMonth: "january"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, store, _ := newTestTracker(t, ModeAbsolute, tt.seed, "2024-03-05")
			store.failGet = tt.fail

			record := tr.Load(context.Background())
			if record.CurrentUsage != 0 || record.Limit != 0 {
				t.Errorf("defaults not substituted: %+v", record)
			}
			if record.CurrentMonth != "2024-03" {
				t.Errorf("default anchor = %q, want 2024-03", record.CurrentMonth)
			}
		})
	}
}

func TestLoadDefaultsPercentMode(t *testing.T) {
	tr, _, _ := newTestTracker(t, ModePercent, nil, "2024-03-05")

	record := tr.Load(context.Background())
	if record.ResetDate != "2024-03-05" {
		t.Errorf("default anchor = %q, want 2024-03-05", record.ResetDate)
	}
	if record.CurrentMonth != "" {
		t.Errorf("percent mode should not anchor a month, got %q", record.CurrentMonth)
	}
}

func TestResetCycleStartsAtDayOne(t *testing.T) {
	seed := &storage.UsageRecord{Limit: 500, CurrentUsage: 321, CurrentMonth: "2024-01"}
	tr, store, _ := newTestTracker(t, ModeAbsolute, seed, "2024-01-20")
	ctx := context.Background()

	if err := tr.ResetCycle(ctx, mustDate(t, "2024-01-20")); err != nil {
		t.Fatalf("ResetCycle: %v", err)
	}

	if store.record.CurrentUsage != 0 {
		t.Errorf("usage = %v, want 0 after reset", store.record.CurrentUsage)
	}
	if store.record.Limit != 500 {
		t.Errorf("limit = %v, must survive a reset", store.record.Limit)
	}
	if store.record.ResetDate != "2024-01-20" || store.record.CurrentMonth != "" {
		t.Errorf("mid-month reset should anchor a rolling window: %+v", store.record)
	}

	m, err := tr.GetMetrics(ctx)
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if m.DayOfCycle != 1 || m.CurrentValue != 0 {
		t.Errorf("after reset: day %d value %v, want day 1 value 0", m.DayOfCycle, m.CurrentValue)
	}
}

func TestResetCycleFirstOfMonthAnchorsCalendar(t *testing.T) {
	seed := &storage.UsageRecord{Limit: 500, CurrentUsage: 321, ResetDate: "2024-01-20"}
	tr, store, _ := newTestTracker(t, ModeAbsolute, seed, "2024-02-01")

	if err := tr.ResetCycle(context.Background(), mustDate(t, "2024-02-01")); err != nil {
		t.Fatalf("ResetCycle: %v", err)
	}

	if store.record.CurrentMonth != "2024-02" || store.record.ResetDate != "" {
		t.Errorf("first-of-month reset should anchor the calendar: %+v", store.record)
	}
}

func TestSetResetDateKeepsUsage(t *testing.T) {
	seed := &storage.UsageRecord{Limit: 500, CurrentUsage: 230, CurrentMonth: "2024-01"}
	tr, store, _ := newTestTracker(t, ModeAbsolute, seed, "2024-01-25")

	if err := tr.SetResetDate(context.Background(), mustDate(t, "2024-01-19")); err != nil {
		t.Fatalf("SetResetDate: %v", err)
	}

	if store.record.CurrentUsage != 230 {
		t.Errorf("usage = %v, anchoring must not zero it", store.record.CurrentUsage)
	}
	if store.record.ResetDate != "2024-01-19" || store.record.CurrentMonth != "" {
		t.Errorf("anchor not applied: %+v", store.record)
	}
}

func TestAutoRolloverMonthly(t *testing.T) {
	seed := &storage.UsageRecord{Limit: 500, CurrentUsage: 450, CurrentMonth: "2024-01"}
	tr, store, clock := newTestTracker(t, ModeAbsolute, seed, "2024-01-31")
	ctx := context.Background()

	rolled, err := tr.CheckRollover(ctx)
	if err != nil {
		t.Fatalf("CheckRollover: %v", err)
	}
	if rolled {
		t.Fatal("rolled over before the boundary")
	}

	clock.CurrentTime = mustDate(t, "2024-02-01")
	rolled, err = tr.CheckRollover(ctx)
	if err != nil {
		t.Fatalf("CheckRollover: %v", err)
	}
	if !rolled {
		t.Fatal("expected rollover on the first of the next month")
	}
	if store.record.CurrentMonth != "2024-02" || store.record.CurrentUsage != 0 {
		t.Fatalf("rolled record = %+v", store.record)
	}
	if store.record.Limit != 500 {
		t.Errorf("limit must survive rollover, got %v", store.record.Limit)
	}

	// Idempotent: the same day never rolls twice.
	rolled, err = tr.CheckRollover(ctx)
	if err != nil {
		t.Fatalf("CheckRollover: %v", err)
	}
	if rolled {
		t.Error("second check rolled over again")
	}
}

func TestAutoRolloverRolling(t *testing.T) {
	seed := &storage.UsageRecord{CurrentPercentage: 88, ResetDate: "2024-01-01"}
	tr, store, clock := newTestTracker(t, ModePercent, seed, "2024-01-30")
	ctx := context.Background()

	rolled, err := tr.CheckRollover(ctx)
	if err != nil {
		t.Fatalf("CheckRollover: %v", err)
	}
	if rolled {
		t.Fatal("rolled over on day 29")
	}

	clock.CurrentTime = mustDate(t, "2024-01-31")
	rolled, err = tr.CheckRollover(ctx)
	if err != nil {
		t.Fatalf("CheckRollover: %v", err)
	}
	if !rolled {
		t.Fatal("expected rollover at anchor + 30 days")
	}
	if store.record.ResetDate != "2024-01-31" || store.record.CurrentPercentage != 0 {
		t.Fatalf("rolled record = %+v", store.record)
	}
}

func TestAutoRolloverCatchesUpAfterGap(t *testing.T) {
	seed := &storage.UsageRecord{Limit: 500, CurrentUsage: 499, ResetDate: "2024-01-01"}
	tr, store, _ := newTestTracker(t, ModeAbsolute, seed, "2024-03-15")
	ctx := context.Background()

	rolled, err := tr.CheckRollover(ctx)
	if err != nil {
		t.Fatalf("CheckRollover: %v", err)
	}
	if !rolled {
		t.Fatal("expected rollover after a long gap")
	}
	if store.record.ResetDate != "2024-03-01" {
		t.Errorf("anchor = %s, want 2024-03-01 (whole 30-day steps)", store.record.ResetDate)
	}

	rolled, err = tr.CheckRollover(ctx)
	if err != nil {
		t.Fatalf("CheckRollover: %v", err)
	}
	if rolled {
		t.Error("catch-up must land inside the current window")
	}
}

func TestTickRollsThenComputes(t *testing.T) {
	seed := &storage.UsageRecord{Limit: 500, CurrentUsage: 450, CurrentMonth: "2024-01"}
	tr, _, _ := newTestTracker(t, ModeAbsolute, seed, "2024-02-05")

	m, err := tr.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if m.CurrentValue != 0 {
		t.Errorf("tick should compute against the rolled cycle, got value %v", m.CurrentValue)
	}
	if m.DayOfCycle != 4 || m.DaysInCycle != 29 {
		t.Errorf("cycle position = day %d of %d, want day 4 of 29", m.DayOfCycle, m.DaysInCycle)
	}
}

func TestPreviewMetrics(t *testing.T) {
	seed := &storage.UsageRecord{Limit: 500, CurrentUsage: 100, ResetDate: "2024-01-01"}
	tr, store, _ := newTestTracker(t, ModeAbsolute, seed, "2024-01-11")
	ctx := context.Background()

	t.Run("inside_cycle_keeps_value", func(t *testing.T) {
		m, err := tr.PreviewMetrics(ctx, mustDate(t, "2024-01-21"))
		if err != nil {
			t.Fatalf("PreviewMetrics: %v", err)
		}
		if m.DayOfCycle != 20 || m.CurrentValue != 100 {
			t.Errorf("preview = day %d value %v, want day 20 value 100", m.DayOfCycle, m.CurrentValue)
		}
		approx(t, "daily_average", m.DailyAverage, 5)
		approx(t, "projected", m.Projected, 150)
	})

	t.Run("past_boundary_reads_rolled", func(t *testing.T) {
		m, err := tr.PreviewMetrics(ctx, mustDate(t, "2024-03-15"))
		if err != nil {
			t.Fatalf("PreviewMetrics: %v", err)
		}
		if got := m.CycleStart.Format(storage.DateLayout); got != "2024-03-01" {
			t.Errorf("preview cycle start = %s, want 2024-03-01", got)
		}
		if m.DayOfCycle != 14 || m.CurrentValue != 0 {
			t.Errorf("preview = day %d value %v, want day 14 value 0", m.DayOfCycle, m.CurrentValue)
		}
		if m.Limit != 500 {
			t.Errorf("preview limit = %v, want 500", m.Limit)
		}
	})

	if store.puts != 0 {
		t.Errorf("preview persisted %d writes, want none", store.puts)
	}
	m, err := tr.GetMetrics(ctx)
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if m.DayOfCycle != 10 || m.CurrentValue != 100 {
		t.Errorf("record after previews = day %d value %v, want day 10 value 100", m.DayOfCycle, m.CurrentValue)
	}
}

func TestSaveFailureKeepsCommittedState(t *testing.T) {
	seed := &storage.UsageRecord{Limit: 500, CurrentUsage: 100, CurrentMonth: "2024-01"}
	tr, store, _ := newTestTracker(t, ModeAbsolute, seed, "2024-01-11")
	ctx := context.Background()

	tr.Load(ctx)
	store.failPut = true

	if err := tr.SetUsage(ctx, 200); err == nil {
		t.Fatal("expected persist error")
	}

	m, err := tr.GetMetrics(ctx)
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if m.CurrentValue != 100 {
		t.Errorf("in-memory value = %v, want the last committed 100", m.CurrentValue)
	}
}
