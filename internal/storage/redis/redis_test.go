package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/pacewatch/internal/config"
	"github.com/goodtune/pacewatch/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so we pass it as the host and
	// leave the port unset.
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestRecordRoundTrip(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	record := &storage.UsageRecord{
		Limit:        500,
		CurrentUsage: 250,
		CurrentMonth: "2024-03",
	}
	if err := store.Records().Put(ctx, record); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Records().Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Limit != 500 || got.CurrentUsage != 250 || got.CurrentMonth != "2024-03" {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestGetMissingRecord(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	if _, err := store.Records().Get(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLastWriteWins(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	for _, pct := range []float64{10, 55, 80} {
		record := &storage.UsageRecord{ResetDate: "2024-01-01", CurrentPercentage: pct}
		if err := store.Records().Put(ctx, record); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	got, err := store.Records().Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CurrentPercentage != 80 {
		t.Errorf("Expected last write to win, got %+v", got)
	}
}

func TestRecordStoredUnderPrefix(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	record := &storage.UsageRecord{Limit: 100, CurrentUsage: 1}
	if err := store.Records().Put(context.Background(), record); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if !mr.Exists("pacewatch:usage") {
		t.Errorf("expected record under pacewatch:usage, keys: %v", mr.Keys())
	}
}
