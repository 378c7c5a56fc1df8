package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface. Every backend (file, bolt,
// redis) implements it; callers pick one at startup and never see the
// difference afterwards.
type Store interface {
	Close() error
	Records() RecordStore
}

// RecordStore manages the single usage record.
//
// Backends report honest errors: a missing record is ErrNotFound, undecodable
// data is a decode error. Substituting defaults on failure is the tracker's
// policy, not the store's.
type RecordStore interface {
	Get(ctx context.Context) (*UsageRecord, error)
	Put(ctx context.Context, record *UsageRecord) error
}
