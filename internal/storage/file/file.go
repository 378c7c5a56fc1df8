package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goodtune/pacewatch/internal/storage"
)

// Store implements the storage.Store interface as a single JSON document on
// disk. This is the default backend: the whole state is one small object, so
// a flat file in the user's home directory is all the database it needs.
type Store struct {
	path string
}

// Open prepares a file-backed store at path. The file itself is created on
// the first Put; a missing file reads as storage.ErrNotFound.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := storage.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	return &Store{path: path}, nil
}

// Close closes the store. Nothing is held open between operations.
func (s *Store) Close() error { return nil }

// Records returns the record store.
func (s *Store) Records() storage.RecordStore { return &recordStore{path: s.path} }

type recordStore struct {
	path string
}

func (r *recordStore) Get(ctx context.Context) (*storage.UsageRecord, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read usage record: %w", err)
	}

	var record storage.UsageRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode usage record: %w", err)
	}
	return &record, nil
}

func (r *recordStore) Put(ctx context.Context, record *storage.UsageRecord) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode usage record: %w", err)
	}
	data = append(data, '\n')

	// Temp-then-rename keeps the record intact if the write is interrupted.
	if err := storage.WriteFileAtomic(r.path, data, 0600); err != nil {
		return fmt.Errorf("write usage record: %w", err)
	}
	return nil
}
