// Package store provides the persisted append/scan row store behind the
// prediction tracker and the optimization history. Two backends implement
// the same contract: a lock-protected JSONL file store for single-host
// deployments and a Postgres store for installations that already run one.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrLockTimeout reports that a writer could not acquire the store lock
// within the configured bound. The write did not happen; callers may retry.
var ErrLockTimeout = errors.New("store lock acquisition timed out")

// Store is the persistence contract the controller core needs: keyed
// appends, full scans, and an atomic keyed rewrite. Keys are unique per
// table; appending an existing key is a no-op.
type Store interface {
	// Append inserts the row under key. Returns false with a nil error
	// when the key already exists (idempotent insert).
	Append(ctx context.Context, table, key string, row any) (bool, error)

	// Scan streams every row in insertion order. The callback receives the
	// key and raw JSON document; returning an error stops the scan.
	Scan(ctx context.Context, table string, fn func(key string, raw json.RawMessage) error) error

	// Update atomically transforms rows. fn returns the replacement
	// document and true to rewrite a row, or false to leave it untouched.
	// Returns the number of rows rewritten.
	Update(ctx context.Context, table string, fn func(key string, raw json.RawMessage) (json.RawMessage, bool, error)) (int, error)

	// Close releases backend resources.
	Close() error
}
