package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecastops/forecastops/internal/duration"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(FileStoreConfig{Dir: t.TempDir(), LockTimeout: duration.Duration(2 * time.Second)})
	require.NoError(t, err)
	return s
}

type testDoc struct {
	Value   float64 `json:"value"`
	Settled bool    `json:"settled"`
}

func TestAppendIsIdempotentPerKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.Append(ctx, "rows", "k1", testDoc{Value: 1})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Append(ctx, "rows", "k1", testDoc{Value: 999})
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate key must be a no-op")

	inserted, err = s.Append(ctx, "rows", "k2", testDoc{Value: 2})
	require.NoError(t, err)
	assert.True(t, inserted)

	var keys []string
	var values []float64
	err = s.Scan(ctx, "rows", func(key string, raw json.RawMessage) error {
		var d testDoc
		require.NoError(t, json.Unmarshal(raw, &d))
		keys = append(keys, key)
		values = append(values, d.Value)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, keys, "insertion order preserved")
	assert.Equal(t, []float64{1, 2}, values, "first write wins")
}

func TestScanMissingTableIsEmpty(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	err := s.Scan(context.Background(), "nothing", func(string, json.RawMessage) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestUpdateRewritesMatchedRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, key := range []string{"a", "b", "c"} {
		_, err := s.Append(ctx, "rows", key, testDoc{Value: float64(i)})
		require.NoError(t, err)
	}

	updated, err := s.Update(ctx, "rows", func(key string, raw json.RawMessage) (json.RawMessage, bool, error) {
		if key != "b" {
			return nil, false, nil
		}
		out, err := json.Marshal(testDoc{Value: 42, Settled: true})
		return out, true, err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	docs := map[string]testDoc{}
	err = s.Scan(ctx, "rows", func(key string, raw json.RawMessage) error {
		var d testDoc
		require.NoError(t, json.Unmarshal(raw, &d))
		docs[key] = d
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, testDoc{Value: 42, Settled: true}, docs["b"])
	assert.Equal(t, testDoc{Value: 0}, docs["a"], "untouched rows survive the rewrite")
	assert.Equal(t, testDoc{Value: 2}, docs["c"])
}

func TestUpdateNoChangesLeavesFileAlone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Append(ctx, "rows", "a", testDoc{Value: 1})
	require.NoError(t, err)

	before, err := os.ReadFile(filepath.Join(s.cfg.Dir, "rows.jsonl"))
	require.NoError(t, err)

	updated, err := s.Update(ctx, "rows", func(string, json.RawMessage) (json.RawMessage, bool, error) {
		return nil, false, nil
	})
	require.NoError(t, err)
	assert.Zero(t, updated)

	after, err := os.ReadFile(filepath.Join(s.cfg.Dir, "rows.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLockTimeout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(FileStoreConfig{Dir: dir, LockTimeout: duration.Duration(150 * time.Millisecond)})
	require.NoError(t, err)

	// Simulate a stuck writer whose process is still alive. Our own pid
	// keeps the lock unreclaimable for the duration of the test.
	lockPath := filepath.Join(dir, "rows.jsonl.lock")
	require.NoError(t, os.WriteFile(lockPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644))

	start := time.Now()
	_, err = s.Append(context.Background(), "rows", "k1", testDoc{})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrLockTimeout)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)

	// Releasing the lock unblocks subsequent writers.
	require.NoError(t, os.Remove(lockPath))
	inserted, err := s.Append(context.Background(), "rows", "k1", testDoc{})
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestLockReclaimedFromDeadProcess(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(FileStoreConfig{Dir: dir, LockTimeout: duration.Duration(10 * time.Second)})
	require.NoError(t, err)

	// A crashed writer left its lock behind. The pid is far above the
	// kernel's pid ceiling, so no live process can own it.
	lockPath := filepath.Join(dir, "rows.jsonl.lock")
	require.NoError(t, os.WriteFile(lockPath, []byte("1073741824\n"), 0o644))

	start := time.Now()
	inserted, err := s.Append(context.Background(), "rows", "k1", testDoc{Value: 1})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Less(t, time.Since(start), 5*time.Second, "reclaim must not wait out the timeout")
}

func TestLockWithMalformedPidIsNotReclaimed(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(FileStoreConfig{Dir: dir, LockTimeout: duration.Duration(150 * time.Millisecond)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rows.jsonl.lock"), []byte("not-a-pid\n"), 0o644))

	_, err = s.Append(context.Background(), "rows", "k1", testDoc{})
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestLockRespectsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(FileStoreConfig{Dir: dir, LockTimeout: duration.Duration(10 * time.Second)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rows.jsonl.lock"), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Append(ctx, "rows", "k1", testDoc{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScanSkipsTornLine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Append(ctx, "rows", "good", testDoc{Value: 7})
	require.NoError(t, err)

	// A crashed writer leaves a truncated trailing line.
	f, err := os.OpenFile(filepath.Join(s.cfg.Dir, "rows.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"key":"torn","doc":{"val` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var keys []string
	err = s.Scan(ctx, "rows", func(key string, raw json.RawMessage) error {
		keys = append(keys, key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, keys)
}
