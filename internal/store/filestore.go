package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/forecastops/forecastops/internal/duration"
	"github.com/forecastops/forecastops/internal/fsio"
)

// FileStoreConfig configures the JSONL file store.
type FileStoreConfig struct {
	Dir         string            `yaml:"dir"`
	LockTimeout duration.Duration `yaml:"lock_timeout"` // default 5s
}

// DefaultFileStoreConfig returns the default file store configuration.
func DefaultFileStoreConfig() FileStoreConfig {
	return FileStoreConfig{Dir: "data/store", LockTimeout: duration.Duration(5 * time.Second)}
}

// FileStore keeps one JSONL file per table. Concurrent producers serialize
// through a process-level mutex plus an on-disk lock file, so multiple
// processes writing the same table cannot interleave. Lock acquisition is
// bounded: a writer that cannot get the lock fails with ErrLockTimeout
// instead of blocking indefinitely or corrupting state.
type FileStore struct {
	cfg FileStoreConfig
	mu  sync.Mutex
}

type fileRow struct {
	Key string          `json:"key"`
	Doc json.RawMessage `json:"doc"`
}

// NewFileStore creates the store, ensuring the data directory exists.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.Dir == "" {
		cfg.Dir = "data/store"
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = duration.Duration(5 * time.Second)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{cfg: cfg}, nil
}

func (s *FileStore) tablePath(table string) string {
	return filepath.Join(s.cfg.Dir, table+".jsonl")
}

// acquireLock takes the cross-process lock file for a table, polling with
// backoff until the configured timeout.
func (s *FileStore) acquireLock(ctx context.Context, table string) (release func(), err error) {
	lockPath := s.tablePath(table) + ".lock"
	deadline := time.Now().Add(s.cfg.LockTimeout.D())
	backoff := 5 * time.Millisecond

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if reclaimStaleLock(lockPath) {
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s held for over %v", ErrLockTimeout, lockPath, s.cfg.LockTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

// reclaimStaleLock removes a lock file whose recorded holder PID no longer
// exists. A writer that crashed mid-write would otherwise wedge the table
// until an operator deleted the file by hand. An unreadable or malformed
// lock file is left alone; the normal timeout applies.
func reclaimStaleLock(lockPath string) bool {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence. EPERM means the holder is alive but
	// owned by another user.
	if sigErr := proc.Signal(syscall.Signal(0)); sigErr == nil || errors.Is(sigErr, syscall.EPERM) {
		return false
	}
	if err := os.Remove(lockPath); err != nil {
		return false
	}
	log.Warn().Str("lock", lockPath).Int("pid", pid).Msg("reclaimed lock from dead process")
	return true
}

// Append inserts a row unless the key already exists.
func (s *FileStore) Append(ctx context.Context, table, key string, row any) (bool, error) {
	doc, err := json.Marshal(row)
	if err != nil {
		return false, fmt.Errorf("marshal row: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	release, err := s.acquireLock(ctx, table)
	if err != nil {
		return false, err
	}
	defer release()

	rows, err := s.readRows(table)
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		if r.Key == key {
			return false, nil
		}
	}

	line, err := json.Marshal(fileRow{Key: key, Doc: doc})
	if err != nil {
		return false, fmt.Errorf("marshal line: %w", err)
	}
	f, err := os.OpenFile(s.tablePath(table), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("open table %s: %w", table, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return false, fmt.Errorf("append row: %w", err)
	}
	return true, nil
}

// Scan streams rows in insertion order.
func (s *FileStore) Scan(ctx context.Context, table string, fn func(key string, raw json.RawMessage) error) error {
	s.mu.Lock()
	rows, err := s.readRows(table)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r.Key, r.Doc); err != nil {
			return err
		}
	}
	return nil
}

// Update rewrites the whole table atomically after applying fn per row.
func (s *FileStore) Update(ctx context.Context, table string, fn func(key string, raw json.RawMessage) (json.RawMessage, bool, error)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	release, err := s.acquireLock(ctx, table)
	if err != nil {
		return 0, err
	}
	defer release()

	rows, err := s.readRows(table)
	if err != nil {
		return 0, err
	}

	updated := 0
	var buf []byte
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		doc := r.Doc
		replacement, changed, err := fn(r.Key, r.Doc)
		if err != nil {
			return 0, err
		}
		if changed {
			doc = replacement
			updated++
		}
		line, err := json.Marshal(fileRow{Key: r.Key, Doc: doc})
		if err != nil {
			return 0, fmt.Errorf("marshal line: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if updated == 0 {
		return 0, nil
	}
	if err := fsio.WriteFileAtomic(s.tablePath(table), buf); err != nil {
		return 0, fmt.Errorf("rewrite table %s: %w", table, err)
	}
	return updated, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

// readRows loads the full table; a missing file is an empty table.
func (s *FileStore) readRows(table string) ([]fileRow, error) {
	f, err := os.Open(s.tablePath(table))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open table %s: %w", table, err)
	}
	defer f.Close()

	var rows []fileRow
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r fileRow
		if err := json.Unmarshal(line, &r); err != nil {
			// A torn trailing line would mean a crashed writer; skip it
			// rather than poisoning every future scan.
			log.Warn().Str("table", table).Int("line", lineNo).Err(err).Msg("skipping unparseable store row")
			continue
		}
		rows = append(rows, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read table %s: %w", table, err)
	}
	return rows, nil
}
