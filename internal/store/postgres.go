package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/forecastops/forecastops/internal/duration"
)

// PostgresConfig configures the Postgres store backend.
type PostgresConfig struct {
	DSN         string            `yaml:"dsn"`
	LockTimeout duration.Duration `yaml:"lock_timeout"` // default 5s
}

// Schema creates the backing table. Applied by operators, not at runtime.
const Schema = `
CREATE TABLE IF NOT EXISTS controller_rows (
    table_name TEXT        NOT NULL,
    row_key    TEXT        NOT NULL,
    doc        JSONB       NOT NULL,
    seq        BIGSERIAL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (table_name, row_key)
);`

// PostgresStore implements Store on a single JSONB table. Row-level locking
// with a server-side lock timeout gives the same bounded-wait guarantee as
// the file store's lock file.
type PostgresStore struct {
	db  *sqlx.DB
	cfg PostgresConfig
}

// NewPostgresStore connects and pings the database.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = duration.Duration(5 * time.Second)
	}
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{db: db, cfg: cfg}, nil
}

// NewPostgresStoreFromDB wraps an existing connection (used by tests).
func NewPostgresStoreFromDB(db *sqlx.DB, cfg PostgresConfig) *PostgresStore {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = duration.Duration(5 * time.Second)
	}
	return &PostgresStore{db: db, cfg: cfg}
}

// Append inserts a row; an existing key is a no-op reported as inserted=false.
func (s *PostgresStore) Append(ctx context.Context, table, key string, row any) (bool, error) {
	doc, err := json.Marshal(row)
	if err != nil {
		return false, fmt.Errorf("marshal row: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO controller_rows (table_name, row_key, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (table_name, row_key) DO NOTHING`,
		table, key, doc)
	if err != nil {
		return false, fmt.Errorf("insert row: %w", mapLockErr(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// Scan streams rows in insertion order.
func (s *PostgresStore) Scan(ctx context.Context, table string, fn func(key string, raw json.RawMessage) error) error {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT row_key, doc FROM controller_rows WHERE table_name = $1 ORDER BY seq`, table)
	if err != nil {
		return fmt.Errorf("scan table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var doc []byte
		if err := rows.Scan(&key, &doc); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		if err := fn(key, doc); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Update transforms rows inside one transaction with row locks and a
// server-side lock timeout.
func (s *PostgresStore) Update(ctx context.Context, table string, fn func(key string, raw json.RawMessage) (json.RawMessage, bool, error)) (int, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	timeoutMs := int(s.cfg.LockTimeout.D() / time.Millisecond)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", timeoutMs)); err != nil {
		return 0, fmt.Errorf("set lock timeout: %w", err)
	}

	rows, err := tx.QueryxContext(ctx,
		`SELECT row_key, doc FROM controller_rows WHERE table_name = $1 ORDER BY seq FOR UPDATE`, table)
	if err != nil {
		return 0, fmt.Errorf("lock rows: %w", mapLockErr(err))
	}

	type pending struct {
		key string
		doc json.RawMessage
	}
	var updates []pending
	for rows.Next() {
		var key string
		var doc []byte
		if err := rows.Scan(&key, &doc); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan row: %w", err)
		}
		replacement, changed, err := fn(key, doc)
		if err != nil {
			rows.Close()
			return 0, err
		}
		if changed {
			updates = append(updates, pending{key: key, doc: replacement})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate rows: %w", err)
	}
	rows.Close()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx,
			`UPDATE controller_rows SET doc = $1 WHERE table_name = $2 AND row_key = $3`,
			[]byte(u.doc), table, u.key); err != nil {
			return 0, fmt.Errorf("update row %s: %w", u.key, mapLockErr(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", mapLockErr(err))
	}
	return len(updates), nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// mapLockErr converts Postgres lock_not_available into the shared
// ErrLockTimeout sentinel so callers handle both backends uniformly.
func mapLockErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "55P03" {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	return err
}
