package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"go-subband-ingest/internal/model"
)

// Store is the SQLite-backed durable queue store. One row per group.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

const schema = `
CREATE TABLE IF NOT EXISTS groups (
	group_key       TEXT PRIMARY KEY,
	state           TEXT NOT NULL,
	members_json    TEXT NOT NULL DEFAULT '{}',
	partial         INTEGER NOT NULL DEFAULT 0,
	expected_count  INTEGER NOT NULL,
	attempt_count   INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	last_update_at  INTEGER NOT NULL,
	next_attempt_at INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT,
	output_path     TEXT,
	lock_token      TEXT
);
CREATE INDEX IF NOT EXISTS idx_groups_state ON groups(state, next_attempt_at, created_at);
`

// Open opens (or creates) the queue database and ensures the schema.
// WAL mode keeps the store readable while the dispatcher writes.
func Open(path string, log *logrus.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating state dir: %v", model.ErrStoreFatal, err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", model.ErrStoreFatal, path, err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, classify(fmt.Errorf("enabling WAL: %w", err))
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, classify(fmt.Errorf("creating schema: %w", err))
	}

	return &Store{db: db, log: log.WithField("component", "store")}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// classify maps a SQLite error onto the transient/fatal taxonomy. Lock and
// busy conditions are retryable; disk-full, permission and corruption
// errors mean the operator has to intervene.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", model.ErrStoreTransient, err)
		case sqlite3.ErrFull, sqlite3.ErrPerm, sqlite3.ErrReadonly, sqlite3.ErrCorrupt:
			return fmt.Errorf("%w: %v", model.ErrStoreFatal, err)
		}
	}
	if errors.Is(err, sql.ErrTxDone) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", model.ErrStoreTransient, err)
	}
	return err
}

// withRetry runs op, retrying transient store errors with exponential
// backoff. Fatal errors surface immediately.
func (s *Store) withRetry(op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	attempt := 0
	return backoff.Retry(func() error {
		err := classify(op())
		if err == nil {
			return nil
		}
		if errors.Is(err, model.ErrStoreTransient) {
			attempt++
			s.log.WithError(err).WithField("attempt", attempt).Warn("store busy, retrying")
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithMaxRetries(policy, 5))
}
