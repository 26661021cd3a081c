package ankidb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/emadruga/javumbo-sub001/internal/apperr"
)

// busyRetryDelays mirrors spec.md §4.2: exponential backoff capped at 5
// attempts by default (10ms, 20ms, 40ms, 80ms, 160ms, ...), configurable via
// SetBusyRetryAttempts from the server's busy_retry_attempts config option
// (spec.md §6.4).
var busyRetryDelays = computeBusyRetryDelays(5)

func computeBusyRetryDelays(attempts int) []time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delays := make([]time.Duration, attempts)
	delay := 10 * time.Millisecond
	for i := range delays {
		delays[i] = delay
		delay *= 2
	}
	return delays
}

// SetBusyRetryAttempts overrides the number of SQLITE_BUSY retries every
// Store performs before surfacing Busy. Intended to be called once at
// startup from main, before any Store is opened.
func SetBusyRetryAttempts(attempts int) {
	busyRetryDelays = computeBusyRetryDelays(attempts)
}

// CollectionMissing is returned by Open when path does not exist.
type CollectionMissing struct {
	Path string
}

func (e *CollectionMissing) Error() string {
	return fmt.Sprintf("ankidb: collection %q does not exist", e.Path)
}

// Store owns a single user's .anki2 SQLite file: WAL pragmas, busy retry,
// transactions, online-backup-style snapshotting, and checkpoint-on-close.
// Exactly one Store exists per open collection; the session registry is
// the only caller allowed to construct one (see internal/session).
type Store struct {
	db   *sql.DB
	path string
}

// Open opens path with WAL journaling and NORMAL synchronous, per spec.md
// §4.2. Fails with CollectionMissing if the file is absent.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &CollectionMissing{Path: path}
		}
		return nil, fmt.Errorf("ankidb: stat %q: %w", path, err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=off&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("ankidb: open %q: %w", path, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ankidb: set journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ankidb: set synchronous: %w", err)
	}

	// A single SQLite connection per collection keeps "BEGIN IMMEDIATE"
	// semantics simple: there is never a second connection racing a
	// transaction, so SQLITE_BUSY only ever comes from another OS process.
	db.SetMaxOpenConns(1)

	return &Store{db: db, path: path}, nil
}

// Path returns the filesystem path backing this store.
func (s *Store) Path() string {
	return s.path
}

// Exec runs a parameterized statement with busy retry, never
// string-interpolating caller-supplied values.
func (s *Store) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := s.withBusyRetry(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// Query runs a parameterized query with busy retry.
func (s *Store) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	err := s.withBusyRetry(ctx, func() error {
		var queryErr error
		rows, queryErr = s.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}

// QueryRow runs a parameterized single-row query. Busy retry does not apply
// here since *sql.Row defers error surfacing to Scan; callers that need
// retry semantics on a single row should use Query instead.
func (s *Store) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// QueryRowContext and QueryContext mirror *sql.Tx's read methods so a Store
// can stand in for a transaction on read-only paths.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.QueryRow(ctx, query, args...)
}

func (s *Store) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.Query(ctx, query, args...)
}

// Tx wraps fn in BEGIN IMMEDIATE / COMMIT, rolling back and surfacing the
// original error on any failure.
func (s *Store) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
		if err != nil {
			return err
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		return nil
	})
}

func (s *Store) withBusyRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= len(busyRetryDelays); attempt++ {
		if err := ctx.Err(); err != nil {
			return apperr.Wrap(apperr.Cancelled, apperr.MsgCancelled, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isBusy(lastErr) {
			return lastErr
		}
		if attempt == len(busyRetryDelays) {
			break
		}

		select {
		case <-time.After(busyRetryDelays[attempt]):
		case <-ctx.Done():
			return apperr.Wrap(apperr.Cancelled, apperr.MsgCancelled, ctx.Err())
		}
	}
	return apperr.Wrap(apperr.Busy, apperr.MsgBusy, lastErr)
}

func isBusy(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "database is locked") ||
		strings.Contains(strings.ToLower(err.Error()), "sqlite_busy")
}

// Snapshot performs a consistent copy of the collection to dst using
// SQLite's online-backup semantics (VACUUM INTO), holding no external locks
// for the duration beyond the statement itself.
func (s *Store) Snapshot(ctx context.Context, dst string) error {
	_ = os.Remove(dst)
	_, err := s.Exec(ctx, fmt.Sprintf("VACUUM INTO %s", quoteSQLString(dst)))
	if err != nil {
		return fmt.Errorf("ankidb: snapshot: %w", err)
	}
	return nil
}

// SnapshotBytes snapshots the collection into an in-memory buffer so the
// caller (ExportService) can build a ZIP without holding the session lock
// for the duration of ZIP construction.
func (s *Store) SnapshotBytes(ctx context.Context, tmpDir string) ([]byte, error) {
	tmpFile, err := os.CreateTemp(tmpDir, "snapshot-*.anki2")
	if err != nil {
		return nil, err
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	if err := s.Snapshot(ctx, tmpPath); err != nil {
		return nil, err
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Checkpoint folds the WAL back into the main database file.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.Exec(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Close checkpoints the WAL and releases the handle. Idempotent: closing an
// already-closed store is a no-op error-wise.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := s.db.Close()
	s.db = nil
	return err
}

func quoteSQLString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
