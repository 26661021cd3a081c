package ankidb

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/emadruga/javumbo-sub001/internal/clock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "user_1.anki2")
	c := clock.NewManual(time.Now())
	if err := Initialize(path, "Ada", c); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "does_not_exist.anki2"))
	if err == nil {
		t.Fatal("expected an error opening a missing collection")
	}
	var missing *CollectionMissing
	if !errors.As(err, &missing) {
		t.Fatalf("expected *CollectionMissing, got %T: %v", err, err)
	}
}

func TestStore_ExecAndQueryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Exec(ctx, "UPDATE col SET usn = ? WHERE id = 1", 42); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	var usn int
	if err := store.QueryRow(ctx, "SELECT usn FROM col WHERE id = 1").Scan(&usn); err != nil {
		t.Fatalf("QueryRow: %v", err)
	}
	if usn != 42 {
		t.Fatalf("expected usn 42, got %d", usn)
	}
}

func TestStore_TxCommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec("UPDATE col SET usn = ? WHERE id = 1", 7)
		return err
	})
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}

	var usn int
	if err := store.QueryRow(ctx, "SELECT usn FROM col WHERE id = 1").Scan(&usn); err != nil {
		t.Fatalf("QueryRow: %v", err)
	}
	if usn != 7 {
		t.Fatalf("expected committed usn 7, got %d", usn)
	}
}

func TestStore_TxRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := store.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("UPDATE col SET usn = ? WHERE id = 1", 99); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error to propagate, got %v", err)
	}

	var usn int
	if err := store.QueryRow(ctx, "SELECT usn FROM col WHERE id = 1").Scan(&usn); err != nil {
		t.Fatalf("QueryRow: %v", err)
	}
	if usn != 0 {
		t.Fatalf("expected rollback to leave usn at 0, got %d", usn)
	}
}

func TestStore_SnapshotBytesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	data, err := store.SnapshotBytes(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("SnapshotBytes: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty snapshot bytes")
	}
	// SQLite files start with the fixed 16-byte magic header.
	if string(data[:16]) != "SQLite format 3\x00" {
		t.Fatalf("snapshot does not look like a SQLite file: %q", data[:16])
	}
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}
