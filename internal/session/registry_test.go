package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/emadruga/javumbo-sub001/internal/ankidb"
	"github.com/emadruga/javumbo-sub001/internal/apperr"
	"github.com/emadruga/javumbo-sub001/internal/clock"
)

func newTestCollection(t *testing.T, c clock.Clock) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "user_1.anki2")
	if err := ankidb.Initialize(path, "Ada", c); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return path
}

func TestAcquireRelease_SerializesPerUser(t *testing.T) {
	c := clock.NewManual(time.Now())
	path := newTestCollection(t, c)
	reg := New(DefaultOptions(), c)

	lease, err := reg.Acquire(context.Background(), "ada", path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		lease2, err := reg.Acquire(context.Background(), "ada", path)
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			return
		}
		close(acquired)
		_ = reg.Release(context.Background(), lease2, false)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire returned before first Release")
	case <-time.After(50 * time.Millisecond):
	}

	if err := reg.Release(context.Background(), lease, false); err != nil {
		t.Fatalf("Release: %v", err)
	}

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never completed after Release")
	}
}

func TestAcquire_HonorsContextCancellation(t *testing.T) {
	c := clock.NewManual(time.Now())
	path := newTestCollection(t, c)
	reg := New(DefaultOptions(), c)

	lease, err := reg.Acquire(context.Background(), "ada", path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer reg.Release(context.Background(), lease, false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = reg.Acquire(ctx, "ada", path)
	if err == nil {
		t.Fatal("expected Acquire to fail once the context deadline is exceeded")
	}
}

func TestSweep_EvictsOnlyIdleExpiredEntries(t *testing.T) {
	c := clock.NewManual(time.Now())
	path := newTestCollection(t, c)
	opts := Options{TTL: time.Minute, SweepInterval: time.Hour, InvalidateWait: time.Second}
	reg := New(opts, c)

	lease, err := reg.Acquire(context.Background(), "ada", path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := reg.Release(context.Background(), lease, false); err != nil {
		t.Fatalf("Release: %v", err)
	}

	c.Advance(2 * time.Minute)
	reg.Sweep()

	reg.mapMu.Lock()
	_, stillPresent := reg.entries["ada"]
	reg.mapMu.Unlock()
	if stillPresent {
		t.Fatal("expected idle entry past TTL to be evicted by Sweep")
	}
}

func TestInvalidate_WaitsForInFlightThenEvicts(t *testing.T) {
	c := clock.NewManual(time.Now())
	path := newTestCollection(t, c)
	reg := New(Options{TTL: time.Minute, SweepInterval: time.Hour, InvalidateWait: 200 * time.Millisecond}, c)

	lease, err := reg.Acquire(context.Background(), "ada", path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = reg.Release(context.Background(), lease, false)
	}()

	if err := reg.Invalidate("ada"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	reg.mapMu.Lock()
	_, present := reg.entries["ada"]
	reg.mapMu.Unlock()
	if present {
		t.Fatal("expected Invalidate to remove the entry")
	}
}

func TestAcquire_SurfacesMissingCollectionAsNotFound(t *testing.T) {
	c := clock.NewManual(time.Now())
	reg := New(DefaultOptions(), c)

	_, err := reg.Acquire(context.Background(), "ghost", filepath.Join(t.TempDir(), "user_404.anki2"))
	if err == nil {
		t.Fatal("expected an error opening a nonexistent collection")
	}
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound, got %v (%T)", err, err)
	}
}

func TestReleaseAfter_IntegrityErrorInvalidatesEntry(t *testing.T) {
	c := clock.NewManual(time.Now())
	path := newTestCollection(t, c)
	reg := New(DefaultOptions(), c)

	lease, err := reg.Acquire(context.Background(), "ada", path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	integrityErr := apperr.New(apperr.Integrity, apperr.MsgInternal)
	if err := reg.ReleaseAfter(context.Background(), lease, true, integrityErr); err != nil {
		t.Fatalf("ReleaseAfter: %v", err)
	}

	reg.mapMu.Lock()
	_, present := reg.entries["ada"]
	reg.mapMu.Unlock()
	if present {
		t.Fatal("expected ReleaseAfter to drop the entry on an Integrity-kind error")
	}

	// The next Acquire must succeed by re-opening the file from scratch.
	lease2, err := reg.Acquire(context.Background(), "ada", path)
	if err != nil {
		t.Fatalf("Acquire after invalidation: %v", err)
	}
	_ = reg.Release(context.Background(), lease2, false)
}

func TestInvalidate_TimesOutWhenNeverReleased(t *testing.T) {
	c := clock.NewManual(time.Now())
	path := newTestCollection(t, c)
	reg := New(Options{TTL: time.Minute, SweepInterval: time.Hour, InvalidateWait: 30 * time.Millisecond}, c)

	lease, err := reg.Acquire(context.Background(), "ada", path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer reg.Release(context.Background(), lease, false)

	err = reg.Invalidate("ada")
	if err == nil {
		t.Fatal("expected EvictionTimeout when the lease is never released")
	}
	if _, ok := err.(*EvictionTimeout); !ok {
		t.Fatalf("expected *EvictionTimeout, got %T: %v", err, err)
	}
}
