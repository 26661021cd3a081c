// Package session implements the per-user SessionRegistry: the process-wide
// map from username to a cached, single-writer CollectionStore with TTL
// eviction. This is the only place in the module that is allowed to open a
// user's collection file directly.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/emadruga/javumbo-sub001/internal/ankidb"
	"github.com/emadruga/javumbo-sub001/internal/apperr"
	"github.com/emadruga/javumbo-sub001/internal/clock"
)

// Options configures registry timing, with the defaults from spec.md §6.4.
type Options struct {
	TTL            time.Duration
	SweepInterval  time.Duration
	InvalidateWait time.Duration
}

// DefaultOptions mirrors the configuration defaults: 300s TTL, 30s sweep.
func DefaultOptions() Options {
	return Options{
		TTL:            300 * time.Second,
		SweepInterval:  30 * time.Second,
		InvalidateWait: 30 * time.Second,
	}
}

// entry is one user's cached collection plus the bookkeeping the registry
// needs to serialize access and evict idle entries. mu is held by Acquire
// for the entire lease window and released by the matching Release/
// ReleaseAfter call, so at most one goroutine ever touches store for a
// given username at a time.
type entry struct {
	mu           sync.Mutex
	store        *ankidb.Store
	lastAccessMs int64
	path         string
}

// Lease is a borrowed reference to a user's Store, returned by Acquire. The
// caller must call Release exactly once.
type Lease struct {
	Store    *ankidb.Store
	username string
	registry *Registry
}

// Registry is the process-wide username -> SessionEntry map described in
// spec.md §4.3. Exactly one Registry should exist per running server.
type Registry struct {
	mapMu   sync.Mutex
	entries map[string]*entry
	opts    Options
	clock   clock.Clock

	stopSweep chan struct{}
}

// New constructs an empty Registry. Each Acquire call supplies the
// collection file path; opening is delegated to ankidb.Open so a missing
// file surfaces as ankidb.CollectionMissing.
func New(opts Options, c clock.Clock) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		opts:    opts,
		clock:   c,
	}
}

// StartSweeper launches a background goroutine that calls Sweep on
// opts.SweepInterval until Stop is called. Safe to call at most once.
func (r *Registry) StartSweeper() {
	r.stopSweep = make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep()
			case <-r.stopSweep:
				return
			}
		}
	}()
}

// Stop halts the background sweeper, if running.
func (r *Registry) Stop() {
	if r.stopSweep != nil {
		close(r.stopSweep)
		r.stopSweep = nil
	}
}

// Acquire returns a Lease for username's collection, opening it at path if
// no entry is cached. It blocks until the per-user entry is free, honoring
// ctx cancellation per spec.md §4.3. On success, e.mu is left locked for the
// lifetime of the lease: the caller must pair every Acquire with exactly one
// Release or ReleaseAfter call, which is what actually unlocks it. This is
// what makes the registry serialize concurrent requests for the same user
// rather than just guarding a brief bookkeeping update.
func (r *Registry) Acquire(ctx context.Context, username, path string) (*Lease, error) {
	e := r.entryFor(username, path)

	lockAcquired := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(lockAcquired)
	}()

	select {
	case <-lockAcquired:
	case <-ctx.Done():
		// The lock may still land on us after we've given up; hand it
		// straight back so the entry never wedges for the next caller.
		go func() {
			<-lockAcquired
			e.mu.Unlock()
		}()
		return nil, apperr.Wrap(apperr.Cancelled, apperr.MsgCancelled, ctx.Err())
	}

	if e.store == nil {
		store, err := ankidb.Open(path)
		if err != nil {
			e.mu.Unlock()
			if cm, ok := err.(*ankidb.CollectionMissing); ok {
				return nil, apperr.Wrap(apperr.NotFound, apperr.MsgCollectionMissing, cm)
			}
			return nil, err
		}
		e.store = store
	}

	e.lastAccessMs = r.clock.NowMs()

	return &Lease{Store: e.store, username: username, registry: r}, nil
}

func (r *Registry) entryFor(username, path string) *entry {
	r.mapMu.Lock()
	defer r.mapMu.Unlock()

	e, ok := r.entries[username]
	if !ok {
		e = &entry{path: path}
		r.entries[username] = e
	}
	return e
}

// Release returns the lease to the registry, unlocking the entry so the
// next Acquire for this username can proceed. If dirty, the entry is
// flushed (WAL checkpoint) before the unlock is visible to other callers.
func (r *Registry) Release(ctx context.Context, lease *Lease, dirty bool) error {
	r.mapMu.Lock()
	e, ok := r.entries[lease.username]
	r.mapMu.Unlock()
	if !ok {
		return nil
	}

	e.lastAccessMs = r.clock.NowMs()
	store := e.store

	var flushErr error
	if dirty && store != nil {
		flushErr = store.Checkpoint(ctx)
	}
	e.mu.Unlock()

	return flushErr
}

// ReleaseAfter releases lease the way Release does, except when err carries
// an Integrity kind: per spec.md §7, a corrupt collection must not be
// reused by the next request, so the whole entry is dropped and its Store
// closed instead of just being unlocked for reuse.
func (r *Registry) ReleaseAfter(ctx context.Context, lease *Lease, dirty bool, err error) error {
	if apperr.KindOf(err) == apperr.Integrity {
		_ = r.Release(ctx, lease, false)
		return r.Invalidate(lease.username)
	}
	return r.Release(ctx, lease, dirty)
}

// Flush forces a synchronous WAL checkpoint for username, blocking until the
// on-disk file reflects all committed writes. Like Acquire, this waits for
// any in-flight lease to be released before touching the store.
func (r *Registry) Flush(ctx context.Context, username string) error {
	r.mapMu.Lock()
	e, ok := r.entries[username]
	r.mapMu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	store := e.store
	e.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Checkpoint(ctx)
}

// Sweep evicts entries with no in-flight lease that have been idle longer
// than the TTL. An entry whose mutex cannot be acquired immediately has a
// lease outstanding and is left alone.
func (r *Registry) Sweep() {
	now := r.clock.NowMs()
	ttlMs := r.opts.TTL.Milliseconds()

	r.mapMu.Lock()
	usernames := make([]string, 0, len(r.entries))
	for username := range r.entries {
		usernames = append(usernames, username)
	}
	r.mapMu.Unlock()

	for _, username := range usernames {
		r.sweepOne(username, now, ttlMs)
	}
}

// sweepOne holds mapMu across the TryLock-and-delete decision so a
// concurrent Acquire can never be handed a pointer to an entry this call is
// in the middle of evicting.
func (r *Registry) sweepOne(username string, now, ttlMs int64) {
	r.mapMu.Lock()
	e, ok := r.entries[username]
	if !ok {
		r.mapMu.Unlock()
		return
	}
	if !e.mu.TryLock() {
		r.mapMu.Unlock()
		return
	}

	if now-e.lastAccessMs <= ttlMs {
		r.mapMu.Unlock()
		e.mu.Unlock()
		return
	}

	store := e.store
	e.store = nil
	delete(r.entries, username)
	r.mapMu.Unlock()
	e.mu.Unlock()

	if store != nil {
		_ = store.Close()
	}
}

// EvictionTimeout is returned by Invalidate when the entry's lease is never
// released within the deadline.
type EvictionTimeout struct {
	Username string
}

func (e *EvictionTimeout) Error() string {
	return "session: eviction of " + e.Username + " timed out waiting for in-flight operations"
}

// Invalidate forcibly drops username's entry, waiting (bounded by
// opts.InvalidateWait) for any in-flight lease to be released first. Used
// when a request discovers the cached collection is corrupt, so the next
// Acquire re-opens the file from scratch instead of reusing the bad state.
func (r *Registry) Invalidate(username string) error {
	r.mapMu.Lock()
	e, ok := r.entries[username]
	r.mapMu.Unlock()
	if !ok {
		return nil
	}

	lockAcquired := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(lockAcquired)
	}()

	select {
	case <-lockAcquired:
	case <-time.After(r.opts.InvalidateWait):
		// As in Acquire's ctx-cancellation path, the lock may still land on
		// us later; hand it straight back so the entry isn't wedged forever.
		go func() {
			<-lockAcquired
			e.mu.Unlock()
		}()
		return &EvictionTimeout{Username: username}
	}

	store := e.store
	e.store = nil
	e.mu.Unlock()

	r.mapMu.Lock()
	delete(r.entries, username)
	r.mapMu.Unlock()

	if store != nil {
		return store.Close()
	}
	return nil
}
