// Package cache owns the "latest snapshot" shared between extraction
// cycles and readers.
package cache

import (
	"context"
	"sync"

	"github.com/hazyhaar/consowatch/reading"
)

// Persister writes the cache record somewhere readers outside the process
// can see it.
type Persister interface {
	PutSnapshot(ctx context.Context, snap reading.Snapshot) error
}

// Loader reads a previously persisted record.
type Loader interface {
	LatestSnapshot(ctx context.Context) (reading.Snapshot, bool, error)
}

// Latest holds the most recently completed snapshot. Overlapping cycles
// may store out of start order; whichever stores last wins. Readers may
// see a value that is superseded moments later.
type Latest struct {
	mu   sync.RWMutex
	snap reading.Snapshot
	set  bool

	persist Persister
}

// New creates an empty cache. persist may be nil for a memory-only cache.
func New(persist Persister) *Latest {
	return &Latest{persist: persist}
}

// Store replaces the in-memory snapshot, then persists it. The in-memory
// value is updated even when persistence fails.
func (l *Latest) Store(ctx context.Context, snap reading.Snapshot) error {
	l.mu.Lock()
	l.snap = snap
	l.set = true
	l.mu.Unlock()

	if l.persist == nil {
		return nil
	}
	return l.persist.PutSnapshot(ctx, snap)
}

// Get returns the latest snapshot and whether one has been stored in
// this process.
func (l *Latest) Get() (reading.Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap, l.set
}

// Lookup returns the in-memory snapshot, falling back to the persisted
// record when this process has not stored one yet. The fallback never
// populates the in-memory value.
func (l *Latest) Lookup(ctx context.Context) (reading.Snapshot, bool, error) {
	if snap, ok := l.Get(); ok {
		return snap, true, nil
	}
	loader, ok := l.persist.(Loader)
	if !ok {
		return reading.Snapshot{}, false, nil
	}
	return loader.LatestSnapshot(ctx)
}
