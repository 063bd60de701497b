package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/consowatch/reading"
)

type memPersister struct {
	stored []reading.Snapshot
	err    error
}

func (m *memPersister) PutSnapshot(_ context.Context, snap reading.Snapshot) error {
	if m.err != nil {
		return m.err
	}
	m.stored = append(m.stored, snap)
	return nil
}

func (m *memPersister) LatestSnapshot(context.Context) (reading.Snapshot, bool, error) {
	if len(m.stored) == 0 {
		return reading.Snapshot{}, false, nil
	}
	return m.stored[len(m.stored)-1], true, nil
}

func TestLatest_LastWriteWins(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	if _, ok := c.Get(); ok {
		t.Fatal("new cache should be empty")
	}
	c.Store(ctx, reading.Snapshot{Timestamp: "b"})
	c.Store(ctx, reading.Snapshot{Timestamp: "a"})

	got, ok := c.Get()
	if !ok || got.Timestamp != "a" {
		t.Fatalf("got %q/%v, want last stored %q", got.Timestamp, ok, "a")
	}
}

func TestLatest_PersistFailureKeepsMemory(t *testing.T) {
	p := &memPersister{err: errors.New("disk full")}
	c := New(p)

	err := c.Store(context.Background(), reading.Snapshot{Timestamp: "t1"})
	if err == nil {
		t.Fatal("want persistence error")
	}
	if got, ok := c.Get(); !ok || got.Timestamp != "t1" {
		t.Fatalf("memory value lost: %+v", got)
	}
}

func TestLatest_LookupFallsBackToPersisted(t *testing.T) {
	p := &memPersister{stored: []reading.Snapshot{{Timestamp: "from-disk"}}}
	c := New(p)

	got, ok, err := c.Lookup(context.Background())
	if err != nil || !ok || got.Timestamp != "from-disk" {
		t.Fatalf("lookup: %+v ok=%v err=%v", got, ok, err)
	}
	if _, ok := c.Get(); ok {
		t.Fatal("lookup must not populate memory")
	}
}
