package sink

import (
	"context"

	"github.com/hazyhaar/consowatch/reading"
)

// SnapshotFunc is called for each snapshot.
type SnapshotFunc func(ctx context.Context, snap reading.Snapshot) error

// Callback delivers snapshots as in-process function calls.
type Callback struct {
	fn SnapshotFunc
}

// NewCallback creates a Callback sink. A nil fn discards snapshots.
func NewCallback(fn SnapshotFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) SendSnapshot(ctx context.Context, snap reading.Snapshot) error {
	if c.fn != nil {
		return c.fn(ctx, snap)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
