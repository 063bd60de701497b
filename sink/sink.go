// Package sink defines the outputs a Snapshot is delivered to: local
// observers (badge, stdout, MQTT, in-process callbacks) and the one-shot
// webhook poster used for the remote endpoint.
package sink

import (
	"context"

	"github.com/hazyhaar/consowatch/reading"
)

// EventDataUpdated is the outbound event emitted after every completed
// extraction cycle.
const EventDataUpdated = "DATA_UPDATED"

// Sink is a local observer of completed snapshots. Implementations must not
// modify the Snapshot.
type Sink interface {
	SendSnapshot(ctx context.Context, snap reading.Snapshot) error
	Close() error
}

// Envelope is the wire form of an outbound event.
type Envelope struct {
	Type string           `json:"type"`
	Data reading.Snapshot `json:"data"`
}

func dataUpdated(snap reading.Snapshot) Envelope {
	return Envelope{Type: EventDataUpdated, Data: snap}
}
