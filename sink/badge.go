package sink

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/hazyhaar/consowatch/reading"
)

// BadgeColor is the background shown once devices are reported.
const BadgeColor = "#4CAF50"

// BadgeState is what a status renderer would display.
type BadgeState struct {
	Text    string `json:"text"`
	Color   string `json:"color"`
	Devices int    `json:"devices"`
	// Timestamp of the snapshot the badge was last derived from.
	Timestamp string `json:"timestamp,omitempty"`
}

// Badge derives a device count from each snapshot. Snapshots with no
// devices leave the previous badge untouched.
type Badge struct {
	mu     sync.RWMutex
	state  BadgeState
	logger *slog.Logger
}

// NewBadge creates an empty Badge.
func NewBadge(logger *slog.Logger) *Badge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Badge{logger: logger}
}

func (b *Badge) SendSnapshot(_ context.Context, snap reading.Snapshot) error {
	n := len(snap.Devices)
	if n == 0 {
		return nil
	}

	b.mu.Lock()
	b.state = BadgeState{
		Text:      strconv.Itoa(n),
		Color:     BadgeColor,
		Devices:   n,
		Timestamp: snap.Timestamp,
	}
	b.mu.Unlock()

	b.logger.Debug("sink: badge updated", "devices", n)
	return nil
}

// State returns the current badge.
func (b *Badge) State() BadgeState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Badge) Close() error { return nil }
