package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/consowatch/reading"
)

// PutSnapshot replaces the cached snapshot record.
func (s *Store) PutSnapshot(ctx context.Context, snap reading.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO snapshot_cache (id, body, device_count, stored_at) VALUES (1,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			device_count = excluded.device_count,
			stored_at = excluded.stored_at`,
		string(body), len(snap.Devices), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: put snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the cached snapshot, or false when none was stored.
func (s *Store) LatestSnapshot(ctx context.Context) (reading.Snapshot, bool, error) {
	var body string
	err := s.DB.QueryRowContext(ctx, `SELECT body FROM snapshot_cache WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return reading.Snapshot{}, false, nil
	}
	if err != nil {
		return reading.Snapshot{}, false, fmt.Errorf("store: get snapshot: %w", err)
	}

	var snap reading.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return reading.Snapshot{}, false, fmt.Errorf("store: decode snapshot: %w", err)
	}
	return snap, true, nil
}
