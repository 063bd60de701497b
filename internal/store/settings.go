package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/consowatch/dbopen"
	"github.com/hazyhaar/consowatch/syncconfig"
)

// Setting keys. One row per field, so a partial record falls back to
// defaults field by field.
const (
	KeyServerURL = "serverUrl"
	KeyAutoSend  = "autoSend"
	KeyInterval  = "interval"
	KeyAutoStart = "autoStart"
)

func settingRows(cfg syncconfig.SyncConfig) map[string]any {
	return map[string]any{
		KeyServerURL: cfg.ServerURL,
		KeyAutoSend:  cfg.AutoSend,
		KeyInterval:  cfg.Interval,
		KeyAutoStart: cfg.AutoStart,
	}
}

// SeedSyncConfig writes cfg for every key that is not stored yet.
func (s *Store) SeedSyncConfig(ctx context.Context, cfg syncconfig.SyncConfig) error {
	return s.writeSettings(ctx, cfg, `INSERT OR IGNORE INTO settings (key, value, updated_at) VALUES (?,?,?)`)
}

// SaveSyncConfig overwrites the stored sync settings.
func (s *Store) SaveSyncConfig(ctx context.Context, cfg syncconfig.SyncConfig) error {
	return s.writeSettings(ctx, cfg, `
		INSERT INTO settings (key, value, updated_at) VALUES (?,?,?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
}

func (s *Store) writeSettings(ctx context.Context, cfg syncconfig.SyncConfig, query string) error {
	now := time.Now().UnixMilli()
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for key, v := range settingRows(cfg) {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("store: marshal %s: %w", key, err)
			}
			if _, err := tx.ExecContext(ctx, query, key, string(raw), now); err != nil {
				return fmt.Errorf("store: write %s: %w", key, err)
			}
		}
		return nil
	})
}

// SyncConfig reads the sync settings. Missing or undecodable keys take
// their default value.
func (s *Store) SyncConfig(ctx context.Context) (syncconfig.SyncConfig, error) {
	cfg := syncconfig.Defaults()

	rows, err := s.DB.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return cfg, fmt.Errorf("store: query settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return cfg, fmt.Errorf("store: scan setting: %w", err)
		}
		var target any
		switch key {
		case KeyServerURL:
			target = &cfg.ServerURL
		case KeyAutoSend:
			target = &cfg.AutoSend
		case KeyInterval:
			target = &cfg.Interval
		case KeyAutoStart:
			target = &cfg.AutoStart
		default:
			continue
		}
		if err := json.Unmarshal([]byte(value), target); err != nil {
			s.logger.Warn("store: undecodable setting, using default", "key", key, "value", value, "error", err)
		}
	}
	if err := rows.Err(); err != nil {
		return cfg, fmt.Errorf("store: settings rows: %w", err)
	}
	return cfg, nil
}
