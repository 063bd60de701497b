// Package store provides the SQLite persistence layer for consowatch: the
// sync settings record and the latest-snapshot cache record.
package store

import (
	"database/sql"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/consowatch/dbopen"
)

// Schema creates the settings and snapshot_cache tables.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshot_cache (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	body         TEXT NOT NULL,
	device_count INTEGER NOT NULL,
	stored_at    INTEGER NOT NULL
);
`

// Store is the consowatch database handle.
type Store struct {
	DB     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db, logger: slog.Default()}, nil
}

// New wraps an already opened database. The schema must be applied.
func New(db *sql.DB) *Store {
	return &Store{DB: db, logger: slog.Default()}
}

// SetLogger sets the logger used for recoverable read problems.
func (s *Store) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
