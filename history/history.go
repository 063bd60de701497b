// Package history keeps a time series of every device reading in SQLite.
//
// The Recorder is a sink: it buffers the readings of each snapshot and
// flushes them in one transaction when the buffer fills or on a timer.
// Persistence is asynchronous and never blocks a cycle for long; a failed
// flush is logged and its points are dropped.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hazyhaar/consowatch/dbopen"
	"github.com/hazyhaar/consowatch/reading"
)

// Schema creates the reading_history table.
const Schema = `
CREATE TABLE IF NOT EXISTS reading_history (
	device TEXT    NOT NULL,
	ts     INTEGER NOT NULL,
	value  REAL,
	unit   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reading_history_device_ts
	ON reading_history(device, ts DESC);
`

// Point is one recorded reading.
type Point struct {
	Device    string        `json:"device"`
	Timestamp time.Time     `json:"timestamp"`
	Value     reading.Value `json:"value"`
	Unit      string        `json:"unit"`
}

// Recorder buffers points and flushes them to SQLite in batches.
type Recorder struct {
	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []Point

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithBufferSize sets how many points trigger an immediate flush. Default: 100.
func WithBufferSize(n int) Option {
	return func(r *Recorder) { r.bufferSize = n }
}

// WithFlushInterval sets the periodic flush. Default: 5s.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) { r.flushInterval = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// New applies the schema and starts the flush loop.
func New(db *sql.DB, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		db:            db,
		bufferSize:    100,
		flushInterval: 5 * time.Second,
		logger:        slog.Default(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.bufferSize < 1 {
		r.bufferSize = 1
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("history: schema: %w", err)
	}
	r.buffer = make([]Point, 0, r.bufferSize)
	go r.flushLoop()
	return r, nil
}

// SendSnapshot queues one point per reading. The snapshot timestamp is
// used for every point; an unreadable timestamp falls back to now.
func (r *Recorder) SendSnapshot(_ context.Context, snap reading.Snapshot) error {
	ts, err := snap.Time()
	if err != nil {
		ts = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range snap.Devices {
		r.buffer = append(r.buffer, Point{Device: d.Name, Timestamp: ts, Value: d.Value, Unit: d.Unit})
	}
	if len(r.buffer) >= r.bufferSize {
		r.flushLocked()
	}
	return nil
}

// Flush writes buffered points now.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

// Query returns up to limit points for device, newest first. limit <= 0
// means no limit.
func (r *Recorder) Query(ctx context.Context, device string, limit int) ([]Point, error) {
	q := `SELECT device, ts, value, unit FROM reading_history WHERE device = ? ORDER BY ts DESC`
	args := []any{device}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	out := []Point{}
	for rows.Next() {
		var p Point
		var ms int64
		var v sql.NullFloat64
		if err := rows.Scan(&p.Device, &ms, &v, &p.Unit); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		p.Timestamp = time.UnixMilli(ms).UTC()
		if v.Valid {
			p.Value = reading.Numeric(v.Float64)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Cleanup deletes points older than retention and returns the count removed.
func (r *Recorder) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	res, err := r.db.ExecContext(ctx, `DELETE FROM reading_history WHERE ts < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("history: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes remaining points and stops the flush loop.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.stop)
		<-r.done
	})
	return nil
}

func (r *Recorder) flushLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			r.Flush()
			return
		case <-ticker.C:
			r.Flush()
		}
	}
}

func (r *Recorder) flushLocked() {
	if len(r.buffer) == 0 {
		return
	}
	n := len(r.buffer)
	defer func() { r.buffer = r.buffer[:0] }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := dbopen.RunTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO reading_history (device, ts, value, unit) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()
		for _, p := range r.buffer {
			if _, err := stmt.ExecContext(ctx, p.Device, p.Timestamp.UnixMilli(), nullable(p.Value), p.Unit); err != nil {
				return fmt.Errorf("insert %s: %w", p.Device, err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("history: flush", "error", err, "dropped", n)
		return
	}
	r.logger.Debug("history: flushed", "points", n)
}

// nullable stores Unparseable and infinities as NULL, as the JSON form does.
func nullable(v reading.Value) sql.NullFloat64 {
	f, ok := v.Float()
	if !ok || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
