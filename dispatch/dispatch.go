// Package dispatch fans a completed Snapshot out to the local cache, the
// local observers and, when configured, the remote sync endpoint. Each
// destination fails independently; nothing here returns an error to the
// caller.
package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/consowatch/reading"
	"github.com/hazyhaar/consowatch/sink"
	"github.com/hazyhaar/consowatch/syncconfig"
)

// Cache stores the latest snapshot.
type Cache interface {
	Store(ctx context.Context, snap reading.Snapshot) error
}

// ConfigSource supplies the current sync settings. It is read on every
// dispatch so edits apply from the next cycle.
type ConfigSource interface {
	SyncConfig(ctx context.Context) (syncconfig.SyncConfig, error)
}

// Poster performs the remote POST.
type Poster interface {
	Post(ctx context.Context, url string, snap reading.Snapshot) error
}

// Outcome reports what happened to one snapshot.
type Outcome struct {
	Cached    bool // local cache write succeeded
	Notified  bool // every observer accepted the snapshot
	Attempted bool // a remote POST was issued
	Sent      bool // the remote POST got a 2xx
}

// Dispatcher delivers snapshots. It is stateless between calls and safe
// for concurrent use.
type Dispatcher struct {
	cache     Cache
	config    ConfigSource
	observers sink.Sink
	poster    Poster
	logger    *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithObservers sets the local observers notified with DATA_UPDATED.
func WithObservers(s sink.Sink) Option {
	return func(d *Dispatcher) { d.observers = s }
}

// WithPoster sets the remote poster. Default: sink.NewWebhook().
func WithPoster(p Poster) Option {
	return func(d *Dispatcher) { d.poster = p }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a Dispatcher.
func New(cache Cache, config ConfigSource, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cache:  cache,
		config: config,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.poster == nil {
		d.poster = sink.NewWebhook(sink.WithWebhookLogger(d.logger))
	}
	return d
}

// Dispatch caches snap, notifies observers, then sends it to the remote
// endpoint if the current config allows it.
func (d *Dispatcher) Dispatch(ctx context.Context, snap reading.Snapshot) Outcome {
	var out Outcome

	if d.cache != nil {
		if err := d.cache.Store(ctx, snap); err != nil {
			d.logger.Warn("dispatch: cache write failed", "error", err)
		} else {
			out.Cached = true
		}
	}

	out.Notified = true
	if d.observers != nil {
		if err := d.observers.SendSnapshot(ctx, snap); err != nil {
			d.logger.Warn("dispatch: notify observers failed", "error", err)
			out.Notified = false
		}
	}

	cfg, err := d.config.SyncConfig(ctx)
	if err != nil {
		d.logger.Warn("dispatch: read sync config failed, skipping remote send", "error", err)
		return out
	}
	url, ok := cfg.Remote()
	if !ok {
		return out
	}

	out.Attempted = true
	out.Sent = d.Send(ctx, url, snap)
	return out
}

// Send POSTs snap to url once and reports whether the endpoint answered 2xx.
func (d *Dispatcher) Send(ctx context.Context, url string, snap reading.Snapshot) bool {
	return d.Deliver(ctx, url, snap) == nil
}

// Deliver POSTs snap to url once and returns the poster's error, a
// *sink.StatusError or *sink.TransportError, after logging it.
func (d *Dispatcher) Deliver(ctx context.Context, url string, snap reading.Snapshot) error {
	err := d.poster.Post(ctx, url, snap)
	if err == nil {
		d.logger.Info("dispatch: snapshot sent", "url", url, "devices", len(snap.Devices))
		return nil
	}

	var se *sink.StatusError
	var te *sink.TransportError
	switch {
	case errors.As(err, &se):
		d.logger.Error("dispatch: server rejected snapshot", "url", url, "status", se.Code)
	case errors.As(err, &te):
		d.logger.Error("dispatch: connection to server failed", "url", url, "error", te.Err)
	default:
		d.logger.Error("dispatch: send failed", "url", url, "error", err)
	}
	return err
}
