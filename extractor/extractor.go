// Package extractor turns the current page DOM into a Snapshot.
package extractor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/consowatch/reading"
)

// Source yields the current serialised DOM of the dashboard page.
type Source interface {
	HTML(ctx context.Context) ([]byte, error)
}

// Extractor reads the page through a Source and builds Snapshots.
type Extractor struct {
	source Source
	parser *reading.Parser
	clock  reading.Clock
	logger *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithParser replaces the default-selector parser.
func WithParser(p *reading.Parser) Option {
	return func(e *Extractor) { e.parser = p }
}

// WithClock sets the snapshot clock.
func WithClock(c reading.Clock) Option {
	return func(e *Extractor) { e.clock = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New creates an Extractor over src.
func New(src Source, opts ...Option) *Extractor {
	e := &Extractor{
		source: src,
		parser: reading.NewParser(reading.DefaultSelectors()),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract reads the DOM once and returns a fresh Snapshot. A page with no
// consumption lines yields a Snapshot with an empty device list.
func (e *Extractor) Extract(ctx context.Context) (reading.Snapshot, error) {
	raw, err := e.source.HTML(ctx)
	if err != nil {
		return reading.Snapshot{}, fmt.Errorf("extractor: read page: %w", err)
	}
	readings, err := e.parser.ParseHTML(raw)
	if err != nil {
		return reading.Snapshot{}, fmt.Errorf("extractor: parse: %w", err)
	}
	snap := reading.Build(readings, e.clock)
	e.logger.Debug("extractor: extracted", "devices", len(snap.Devices), "size", len(raw))
	return snap, nil
}

// FindNamed returns the first reading whose name equals name exactly.
func (e *Extractor) FindNamed(ctx context.Context, name string) (reading.Reading, bool, error) {
	raw, err := e.source.HTML(ctx)
	if err != nil {
		return reading.Reading{}, false, fmt.Errorf("extractor: read page: %w", err)
	}
	r, ok, err := e.parser.FindNamedHTML(raw, name)
	if err != nil {
		return reading.Reading{}, false, fmt.Errorf("extractor: parse: %w", err)
	}
	return r, ok, nil
}
