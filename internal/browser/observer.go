package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/consowatch/mutation"
)

const bindingName = "__consowatch_binding"

//go:embed observer.js
var observerJS string

const disconnectJS = `() => {
  const o = window.__consowatch_observer;
  if (o) { o.disconnect(); delete window.__consowatch_observer; }
}`

// Observer relays the page's MutationObserver batches to subscribers. The
// in-page observer is installed on the first subscription, re-installed
// after every page load, and disconnected when the last subscriber leaves.
type Observer struct {
	tab    *Tab
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]func([]mutation.Record)
	next   uint64
	cancel context.CancelFunc // non-nil while installed
}

// NewObserver creates an Observer for tab.
func NewObserver(tab *Tab, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{tab: tab, logger: logger, subs: make(map[uint64]func([]mutation.Record))}
}

// Subscribe delivers every mutation batch to fn until cancel is called.
// fn runs on the CDP event goroutine and must not block.
func (o *Observer) Subscribe(ctx context.Context, fn func([]mutation.Record)) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel == nil {
		if err := o.install(ctx); err != nil {
			return nil, err
		}
	}
	o.next++
	id := o.next
	o.subs[id] = fn

	var once sync.Once
	return func() { once.Do(func() { o.unsubscribe(id) }) }, nil
}

func (o *Observer) install(ctx context.Context) error {
	page := o.tab.page.Context(ctx)

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		return fmt.Errorf("browser: add binding: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	wait := o.tab.page.Context(listenCtx).EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name == bindingName {
				o.deliver(e.Payload)
			}
		},
		func(*proto.PageLoadEventFired) {
			// A reload drops the in-page observer.
			go o.inject(listenCtx)
		},
	)
	go wait()

	if _, err := page.Eval(observerJS); err != nil {
		cancel()
		return fmt.Errorf("browser: inject observer: %w", err)
	}
	o.cancel = cancel
	o.logger.Debug("browser: observer installed", "url", o.tab.url)
	return nil
}

func (o *Observer) inject(ctx context.Context) {
	if _, err := o.tab.page.Context(ctx).Eval(observerJS); err != nil && ctx.Err() == nil {
		o.logger.Warn("browser: re-inject observer failed", "url", o.tab.url, "error", err)
	}
}

func (o *Observer) unsubscribe(id uint64) {
	o.mu.Lock()
	delete(o.subs, id)
	if len(o.subs) > 0 || o.cancel == nil {
		o.mu.Unlock()
		return
	}
	o.cancel()
	o.cancel = nil
	o.mu.Unlock()

	if _, err := o.tab.page.Eval(disconnectJS); err != nil {
		o.logger.Warn("browser: disconnect observer failed", "error", err)
	}
}

func (o *Observer) deliver(payload string) {
	batch, err := decodeBatch(payload)
	if err != nil {
		o.logger.Warn("browser: bad observer payload", "error", err)
		return
	}
	if len(batch) == 0 {
		return
	}

	o.mu.Lock()
	fns := make([]func([]mutation.Record), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(batch)
	}
}

// decodeBatch parses one binding payload: a JSON array of records, each
// with its target's ancestor path.
func decodeBatch(payload string) ([]mutation.Record, error) {
	var wire []mutation.WireRecord
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, fmt.Errorf("browser: decode batch: %w", err)
	}
	return mutation.FromWire(wire), nil
}
