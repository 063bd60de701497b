// Package agent assembles consowatch: page source, parser, scheduler,
// dispatcher, sinks, persistence and the command API.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hazyhaar/consowatch/cache"
	"github.com/hazyhaar/consowatch/command"
	"github.com/hazyhaar/consowatch/config"
	"github.com/hazyhaar/consowatch/dispatch"
	"github.com/hazyhaar/consowatch/extractor"
	"github.com/hazyhaar/consowatch/history"
	"github.com/hazyhaar/consowatch/internal/browser"
	"github.com/hazyhaar/consowatch/internal/store"
	"github.com/hazyhaar/consowatch/mutation"
	"github.com/hazyhaar/consowatch/reading"
	"github.com/hazyhaar/consowatch/scheduler"
	"github.com/hazyhaar/consowatch/sink"
	"github.com/hazyhaar/consowatch/syncconfig"
)

// Agent owns every component for one dashboard page.
type Agent struct {
	cfg    *config.Config
	logger *slog.Logger
	extra  []sink.Sink
	source extractor.Source
	clock  reading.Clock

	mu     sync.Mutex
	opened bool

	store     *store.Store
	cache     *cache.Latest
	badge     *sink.Badge
	hist      *history.Recorder
	observers *sink.Router
	disp      *dispatch.Dispatcher
	mgr       *browser.Manager
	tab       *browser.Tab
	ext       *extractor.Extractor
	sched     *scheduler.Scheduler
	ctrl      *command.Controller
	api       *command.API
	srv       *http.Server
	addr      net.Addr
}

// Option configures an Agent.
type Option func(*Agent)

// WithSinks adds observers notified on every DATA_UPDATED.
func WithSinks(s ...sink.Sink) Option {
	return func(a *Agent) { a.extra = append(a.extra, s...) }
}

// WithSource replaces the browser or HTTP page source.
func WithSource(src extractor.Source) Option {
	return func(a *Agent) { a.source = src }
}

// WithClock sets the snapshot clock.
func WithClock(c reading.Clock) Option {
	return func(a *Agent) { a.clock = c }
}

// New creates an Agent. Nothing is opened until Open or Start.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{cfg: cfg, logger: logger}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Open builds every component: it opens the database and seeds the sync
// record, acquires the page, and connects the sinks. It does not start
// the scheduler or the HTTP listener.
func (a *Agent) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened {
		return nil
	}

	st, err := store.Open(a.cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("agent: open store: %w", err)
	}
	a.store = st
	st.SetLogger(a.logger)
	if err := st.SeedSyncConfig(ctx, a.cfg.Sync); err != nil {
		a.closeLocked()
		return fmt.Errorf("agent: seed sync config: %w", err)
	}

	var changes scheduler.ChangeSource
	src := a.source
	if src == nil {
		src, changes, err = a.openSource(ctx)
		if err != nil {
			a.closeLocked()
			return err
		}
	}

	a.cache = cache.New(st)
	a.badge = sink.NewBadge(a.logger)
	a.observers = sink.NewRouter(a.logger, a.badge)
	if a.cfg.Stdout {
		a.observers.Add(sink.NewStdout(nil))
	}
	if a.cfg.MQTT.Broker != "" {
		m, err := sink.NewMQTT(a.cfg.MQTT, a.logger)
		if err != nil {
			// The page is still worth watching without the broker.
			a.logger.Warn("agent: mqtt unavailable", "broker", a.cfg.MQTT.Broker, "error", err)
		} else {
			a.observers.Add(m)
		}
	}
	if !a.cfg.History.Disabled {
		rec, err := history.New(st.DB,
			history.WithFlushInterval(a.cfg.History.FlushInterval),
			history.WithLogger(a.logger))
		if err != nil {
			a.closeLocked()
			return fmt.Errorf("agent: %w", err)
		}
		a.hist = rec
		a.observers.Add(rec)
		if ret := a.cfg.History.Retention; ret > 0 {
			if n, err := rec.Cleanup(ctx, ret); err != nil {
				a.logger.Warn("agent: history cleanup", "error", err)
			} else if n > 0 {
				a.logger.Info("agent: history cleanup", "removed", n)
			}
		}
	}
	for _, s := range a.extra {
		a.observers.Add(s)
	}

	a.disp = dispatch.New(a.cache, st,
		dispatch.WithObservers(a.observers),
		dispatch.WithLogger(a.logger))

	a.ext = extractor.New(src,
		extractor.WithParser(reading.NewParser(a.cfg.Page.Selectors)),
		extractor.WithClock(a.clock),
		extractor.WithLogger(a.logger))

	schedOpts := []scheduler.Option{
		scheduler.WithDetector(mutation.NewDetector(a.cfg.Page.Marker)),
		scheduler.WithLogger(a.logger),
		scheduler.WithContext(context.WithoutCancel(ctx)),
	}
	if changes != nil {
		schedOpts = append(schedOpts, scheduler.WithChangeSource(changes))
	}
	a.sched = scheduler.New(a.ext, a.disp, schedOpts...)

	a.ctrl = command.NewController(a.sched, a.ext, a.logger)
	apiOpts := []command.APIOption{
		command.WithCache(a.cache),
		command.WithConfigStore(st),
		command.WithBadge(a.badge),
		command.WithSender(a.disp),
		command.WithAPILogger(a.logger),
	}
	if a.hist != nil {
		apiOpts = append(apiOpts, command.WithHistory(a.hist))
	}
	a.api = command.NewAPI(a.ctrl, apiOpts...)

	a.opened = true
	return nil
}

func (a *Agent) openSource(ctx context.Context) (extractor.Source, scheduler.ChangeSource, error) {
	level, err := a.cfg.StealthLevel()
	if err != nil {
		return nil, nil, err
	}
	if a.cfg.Page.URL == "" {
		return nil, nil, errors.New("agent: page url is required")
	}
	if level == browser.LevelHTTP {
		a.logger.Info("agent: plain HTTP source, timer only", "url", a.cfg.Page.URL)
		return extractor.NewHTTPSource(a.cfg.Page.URL, extractor.WithHTTPLogger(a.logger)), nil, nil
	}

	bc := a.cfg.BrowserManagerConfig()
	bc.Logger = a.logger
	a.mgr = browser.NewManager(bc)
	if err := a.mgr.Start(ctx, level); err != nil {
		return nil, nil, fmt.Errorf("agent: start browser: %w", err)
	}
	tab, err := browser.OpenTab(ctx, a.mgr, a.cfg.Page.URL, level)
	if err != nil {
		return nil, nil, fmt.Errorf("agent: open tab: %w", err)
	}
	a.tab = tab
	return tab, browser.NewObserver(tab, a.logger), nil
}

// Start opens the agent if needed, serves the command API, and starts
// the scheduler when the persisted autoStart flag is set. autoStart and
// interval are read once, here.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.Open(ctx); err != nil {
		return err
	}

	if !a.cfg.HTTP.Disabled {
		if err := a.serve(); err != nil {
			a.Stop()
			return err
		}
	}

	sc, err := a.store.SyncConfig(ctx)
	if err != nil {
		a.logger.Warn("agent: read sync config, using defaults", "error", err)
		sc = syncconfig.Defaults()
	}
	if !sc.AutoStart {
		a.logger.Info("agent: auto start disabled, waiting for START_EXTRACTION")
		return nil
	}
	a.sched.Start(sc.Interval)
	return nil
}

// serve binds the listen address before returning, so a taken port fails
// Start instead of leaving the agent without its command API.
func (a *Agent) serve() error {
	ln, err := net.Listen("tcp", a.cfg.HTTP.Listen)
	if err != nil {
		return fmt.Errorf("agent: listen %s: %w", a.cfg.HTTP.Listen, err)
	}

	r := a.api.Router()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.mu.Lock()
	a.srv = srv
	a.addr = ln.Addr()
	a.mu.Unlock()
	a.logger.Info("agent: command API listening", "addr", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("agent: http server", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound command API address, or nil when not serving.
func (a *Agent) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Stop closes the command API, stops the scheduler, waits for in-flight
// cycles, and releases every resource. The API goes first: a start
// request served during the drain would otherwise restart the scheduler
// on top of closed resources.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.opened {
		return
	}

	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.srv.Shutdown(ctx); err != nil {
			a.logger.Warn("agent: http shutdown", "error", err)
		}
		cancel()
		a.srv = nil
		a.addr = nil
	}

	a.sched.Stop()
	a.sched.Wait()

	a.closeLocked()
	a.opened = false
	a.logger.Info("agent: stopped")
}

func (a *Agent) closeLocked() {
	// Sinks first: the history recorder flushes into the store.
	if a.observers != nil {
		if err := a.observers.Close(); err != nil {
			a.logger.Warn("agent: close sinks", "error", err)
		}
		a.observers = nil
	}
	if a.tab != nil {
		a.tab.Close()
		a.tab = nil
	}
	if a.mgr != nil {
		a.mgr.Close()
		a.mgr = nil
	}
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
}

// Controller returns the command controller. Valid after Open.
func (a *Agent) Controller() *command.Controller { return a.ctrl }

// Scheduler returns the extraction scheduler. Valid after Open.
func (a *Agent) Scheduler() *scheduler.Scheduler { return a.sched }

// Cache returns the latest-snapshot cache. Valid after Open.
func (a *Agent) Cache() *cache.Latest { return a.cache }

// Handler returns the command API handler. Valid after Open.
func (a *Agent) Handler() http.Handler { return a.api.Router() }
