// Package scheduler coordinates a fixed-interval timer and DOM change
// notifications into extraction cycles.
//
// A cycle extracts a Snapshot and hands it to the dispatcher. Cycles from
// the timer and from mutations are independent: they are neither
// serialised nor coalesced, and the cache reflects whichever cycle
// completes last. Stop only prevents new cycles; in-flight ones finish.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/consowatch/dispatch"
	"github.com/hazyhaar/consowatch/idgen"
	"github.com/hazyhaar/consowatch/mutation"
	"github.com/hazyhaar/consowatch/reading"
	"github.com/hazyhaar/consowatch/syncconfig"
)

// State is the scheduler lifecycle state.
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Extractor produces a fresh Snapshot from the page.
type Extractor interface {
	Extract(ctx context.Context) (reading.Snapshot, error)
}

// Dispatcher delivers a Snapshot to its sinks.
type Dispatcher interface {
	Dispatch(ctx context.Context, snap reading.Snapshot) dispatch.Outcome
}

// ChangeSource delivers DOM mutation batches until the returned cancel
// function is called.
type ChangeSource interface {
	Subscribe(ctx context.Context, fn func([]mutation.Record)) (cancel func(), err error)
}

// Ticker is the repeating timer. It matches the subset of *time.Ticker the
// scheduler uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }

// Trigger names what started a cycle.
type Trigger string

const (
	TriggerStart    Trigger = "start"
	TriggerTimer    Trigger = "timer"
	TriggerMutation Trigger = "mutation"
)

// Scheduler owns the Stopped/Running state. No other component changes it.
type Scheduler struct {
	extractor  Extractor
	dispatcher Dispatcher
	changes    ChangeSource
	detector   *mutation.Detector
	newTicker  func(time.Duration) Ticker
	newID      idgen.Generator
	logger     *slog.Logger
	ctx        context.Context

	mu       sync.Mutex
	state    State
	run      uint64 // incremented on every Start
	interval time.Duration
	stopLoop context.CancelFunc
	unsub    func()

	cycles sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithChangeSource sets the mutation feed. Without one, only the timer
// triggers cycles.
func WithChangeSource(cs ChangeSource) Option {
	return func(s *Scheduler) { s.changes = cs }
}

// WithDetector sets the value-change filter. Default: mutation.NewDetector("").
func WithDetector(d *mutation.Detector) Option {
	return func(s *Scheduler) { s.detector = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithTicker replaces the repeating timer factory.
func WithTicker(f func(time.Duration) Ticker) Option {
	return func(s *Scheduler) { s.newTicker = f }
}

// WithIDGenerator sets the cycle ID strategy. Default: idgen.Default.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Scheduler) { s.newID = g }
}

// WithContext sets the context cycles run under. Cycles outlive Stop, so
// this should be the process context, not a per-run one.
func WithContext(ctx context.Context) Option {
	return func(s *Scheduler) { s.ctx = ctx }
}

// New creates a stopped Scheduler.
func New(ext Extractor, disp Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		extractor:  ext,
		dispatcher: disp,
		detector:   mutation.NewDetector(""),
		newTicker:  newTimeTicker,
		newID:      idgen.Default,
		logger:     slog.Default(),
		ctx:        context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Interval returns the timer period of the current or last run.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Start moves Stopped to Running: it initiates one cycle immediately, arms
// the repeating timer, then subscribes to DOM changes. It returns false
// and changes nothing when already running. Intervals below one second
// fall back to the default.
func (s *Scheduler) Start(intervalSeconds int) bool {
	if intervalSeconds < 1 {
		intervalSeconds = syncconfig.DefaultInterval
	}
	interval := time.Duration(intervalSeconds) * time.Second

	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		return false
	}
	s.state = Running
	s.interval = interval
	s.run++
	run := s.run

	s.spawnLocked(TriggerStart)

	loopCtx, cancel := context.WithCancel(s.ctx)
	s.stopLoop = cancel
	go s.loop(loopCtx, s.newTicker(interval), run)
	s.mu.Unlock()

	s.logger.Info("scheduler: started", "interval", interval)

	if s.changes == nil {
		return true
	}
	// Subscribe outside the lock: a source may deliver a batch before
	// Subscribe returns.
	unsub, err := s.changes.Subscribe(loopCtx, func(batch []mutation.Record) {
		s.onMutations(run, batch)
	})
	if err != nil {
		s.logger.Warn("scheduler: change subscription failed, timer only", "error", err)
		return true
	}

	s.mu.Lock()
	if s.state == Running && s.run == run {
		s.unsub = unsub
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	// Stopped while subscribing.
	unsub()
	return true
}

// Stop disarms the timer and detaches the change feed. In-flight cycles
// complete. It returns false when already stopped.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return false
	}
	s.state = Stopped
	unsub := s.unsub
	s.unsub = nil
	if s.stopLoop != nil {
		s.stopLoop()
		s.stopLoop = nil
	}
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.logger.Info("scheduler: stopped")
	return true
}

// Wait blocks until every in-flight cycle has finished.
func (s *Scheduler) Wait() {
	s.cycles.Wait()
}

func (s *Scheduler) loop(ctx context.Context, ticker Ticker, run uint64) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.trigger(TriggerTimer, run)
		}
	}
}

func (s *Scheduler) onMutations(run uint64, batch []mutation.Record) {
	if s.detector.Relevant(batch) {
		s.trigger(TriggerMutation, run)
	}
}

// trigger starts a cycle for run unless that run has ended. A tick or
// batch already in flight when Stop was called belongs to the old run
// and is dropped even if a new run started since.
func (s *Scheduler) trigger(t Trigger, run uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running || s.run != run {
		return
	}
	s.spawnLocked(t)
}

func (s *Scheduler) spawnLocked(t Trigger) {
	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		s.runCycle(t)
	}()
}

// runCycle extracts and dispatches one Snapshot. Failures end the cycle,
// never the scheduler.
func (s *Scheduler) runCycle(t Trigger) {
	logger := s.logger.With("cycle", s.newID(), "trigger", string(t))

	snap, err := s.extractor.Extract(s.ctx)
	if err != nil {
		logger.Warn("scheduler: extraction failed", "error", err)
		return
	}

	out := s.dispatcher.Dispatch(s.ctx, snap)
	logger.Debug("scheduler: cycle complete",
		"devices", len(snap.Devices),
		"cached", out.Cached, "sent", out.Sent, "attempted", out.Attempted)
}
