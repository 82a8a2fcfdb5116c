// Package syncstatus folds many concurrent remote writes into one busy/idle
// indicator.
//
// Busy turns on when the first operation starts and turns off once no
// operation is in flight and the indicator has been visible for at least the
// configured floor. The indicator is for display only; it carries no
// ordering guarantee between writes.
package syncstatus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultFloor is the minimum time the busy indicator stays visible.
const DefaultFloor = time.Second

// Operation outcomes recorded by Track.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Tracker counts in-flight operations.
type Tracker struct {
	floor  time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	inflight  int
	busy      bool
	busySince time.Time
	timer     *time.Timer
	timerGen  uint64

	listenerMu sync.Mutex
	listeners  map[uint64]func(bool)
	nextID     uint64

	// emitMu keeps listener notifications in transition order.
	emitMu sync.Mutex

	metrics *metrics
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithRegisterer registers the tracker metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(t *Tracker) {
		if reg != nil {
			t.metrics = newMetrics(reg)
		}
	}
}

// New creates a tracker with the given floor. A non-positive floor turns
// busy off as soon as the last operation settles.
func New(floor time.Duration, opts ...Option) *Tracker {
	t := &Tracker{
		floor:     floor,
		logger:    slog.Default(),
		now:       time.Now,
		listeners: make(map[uint64]func(bool)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Begin marks an operation as started. The returned function marks it as
// settled; calling it more than once has no further effect.
func (t *Tracker) Begin() func() {
	t.mu.Lock()
	t.inflight++
	t.stopTimerLocked()
	changed := false
	if !t.busy {
		t.busy = true
		t.busySince = t.now()
		changed = true
	}
	t.metrics.setInflight(t.inflight)
	t.emitLocked(changed, true)

	var once sync.Once
	return func() { once.Do(t.settle) }
}

// Track runs fn as one tracked operation and records its outcome under
// path. The error from fn is returned unchanged.
func (t *Tracker) Track(path string, fn func() error) error {
	done := t.Begin()
	err := fn()
	done()

	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	t.metrics.observe(path, outcome)
	return err
}

// Busy reports the current indicator state.
func (t *Tracker) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busy
}

// InFlight returns the number of unsettled operations.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inflight
}

// OnChange registers fn for every busy/idle transition and returns a
// function that removes it. Listeners must not call back into the tracker.
func (t *Tracker) OnChange(fn func(busy bool)) func() {
	t.listenerMu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.listenerMu.Lock()
			delete(t.listeners, id)
			t.listenerMu.Unlock()
		})
	}
}

func (t *Tracker) settle() {
	t.mu.Lock()
	if t.inflight > 0 {
		t.inflight--
	}
	t.metrics.setInflight(t.inflight)

	if t.inflight > 0 || !t.busy {
		t.mu.Unlock()
		return
	}

	remaining := t.floor - t.now().Sub(t.busySince)
	if remaining <= 0 {
		t.busy = false
		t.emitLocked(true, false)
		return
	}

	t.timerGen++
	gen := t.timerGen
	t.timer = time.AfterFunc(remaining, func() { t.expire(gen) })
	t.mu.Unlock()
}

func (t *Tracker) expire(gen uint64) {
	t.mu.Lock()
	if gen != t.timerGen || t.inflight > 0 || !t.busy {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.busy = false
	t.emitLocked(true, false)
}

func (t *Tracker) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.timerGen++
}

// emitLocked releases t.mu and, when changed, notifies listeners of busy.
// The emit lock is taken before t.mu is released so notifications cannot
// overtake each other.
func (t *Tracker) emitLocked(changed, busy bool) {
	if !changed {
		t.mu.Unlock()
		return
	}
	t.metrics.setBusy(busy)
	t.emitMu.Lock()
	t.mu.Unlock()
	defer t.emitMu.Unlock()

	t.listenerMu.Lock()
	fns := make([]func(bool), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.listenerMu.Unlock()

	t.logger.Debug("Sync status changed", "busy", busy)
	for _, fn := range fns {
		fn(busy)
	}
}
