// timer/engine.go
package timer

import (
	"sync"
	"sync/atomic"
	"time"

	"linuxhal-go/types"
	"linuxhal-go/x/timex"
)

// Engine is one schedulable timer. Start spawns a single goroutine that
// produces ticks; periodic deadlines advance from the previous deadline
// (not from "now"), so callback latency bounds the scheduling error instead
// of compounding it. One-shot timers fire once and clear the running flag
// on their own.
type Engine struct {
	mode     types.TimerMode
	interval atomic.Uint64 // microseconds
	running  atomic.Bool

	mu    sync.Mutex // guards cb, start, stop, done
	cb    types.TimerCallback
	start time.Time
	stop  chan struct{}
	done  chan struct{}
}

func New() *Engine {
	return &Engine{start: time.Now()}
}

// Init selects the timer mode. Call before Start; the mode is not changed
// while a tick goroutine is live.
func (e *Engine) Init(mode types.TimerMode) bool {
	e.mode = mode
	return true
}

// Start records the reference instant and spawns the tick goroutine.
// It fails without spawning if the engine is already running; starts are
// not queued or merged.
func (e *Engine) Start(intervalUs uint64, cb types.TimerCallback) bool {
	if !e.running.CompareAndSwap(false, true) {
		return false
	}
	e.interval.Store(intervalUs)

	e.mu.Lock()
	e.cb = cb
	e.start = time.Now()
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	e.mu.Unlock()

	go e.loop(stop, done)
	return true
}

func (e *Engine) loop(stop, done chan struct{}) {
	defer close(done)
	defer e.running.Store(false)

	interval := timex.Micros(e.interval.Load())

	e.mu.Lock()
	next := e.start
	e.mu.Unlock()

	t := time.NewTimer(interval)
	defer t.Stop()

	for {
		// Deadline from the previous deadline: bounded drift.
		next = next.Add(interval)
		d := time.Until(next)
		if d < 0 {
			d = 0
		}
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		t.Reset(d)

		select {
		case <-stop:
			return
		case <-t.C:
		}

		// Copy the callback under a short lock; never call under it.
		e.mu.Lock()
		cb := e.cb
		e.mu.Unlock()
		if cb != nil {
			cb()
		}

		if e.mode == types.OneShot {
			return
		}
	}
}

// Stop signals the tick goroutine and blocks until it exits. It returns
// false when there is nothing to join (never started, or already stopped).
func (e *Engine) Stop() bool {
	e.mu.Lock()
	stop, done := e.stop, e.done
	e.stop = nil
	e.mu.Unlock()

	if stop == nil {
		return false
	}
	close(stop)
	<-done
	return true
}

// Reset stops a running timer and rebases the elapsed-time reference.
func (e *Engine) Reset() bool {
	if e.running.Load() {
		e.Stop()
	}
	e.mu.Lock()
	e.start = time.Now()
	e.mu.Unlock()
	return true
}

// SetInterval updates the interval. Interval changes require stop/restart;
// it fails while the timer is running.
func (e *Engine) SetInterval(intervalUs uint64) bool {
	if e.running.Load() {
		return false
	}
	e.interval.Store(intervalUs)
	return true
}

// Interval reports the configured interval in microseconds.
func (e *Engine) Interval() uint64 { return e.interval.Load() }

// IsRunning reports whether a tick goroutine is live.
func (e *Engine) IsRunning() bool { return e.running.Load() }

// ElapsedUs reports monotonic microseconds since the last Start or Reset.
func (e *Engine) ElapsedUs() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return timex.SinceUs(e.start)
}

// NowUs reports the current time in microseconds.
func (e *Engine) NowUs() uint64 { return timex.NowUs() }
