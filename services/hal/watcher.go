// services/hal/watcher.go
package hal

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"linuxhal-go/dispatch"
	"linuxhal-go/types"
)

// EdgeEvent is one detected transition on a watched pin.
type EdgeEvent struct {
	Pin   int
	Edge  types.Edge
	Value types.PinValue
	TS    time.Time
}

// EdgeSource feeds detected edges for one pin into its watcher goroutine.
// The Linux GPIO backend implements it over gpiocdev line events; tests
// drive it directly.
type EdgeSource interface {
	Events() <-chan EdgeEvent
}

// pinWatch tracks one pin's live watcher goroutine.
type pinWatch struct {
	pin      int
	edge     atomic.Uint32 // types.Edge
	active   atomic.Bool
	invert   atomic.Bool
	debounce atomic.Int64 // ns; 0 disables
	lastNs   atomic.Int64 // monotonic ns of the last delivered edge
}

// Watcher owns the per-pin interrupt goroutines. Each goroutine performs a
// bounded wait on its EdgeSource so the shutdown flag is rechecked at a
// fixed cadence even with no hardware activity, and forwards matching edges
// into the dispatcher's GPIO domain. At most one goroutine is live per pin;
// watching a pin again reuses the existing one.
type Watcher struct {
	disp *dispatch.Dispatcher
	poll time.Duration

	shutdown chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	watches map[int]*pinWatch
	closed  bool
}

const defaultWatchPoll = 100 * time.Millisecond

func NewWatcher(d *dispatch.Dispatcher) *Watcher {
	return &Watcher{
		disp:     d,
		poll:     defaultWatchPoll,
		shutdown: make(chan struct{}),
		watches:  map[int]*pinWatch{},
	}
}

// Watch arms edge forwarding for pin from src. Edges closer together than
// debounce are suppressed; invert flips the logical level (and therefore the
// edge sense) before filtering. If the pin already has a live watcher
// goroutine it is reused and only the settings are updated; otherwise one
// goroutine is spawned.
func (w *Watcher) Watch(pin int, edge types.Edge, debounce time.Duration, invert bool, src EdgeSource) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	pw := w.watches[pin]
	fresh := pw == nil
	if fresh {
		pw = &pinWatch{pin: pin}
		w.watches[pin] = pw
	}
	pw.edge.Store(uint32(edge))
	pw.debounce.Store(int64(debounce))
	pw.invert.Store(invert)
	pw.active.Store(true)

	if fresh {
		w.wg.Add(1)
		go w.run(pw, src)
	}
}

// Unwatch disarms forwarding for pin. The goroutine stays parked on its
// source until Close so a later Watch can reuse it. Returns false if the
// pin has no armed watch.
func (w *Watcher) Unwatch(pin int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	pw := w.watches[pin]
	if pw == nil || !pw.active.Load() {
		return false
	}
	pw.active.Store(false)
	return true
}

// Active reports whether pin currently has an armed watch.
func (w *Watcher) Active(pin int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	pw := w.watches[pin]
	return pw != nil && pw.active.Load()
}

func (w *Watcher) run(pw *pinWatch, src EdgeSource) {
	defer w.wg.Done()

	t := time.NewTimer(w.poll)
	defer t.Stop()

	for {
		resetTimer(t, w.poll)
		select {
		case <-w.shutdown:
			return
		case <-t.C:
			// Timeout: recheck shutdown at a fixed cadence.
		case ev, ok := <-src.Events():
			if !ok {
				return
			}
			if !pw.active.Load() {
				continue
			}
			if pw.invert.Load() {
				ev = invertEvent(ev)
			}
			want := types.Edge(pw.edge.Load())
			if want != types.EdgeBoth && want != ev.Edge {
				continue
			}
			if deb := pw.debounce.Load(); deb > 0 {
				now := time.Now().UnixNano()
				if now-pw.lastNs.Load() < deb {
					continue
				}
				pw.lastNs.Store(now)
			}
			w.disp.InvokeGPIO(ev.Pin, ev.Value)
		}
	}
}

// invertEvent flips the logical level and the edge sense.
func invertEvent(ev EdgeEvent) EdgeEvent {
	if ev.Value == types.High {
		ev.Value = types.Low
	} else {
		ev.Value = types.High
	}
	switch ev.Edge {
	case types.EdgeRising:
		ev.Edge = types.EdgeFalling
	case types.EdgeFalling:
		ev.Edge = types.EdgeRising
	}
	return ev
}

// resetTimer re-arms t for the next bounded wait, draining a fired but
// unread tick first.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}

// Close sets the shutdown flag and joins every watcher goroutine. Owners
// must call it before destroying pin state; the join-before-free ordering
// is mandatory, not advisory.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.shutdown)
	n := len(w.watches)
	w.mu.Unlock()

	w.wg.Wait()
	if n > 0 {
		Logger().Debug("interrupt watchers joined", zap.Int("pins", n))
	}
}
