package hal

import (
	"testing"
	"time"

	"linuxhal-go/dispatch"
	"linuxhal-go/types"
)

// fakeSource stands in for a kernel edge source.
type fakeSource struct {
	ch chan EdgeEvent
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan EdgeEvent, 8)}
}

func (s *fakeSource) Events() <-chan EdgeEvent { return s.ch }

func (s *fakeSource) emit(pin int, edge types.Edge, v types.PinValue) {
	s.ch <- EdgeEvent{Pin: pin, Edge: edge, Value: v, TS: time.Now()}
}

func recvPin(t *testing.T, ch <-chan types.PinValue, d time.Duration) (types.PinValue, bool) {
	t.Helper()
	select {
	case v := <-ch:
		return v, true
	case <-time.After(d):
		return 0, false
	}
}

func TestWatcherDeliversMatchingEdge(t *testing.T) {
	d := dispatch.New()
	w := NewWatcher(d)
	defer w.Close()

	got := make(chan types.PinValue, 4)
	d.RegisterGPIO(17, func(pin int, v types.PinValue) { got <- v })

	src := newFakeSource()
	w.Watch(17, types.EdgeRising, 0, false, src)

	src.emit(17, types.EdgeRising, types.High)
	if v, ok := recvPin(t, got, 200*time.Millisecond); !ok || v != types.High {
		t.Fatalf("rising edge not delivered (ok=%v v=%v)", ok, v)
	}

	// Falling is filtered out for a rising-only watch.
	src.emit(17, types.EdgeFalling, types.Low)
	if _, ok := recvPin(t, got, 30*time.Millisecond); ok {
		t.Fatal("falling edge delivered to a rising-only watch")
	}
}

func TestWatcherEdgeBothPassesEverything(t *testing.T) {
	d := dispatch.New()
	w := NewWatcher(d)
	defer w.Close()

	got := make(chan types.PinValue, 4)
	d.RegisterGPIO(5, func(pin int, v types.PinValue) { got <- v })

	src := newFakeSource()
	w.Watch(5, types.EdgeBoth, 0, false, src)

	src.emit(5, types.EdgeRising, types.High)
	src.emit(5, types.EdgeFalling, types.Low)

	if v, ok := recvPin(t, got, 200*time.Millisecond); !ok || v != types.High {
		t.Fatalf("first edge: ok=%v v=%v", ok, v)
	}
	if v, ok := recvPin(t, got, 200*time.Millisecond); !ok || v != types.Low {
		t.Fatalf("second edge: ok=%v v=%v", ok, v)
	}
}

func TestUnwatchDisarmsWithoutKillingGoroutine(t *testing.T) {
	d := dispatch.New()
	w := NewWatcher(d)
	defer w.Close()

	got := make(chan types.PinValue, 4)
	d.RegisterGPIO(7, func(pin int, v types.PinValue) { got <- v })

	src := newFakeSource()
	w.Watch(7, types.EdgeBoth, 0, false, src)

	if !w.Unwatch(7) {
		t.Fatal("Unwatch returned false for an armed pin")
	}
	if w.Unwatch(7) {
		t.Fatal("second Unwatch returned true")
	}
	if w.Active(7) {
		t.Fatal("pin still active after Unwatch")
	}

	src.emit(7, types.EdgeRising, types.High)
	if _, ok := recvPin(t, got, 30*time.Millisecond); ok {
		t.Fatal("event delivered after Unwatch")
	}

	// Re-arming reuses the parked goroutine; delivery resumes.
	w.Watch(7, types.EdgeBoth, 0, false, src)
	src.emit(7, types.EdgeFalling, types.Low)
	if v, ok := recvPin(t, got, 200*time.Millisecond); !ok || v != types.Low {
		t.Fatalf("delivery after re-arm: ok=%v v=%v", ok, v)
	}
}

func TestUnwatchUnknownPin(t *testing.T) {
	w := NewWatcher(dispatch.New())
	defer w.Close()
	if w.Unwatch(42) {
		t.Fatal("Unwatch returned true for a pin never watched")
	}
}

func TestWatcherEdgeUpdateOnRewatch(t *testing.T) {
	d := dispatch.New()
	w := NewWatcher(d)
	defer w.Close()

	got := make(chan types.PinValue, 4)
	d.RegisterGPIO(9, func(pin int, v types.PinValue) { got <- v })

	src := newFakeSource()
	w.Watch(9, types.EdgeRising, 0, false, src)
	w.Watch(9, types.EdgeFalling, 0, false, src) // same pin, new trigger

	src.emit(9, types.EdgeRising, types.High)
	if _, ok := recvPin(t, got, 30*time.Millisecond); ok {
		t.Fatal("rising delivered after trigger switched to falling")
	}
	src.emit(9, types.EdgeFalling, types.Low)
	if v, ok := recvPin(t, got, 200*time.Millisecond); !ok || v != types.Low {
		t.Fatalf("falling not delivered: ok=%v v=%v", ok, v)
	}
}

func TestWatcherDebounceSuppressesBursts(t *testing.T) {
	d := dispatch.New()
	w := NewWatcher(d)
	defer w.Close()

	got := make(chan types.PinValue, 8)
	d.RegisterGPIO(11, func(pin int, v types.PinValue) { got <- v })

	src := newFakeSource()
	w.Watch(11, types.EdgeBoth, 50*time.Millisecond, false, src)

	// A contact-bounce burst: only the first edge survives the window.
	src.emit(11, types.EdgeRising, types.High)
	src.emit(11, types.EdgeFalling, types.Low)
	src.emit(11, types.EdgeRising, types.High)

	if v, ok := recvPin(t, got, 200*time.Millisecond); !ok || v != types.High {
		t.Fatalf("first edge: ok=%v v=%v", ok, v)
	}
	if _, ok := recvPin(t, got, 30*time.Millisecond); ok {
		t.Fatal("bounce delivered inside the debounce window")
	}

	// After the window a new edge goes through.
	time.Sleep(60 * time.Millisecond)
	src.emit(11, types.EdgeFalling, types.Low)
	if v, ok := recvPin(t, got, 200*time.Millisecond); !ok || v != types.Low {
		t.Fatalf("edge after window: ok=%v v=%v", ok, v)
	}
}

func TestWatcherInvertFlipsLevelAndEdge(t *testing.T) {
	d := dispatch.New()
	w := NewWatcher(d)
	defer w.Close()

	got := make(chan types.PinValue, 4)
	d.RegisterGPIO(13, func(pin int, v types.PinValue) { got <- v })

	// Active-low input: a physical falling edge is a logical rising one.
	src := newFakeSource()
	w.Watch(13, types.EdgeRising, 0, true, src)

	src.emit(13, types.EdgeFalling, types.Low)
	if v, ok := recvPin(t, got, 200*time.Millisecond); !ok || v != types.High {
		t.Fatalf("inverted falling edge: ok=%v v=%v", ok, v)
	}

	// A physical rising edge is logically falling: filtered out.
	src.emit(13, types.EdgeRising, types.High)
	if _, ok := recvPin(t, got, 30*time.Millisecond); ok {
		t.Fatal("physical rising edge passed a logical-rising filter under invert")
	}
}

func TestWatcherCloseJoins(t *testing.T) {
	d := dispatch.New()
	w := NewWatcher(d)

	got := make(chan types.PinValue, 4)
	d.RegisterGPIO(3, func(pin int, v types.PinValue) { got <- v })

	src := newFakeSource()
	w.Watch(3, types.EdgeBoth, 0, false, src)

	w.Close()
	w.Close() // idempotent

	// After Close returns every goroutine has exited: nothing consumes src.
	src.emit(3, types.EdgeRising, types.High)
	if _, ok := recvPin(t, got, 30*time.Millisecond); ok {
		t.Fatal("event delivered after Close")
	}

	// Watch after Close is a no-op.
	w.Watch(4, types.EdgeBoth, 0, false, newFakeSource())
	if w.Active(4) {
		t.Fatal("Watch armed a pin on a closed watcher")
	}
}
