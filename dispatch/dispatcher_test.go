package dispatch

import (
	"sync"
	"testing"

	"linuxhal-go/types"
)

func TestGPIODeliveryInRegistrationOrder(t *testing.T) {
	d := New()

	var order []int
	d.RegisterGPIO(17, func(pin int, v types.PinValue) { order = append(order, 1) })
	d.RegisterGPIO(17, func(pin int, v types.PinValue) { order = append(order, 2) })
	d.RegisterGPIO(27, func(pin int, v types.PinValue) { order = append(order, 99) })

	d.InvokeGPIO(17, types.High)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("delivery order = %v, want [1 2]", order)
	}
}

func TestGPIOHandlerReceivesPinAndValue(t *testing.T) {
	d := New()

	var gotPin int
	var gotVal types.PinValue
	d.RegisterGPIO(4, func(pin int, v types.PinValue) {
		gotPin, gotVal = pin, v
	})

	d.InvokeGPIO(4, types.Low)
	if gotPin != 4 || gotVal != types.Low {
		t.Fatalf("handler saw pin=%d value=%v", gotPin, gotVal)
	}
}

func TestUnregisterGPIO(t *testing.T) {
	d := New()

	calls := 0
	id := d.RegisterGPIO(5, func(int, types.PinValue) { calls++ })

	if !d.UnregisterGPIO(id) {
		t.Fatal("UnregisterGPIO returned false for live id")
	}
	if d.UnregisterGPIO(id) {
		t.Fatal("UnregisterGPIO returned true for dead id")
	}
	if d.UnregisterGPIO(12345) {
		t.Fatal("UnregisterGPIO returned true for unknown id")
	}

	d.InvokeGPIO(5, types.High)
	if calls != 0 {
		t.Fatalf("removed handler was called %d times", calls)
	}
}

func TestUnregisterDuringInvoke(t *testing.T) {
	d := New()

	var idB uint64
	aCalls, bCalls := 0, 0
	d.RegisterGPIO(7, func(int, types.PinValue) {
		aCalls++
		d.UnregisterGPIO(idB) // removes b before the walk reaches it
	})
	idB = d.RegisterGPIO(7, func(int, types.PinValue) { bCalls++ })

	d.InvokeGPIO(7, types.High)
	if aCalls != 1 {
		t.Fatalf("a called %d times, want 1", aCalls)
	}
	if bCalls != 0 {
		t.Fatalf("b called %d times after in-flight unregister, want 0", bCalls)
	}
}

func TestRegisterDuringInvokeDefersToNextRound(t *testing.T) {
	d := New()

	lateCalls := 0
	d.RegisterGPIO(8, func(int, types.PinValue) {
		d.RegisterGPIO(8, func(int, types.PinValue) { lateCalls++ })
	})

	d.InvokeGPIO(8, types.High)
	if lateCalls != 0 {
		t.Fatalf("handler registered mid-invoke ran in the same round")
	}
	d.InvokeGPIO(8, types.High)
	if lateCalls != 1 {
		t.Fatalf("late handler called %d times on next round, want 1", lateCalls)
	}
}

func TestTimerDomain(t *testing.T) {
	d := New()

	ticks := 0
	id := d.RegisterTimer(3, func() { ticks++ })

	d.InvokeTimer(3)
	d.InvokeTimer(99) // unknown timer id: no-op
	if ticks != 1 {
		t.Fatalf("ticks = %d, want 1", ticks)
	}

	if !d.UnregisterTimer(id) {
		t.Fatal("UnregisterTimer returned false for live id")
	}
	d.InvokeTimer(3)
	if ticks != 1 {
		t.Fatalf("ticks after unregister = %d, want 1", ticks)
	}
}

func TestSubscriptionIDsSharedAcrossDomains(t *testing.T) {
	d := New()

	a := d.RegisterGPIO(1, func(int, types.PinValue) {})
	b := d.RegisterTimer(1, func() {})
	if a == b {
		t.Fatalf("gpio and timer subscriptions share id %d", a)
	}
	// A timer id never resolves in the gpio domain and vice versa.
	if d.UnregisterGPIO(b) {
		t.Fatal("timer subscription removed through gpio domain")
	}
	if d.UnregisterTimer(a) {
		t.Fatal("gpio subscription removed through timer domain")
	}
}

func TestClearAll(t *testing.T) {
	d := New()

	calls := 0
	d.RegisterGPIO(2, func(int, types.PinValue) { calls++ })
	d.RegisterTimer(2, func() { calls++ })

	d.ClearAll()
	d.InvokeGPIO(2, types.High)
	d.InvokeTimer(2)
	if calls != 0 {
		t.Fatalf("handlers survived ClearAll: %d calls", calls)
	}
}

func TestConcurrentRegisterInvoke(t *testing.T) {
	d := New()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				id := d.RegisterGPIO(9, func(int, types.PinValue) {})
				d.InvokeGPIO(9, types.High)
				d.UnregisterGPIO(id)
			}
		}()
	}
	wg.Wait()

	// All balanced: nothing left on pin 9.
	if got := d.gpio.snapshot(9); got != nil {
		t.Fatalf("leftover subscriptions: %v", got)
	}
}
