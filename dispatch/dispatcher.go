// dispatch/dispatcher.go
package dispatch

import (
	"sync"
	"sync/atomic"

	"linuxhal-go/types"
)

// Dispatcher routes asynchronous hardware events to subscriber callbacks.
// Two keyed domains exist: GPIO callbacks keyed by pin number and timer
// callbacks keyed by timer id. The domains use independent locks, so there
// is no cross-domain ordering guarantee; within one key, delivery follows
// registration order. Subscription ids come from one shared counter, so an
// id identifies a subscription in exactly one domain.
type Dispatcher struct {
	nextID atomic.Uint64
	gpio   table[int, types.InterruptCallback]
	timer  table[uint32, types.TimerCallback]
}

func New() *Dispatcher {
	d := &Dispatcher{}
	d.gpio.init()
	d.timer.init()
	return d
}

// RegisterGPIO subscribes handler to edge events on pin.
func (d *Dispatcher) RegisterGPIO(pin int, handler types.InterruptCallback) uint64 {
	id := d.nextID.Add(1)
	d.gpio.register(id, pin, handler)
	return id
}

// UnregisterGPIO removes a GPIO subscription. Unknown ids return false.
// An invocation already in flight still runs to completion, but the handler
// is not called again once this returns.
func (d *Dispatcher) UnregisterGPIO(id uint64) bool {
	return d.gpio.unregister(id)
}

// InvokeGPIO delivers value to every handler currently subscribed to pin,
// in registration order, outside any dispatcher lock. Handlers may register
// or unregister subscriptions from within the call; such changes take effect
// for subsequent invocations only.
func (d *Dispatcher) InvokeGPIO(pin int, value types.PinValue) {
	for _, id := range d.gpio.snapshot(pin) {
		if fn, ok := d.gpio.handler(id); ok && fn != nil {
			fn(pin, value)
		}
	}
}

// RegisterTimer subscribes handler to ticks of timerID.
func (d *Dispatcher) RegisterTimer(timerID uint32, handler types.TimerCallback) uint64 {
	id := d.nextID.Add(1)
	d.timer.register(id, timerID, handler)
	return id
}

// UnregisterTimer removes a timer subscription. Unknown ids return false.
func (d *Dispatcher) UnregisterTimer(id uint64) bool {
	return d.timer.unregister(id)
}

// InvokeTimer delivers a tick to every handler subscribed to timerID.
func (d *Dispatcher) InvokeTimer(timerID uint32) {
	for _, id := range d.timer.snapshot(timerID) {
		if fn, ok := d.timer.handler(id); ok && fn != nil {
			fn()
		}
	}
}

// ClearAll drops every subscription in both domains.
func (d *Dispatcher) ClearAll() {
	d.gpio.clear()
	d.timer.clear()
}

// table is one keyed subscription domain. byKey preserves insertion order
// per key; byID resolves a subscription back to its key and handler.
type table[K comparable, H any] struct {
	mu    sync.RWMutex
	byID  map[uint64]entry[K, H]
	byKey map[K][]uint64
}

type entry[K comparable, H any] struct {
	key K
	fn  H
}

func (t *table[K, H]) init() {
	t.byID = map[uint64]entry[K, H]{}
	t.byKey = map[K][]uint64{}
}

func (t *table[K, H]) register(id uint64, key K, fn H) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[id] = entry[K, H]{key: key, fn: fn}
	t.byKey[key] = append(t.byKey[key], id)
}

func (t *table[K, H]) unregister(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)

	ids := t.byKey[e.key]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(t.byKey, e.key)
	} else {
		t.byKey[e.key] = ids
	}
	return true
}

// snapshot copies the id list for key under a short read lock. Invocation
// walks the copy, so handlers mutating the table cannot deadlock against
// the dispatcher.
func (t *table[K, H]) snapshot(key K) []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := t.byKey[key]
	if len(ids) == 0 {
		return nil
	}
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

// handler copies the handler value for id under a short read lock. A
// subscription removed after the snapshot is simply skipped here.
func (t *table[K, H]) handler(id uint64) (H, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byID[id]
	return e.fn, ok
}

func (t *table[K, H]) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.byID)
	clear(t.byKey)
}
