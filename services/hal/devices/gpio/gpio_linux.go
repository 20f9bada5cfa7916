// services/hal/devices/gpio/gpio_linux.go
package gpio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/zap"

	"linuxhal-go/dispatch"
	"linuxhal-go/errcode"
	"linuxhal-go/resource"
	"linuxhal-go/services/hal"
	"linuxhal-go/types"
)

func init() {
	hal.RegisterBuilder("gpio", builder{})
}

// Params is the config shape for the GPIO backend. Pins listed here are
// requested up front; others are requested lazily on first use.
type Params struct {
	Chip string   `json:"chip"` // e.g. "gpiochip0"
	Pins []PinCfg `json:"pins,omitempty"`
}

type PinCfg struct {
	Pin        int    `json:"pin"`
	Direction  string `json:"direction"`      // "in" | "out"
	Pull       string `json:"pull,omitempty"` // "up" | "down" | "none"
	DebounceMS int    `json:"debounce_ms,omitempty"`
	Invert     bool   `json:"invert,omitempty"`
}

type builder struct{}

func (builder) Build(in hal.BuildInput) (hal.Peripheral, error) {
	var p Params
	if err := hal.DecodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	if p.Chip == "" {
		p.Chip = "gpiochip0"
	}
	b := New(in.ID, p.Chip, in.Registry, in.Dispatcher)
	for _, pc := range p.Pins {
		dir := types.Input
		if pc.Direction == "out" {
			dir = types.Output
		}
		if err := b.configure(pc.Pin, dir, types.ParsePull(pc.Pull)); err != nil {
			b.Close()
			return nil, err
		}
		b.mu.Lock()
		if ps := b.pins[pc.Pin]; ps != nil {
			ps.debounce = time.Duration(pc.DebounceMS) * time.Millisecond
			ps.invert = pc.Invert
		}
		b.mu.Unlock()
	}
	return b, nil
}

// Backend drives GPIO lines through the Linux GPIO character device.
// Each configured pin is tracked in the resource registry; interrupt edges
// flow from the kernel event handler through a bounded channel into the
// shared per-pin watcher, which fans out via the dispatcher.
type Backend struct {
	id      string
	chip    string
	reg     *resource.Registry
	disp    *dispatch.Dispatcher
	watcher *hal.Watcher

	mu   sync.Mutex
	pins map[int]*pinState

	drops atomic.Uint32 // event-handler drop counter
}

type pinState struct {
	pin        int
	line       *gpiocdev.Line
	dir        types.PinDirection
	debounce   time.Duration
	invert     bool
	resourceID uint64
	callbackID uint64
	events     chan hal.EdgeEvent
}

// Events feeds this pin's watcher goroutine.
func (p *pinState) Events() <-chan hal.EdgeEvent { return p.events }

func New(id, chip string, reg *resource.Registry, disp *dispatch.Dispatcher) *Backend {
	return &Backend{
		id:      id,
		chip:    chip,
		reg:     reg,
		disp:    disp,
		watcher: hal.NewWatcher(disp),
		pins:    map[int]*pinState{},
	}
}

func (b *Backend) ID() string { return b.id }

// SetDirection configures pin as input or output, requesting the line and
// registering the resource on first use.
func (b *Backend) SetDirection(pin int, dir types.PinDirection) error {
	return b.configure(pin, dir, types.PullNone)
}

func (b *Backend) configure(pin int, dir types.PinDirection, pull types.Pull) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.pins[pin]
	if ps == nil {
		opts := []gpiocdev.LineReqOption{lineOption(dir), gpiocdev.WithConsumer(b.id)}
		switch pull {
		case types.PullUp:
			opts = append(opts, gpiocdev.WithPullUp)
		case types.PullDown:
			opts = append(opts, gpiocdev.WithPullDown)
		}
		line, err := gpiocdev.RequestLine(b.chip, pin, opts...)
		if err != nil {
			return errcode.Wrap(errcode.UnknownPin, "gpio.SetDirection", err)
		}
		b.track(pin, line, dir)
		return nil
	}

	if err := ps.line.Reconfigure(reconfigureOption(dir)); err != nil {
		return errcode.Wrap(errcode.Error, "gpio.SetDirection", err)
	}
	ps.dir = dir
	return nil
}

// Write drives an output pin.
func (b *Backend) Write(pin int, v types.PinValue) error {
	ps, err := b.lookup(pin)
	if err != nil {
		return err
	}
	g := b.reg.Acquire(ps.resourceID)
	defer g.Release()

	if err := ps.line.SetValue(v.Int()); err != nil {
		return errcode.Wrap(errcode.Error, "gpio.Write", err)
	}
	return nil
}

// Read samples the current logic level.
func (b *Backend) Read(pin int) (types.PinValue, error) {
	ps, err := b.lookup(pin)
	if err != nil {
		return types.Low, err
	}
	g := b.reg.Acquire(ps.resourceID)
	defer g.Release()

	v, err := ps.line.Value()
	if err != nil {
		return types.Low, errcode.Wrap(errcode.Error, "gpio.Read", err)
	}
	return types.LevelOf(v), nil
}

// Toggle inverts an output pin.
func (b *Backend) Toggle(pin int) error {
	v, err := b.Read(pin)
	if err != nil {
		return err
	}
	if v == types.High {
		return b.Write(pin, types.Low)
	}
	return b.Write(pin, types.High)
}

// SetInterrupt arms edge detection on pin and subscribes cb through the
// dispatcher. The line is requested with both edges and the watcher filters
// to the requested trigger, so re-arming with a different edge needs no new
// kernel request. A pin that already has a live watcher goroutine reuses it.
func (b *Backend) SetInterrupt(pin int, edge types.Edge, cb types.InterruptCallback) error {
	if edge == types.EdgeNone {
		return errcode.Wrap(errcode.Unsupported, "gpio.SetInterrupt", nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.pins[pin]
	if ps != nil && ps.events == nil {
		// Requested earlier without edge detection; re-request with events.
		_ = ps.line.Close()
		ps.line = nil
	}

	if ps == nil || ps.line == nil {
		events := make(chan hal.EdgeEvent, 32)
		handler := func(evt gpiocdev.LineEvent) {
			ev := hal.EdgeEvent{Pin: pin, Edge: types.EdgeRising, Value: types.High, TS: time.Now()}
			if evt.Type == gpiocdev.LineEventFallingEdge {
				ev.Edge = types.EdgeFalling
				ev.Value = types.Low
			}
			select {
			case events <- ev:
			default:
				b.drops.Add(1) // never block the kernel event goroutine
			}
		}
		line, err := gpiocdev.RequestLine(b.chip, pin,
			gpiocdev.AsInput,
			gpiocdev.WithBothEdges,
			gpiocdev.WithEventHandler(handler),
			gpiocdev.WithConsumer(b.id),
		)
		if err != nil {
			return errcode.Wrap(errcode.UnknownPin, "gpio.SetInterrupt", err)
		}
		if ps == nil {
			ps = b.track(pin, line, types.Input)
		} else {
			ps.line = line
			ps.dir = types.Input
		}
		ps.events = events
	}

	if ps.callbackID != 0 {
		b.disp.UnregisterGPIO(ps.callbackID)
	}
	ps.callbackID = b.disp.RegisterGPIO(pin, cb)

	b.watcher.Watch(pin, edge, ps.debounce, ps.invert, ps)
	return nil
}

// RemoveInterrupt disarms edge forwarding for pin and unsubscribes its
// callback. The watcher goroutine stays parked for reuse until Close.
func (b *Backend) RemoveInterrupt(pin int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.pins[pin]
	if ps == nil {
		return errcode.Wrap(errcode.UnknownPin, "gpio.RemoveInterrupt", nil)
	}
	if !b.watcher.Unwatch(pin) {
		return errcode.Wrap(errcode.NotRunning, "gpio.RemoveInterrupt", nil)
	}
	if ps.callbackID != 0 {
		b.disp.UnregisterGPIO(ps.callbackID)
		ps.callbackID = 0
	}
	return nil
}

// Drops reports events discarded because a pin's queue was full.
func (b *Backend) Drops() uint32 { return b.drops.Load() }

// Close joins every watcher goroutine first, then releases lines and
// registry records. The join must precede pin teardown: a watcher still
// running against freed pin state would deliver into destroyed metadata.
func (b *Backend) Close() error {
	b.watcher.Close()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ps := range b.pins {
		if ps.callbackID != 0 {
			b.disp.UnregisterGPIO(ps.callbackID)
		}
		if ps.line != nil {
			if err := ps.line.Close(); err != nil {
				hal.Logger().Warn("gpio line close failed",
					zap.Int("pin", ps.pin), zap.Error(err))
			}
		}
		b.reg.SetInUse(ps.resourceID, false)
		b.reg.Release(ps.resourceID)
		b.reg.Unregister(ps.resourceID)
	}
	clear(b.pins)
	return nil
}

// track registers pin with the resource registry and records its state.
// Caller holds b.mu.
func (b *Backend) track(pin int, line *gpiocdev.Line, dir types.PinDirection) *pinState {
	ps := &pinState{pin: pin, line: line, dir: dir}
	ps.resourceID = b.reg.Register(types.KindGPIOPin, fmt.Sprintf("GPIO%d", pin), pin)
	b.reg.SetInUse(ps.resourceID, true)
	b.pins[pin] = ps
	return ps
}

func (b *Backend) lookup(pin int) (*pinState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ps := b.pins[pin]
	if ps == nil {
		return nil, errcode.Wrap(errcode.UnknownPin, "gpio", nil)
	}
	return ps, nil
}

func lineOption(dir types.PinDirection) gpiocdev.LineReqOption {
	if dir == types.Output {
		return gpiocdev.AsOutput(0)
	}
	return gpiocdev.AsInput
}

func reconfigureOption(dir types.PinDirection) gpiocdev.LineConfigOption {
	if dir == types.Output {
		return gpiocdev.AsOutput(0)
	}
	return gpiocdev.AsInput
}

var _ hal.GPIO = (*Backend)(nil)
