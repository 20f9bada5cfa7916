package hal

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"linuxhal-go/bus"
	"linuxhal-go/dispatch"
	"linuxhal-go/errcode"
	"linuxhal-go/resource"
)

// fake peripheral wired through the real builder path

type fakePeriph struct {
	id     string
	polls  atomic.Uint32
	closed atomic.Bool
	fail   bool
}

func (p *fakePeriph) ID() string { return p.id }
func (p *fakePeriph) Poll() error {
	p.polls.Add(1)
	return nil
}
func (p *fakePeriph) Close() error {
	p.closed.Store(true)
	return nil
}

type fakeBuilder struct{}

func (fakeBuilder) Build(in BuildInput) (Peripheral, error) {
	var params struct {
		Fail bool `json:"fail"`
	}
	if err := decodeJSON(in.Params, &params); err != nil {
		return nil, err
	}
	if params.Fail {
		return nil, errors.New("simulated probe failure")
	}
	return &fakePeriph{id: in.ID}, nil
}

func init() {
	RegisterBuilder("fakedev", fakeBuilder{})
}

func newTestService(t *testing.T) (*Service, *bus.Broker) {
	t.Helper()
	broker := bus.NewBroker(8)
	conn := broker.NewConnection("hal")
	svc := NewService(resource.NewRegistry(), dispatch.New(), conn, 2*time.Millisecond)
	return svc, broker
}

func TestApplyBuildsAndPolls(t *testing.T) {
	svc, _ := newTestService(t)
	defer svc.Close()

	cfg := Config{Devices: []DevCfg{{ID: "dev0", Type: "fakedev"}}}
	if err := svc.Apply(cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	p, ok := svc.Peripheral("dev0")
	if !ok {
		t.Fatal("dev0 missing after Apply")
	}
	fp := p.(*fakePeriph)

	svc.Engine().Start()
	deadline := time.After(500 * time.Millisecond)
	for fp.polls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("pollable peripheral never polled")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestApplyUnknownTypeFails(t *testing.T) {
	svc, _ := newTestService(t)
	defer svc.Close()

	cfg := Config{Devices: []DevCfg{
		{ID: "ok0", Type: "fakedev"},
		{ID: "bad", Type: "flux-capacitor"},
	}}
	err := svc.Apply(cfg)
	if err == nil {
		t.Fatal("Apply accepted an unknown device type")
	}
	if errcode.Of(err) != errcode.InvalidType {
		t.Fatalf("error code = %v, want %v", errcode.Of(err), errcode.InvalidType)
	}
	// Devices built before the failure stay up.
	if _, ok := svc.Peripheral("ok0"); !ok {
		t.Fatal("ok0 torn down by a later failure")
	}
}

func TestApplyBuildErrorSkipsDevice(t *testing.T) {
	svc, _ := newTestService(t)
	defer svc.Close()

	cfg := Config{Devices: []DevCfg{
		{ID: "broken", Type: "fakedev", Params: map[string]any{"fail": true}},
		{ID: "fine", Type: "fakedev"},
	}}
	if err := svc.Apply(cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := svc.Peripheral("broken"); ok {
		t.Fatal("failed build left a peripheral behind")
	}
	if _, ok := svc.Peripheral("fine"); !ok {
		t.Fatal("later device skipped after an earlier build error")
	}
}

func TestApplyIsIdempotentPerDevice(t *testing.T) {
	svc, _ := newTestService(t)
	defer svc.Close()

	cfg := Config{Devices: []DevCfg{{ID: "dev0", Type: "fakedev"}}}
	if err := svc.Apply(cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	p1, _ := svc.Peripheral("dev0")
	if err := svc.Apply(cfg); err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	p2, _ := svc.Peripheral("dev0")
	if p1 != p2 {
		t.Fatal("re-applying the same config rebuilt the device")
	}
}

func TestApplyTidiesRemovedDevices(t *testing.T) {
	svc, _ := newTestService(t)
	defer svc.Close()

	if err := svc.Apply(Config{Devices: []DevCfg{{ID: "dev0", Type: "fakedev"}}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	p, _ := svc.Peripheral("dev0")
	fp := p.(*fakePeriph)

	if err := svc.Apply(Config{}); err != nil {
		t.Fatalf("empty Apply: %v", err)
	}
	if _, ok := svc.Peripheral("dev0"); ok {
		t.Fatal("dev0 survived an empty config")
	}
	if !fp.closed.Load() {
		t.Fatal("removed device not closed")
	}
}

func TestCloseStopsEngineAndDevices(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.Apply(Config{Devices: []DevCfg{{ID: "dev0", Type: "fakedev"}}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	p, _ := svc.Peripheral("dev0")
	fp := p.(*fakePeriph)

	svc.Engine().Start()
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if svc.Engine().State() != Stopped {
		t.Fatal("engine not stopped by Close")
	}
	if !fp.closed.Load() {
		t.Fatal("peripheral not closed by Close")
	}
}

func TestTimerDeviceThroughBuilder(t *testing.T) {
	svc, _ := newTestService(t)
	defer svc.Close()

	cfg := Config{Devices: []DevCfg{{
		ID:   "tick0",
		Type: "timer",
		Params: map[string]any{
			"timer_id":    7,
			"mode":        "periodic",
			"interval_us": 5000,
			"auto_start":  true,
		},
	}}}

	var ticks atomic.Uint32
	svc.Dispatcher().RegisterTimer(7, func() { ticks.Add(1) })

	if err := svc.Apply(cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	deadline := time.After(time.Second)
	for ticks.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timer ticks = %d, want >= 2", ticks.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The timer is tracked as a resource until the device closes.
	if got := svc.Registry().Count(); got != 1 {
		t.Fatalf("registry count = %d, want 1", got)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := svc.Registry().Count(); got != 0 {
		t.Fatalf("registry count after Close = %d, want 0", got)
	}
}
