// services/hal/timer_device.go
package hal

import (
	"linuxhal-go/timer"
	"linuxhal-go/types"
)

func init() {
	RegisterBuilder("timer", timerBuilder{})
}

// TimerParams is the config shape for a timer device.
type TimerParams struct {
	TimerID    uint32 `json:"timer_id"`
	Mode       string `json:"mode"` // "periodic" | "one_shot"
	IntervalUs uint64 `json:"interval_us"`
	AutoStart  bool   `json:"auto_start,omitempty"`
}

type timerBuilder struct{}

func (timerBuilder) Build(in BuildInput) (Peripheral, error) {
	var p TimerParams
	if err := decodeJSON(in.Params, &p); err != nil {
		return nil, err
	}

	mode := types.Periodic
	if p.Mode == "one_shot" {
		mode = types.OneShot
	}

	eng := timer.New()
	eng.Init(mode)
	eng.SetInterval(p.IntervalUs)

	d := &timerDevice{
		id:      in.ID,
		eng:     eng,
		timerID: p.TimerID,
		in:      in,
	}
	d.resourceID = in.Registry.Register(types.KindTimer, "TIMER"+in.ID, eng)
	in.Registry.SetInUse(d.resourceID, true)

	if p.AutoStart {
		BindTimer(eng, in.Dispatcher, p.TimerID, p.IntervalUs)
	}
	return d, nil
}

// timerDevice wraps a timer engine as a managed peripheral whose ticks fan
// out through the dispatcher's timer domain.
type timerDevice struct {
	id         string
	eng        *timer.Engine
	timerID    uint32
	resourceID uint64
	in         BuildInput
}

func (d *timerDevice) ID() string { return d.id }

// Engine exposes the underlying timer control surface.
func (d *timerDevice) Engine() Timer { return d.eng }

// Start binds the engine's ticks to this device's timer id.
func (d *timerDevice) Start(intervalUs uint64) bool {
	return BindTimer(d.eng, d.in.Dispatcher, d.timerID, intervalUs)
}

func (d *timerDevice) Close() error {
	d.eng.Stop()
	d.in.Registry.SetInUse(d.resourceID, false)
	d.in.Registry.Release(d.resourceID)
	d.in.Registry.Unregister(d.resourceID)
	return nil
}
