// services/hal/devices/adc/adc_linux.go
package adc

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"linuxhal-go/errcode"
	"linuxhal-go/resource"
	"linuxhal-go/services/hal"
	"linuxhal-go/types"
)

func init() {
	hal.RegisterBuilder("adc", builder{})
}

// sysfsRoot is a var so tests can point the backend at a fake tree.
var sysfsRoot = "/sys/bus/iio/devices"

const adcMaxCount = 1<<12 - 1 // 12-bit converter

// Params is the config shape for an IIO ADC device.
type Params struct {
	Device int `json:"device"` // iio:deviceN index
	types.ADCConfig
}

type builder struct{}

func (builder) Build(in hal.BuildInput) (hal.Peripheral, error) {
	var p Params
	if err := hal.DecodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	return Open(in.ID, p.Device, p.ADCConfig, in.Registry)
}

// Device reads raw samples from an Industrial I/O ADC. Continuous sampling
// runs on a dedicated goroutine that is joined before StopContinuous returns.
type Device struct {
	id         string
	device     int
	base       string
	cfg        types.ADCConfig
	reg        *resource.Registry
	resourceID uint64

	sampling atomic.Bool
	mu       sync.Mutex // guards stop/done
	stop     chan struct{}
	done     chan struct{}
}

func Open(id string, device int, cfg types.ADCConfig, reg *resource.Registry) (*Device, error) {
	base := filepath.Join(sysfsRoot, fmt.Sprintf("iio:device%d", device))
	if _, err := os.Stat(base); err != nil {
		return nil, errcode.Wrap(errcode.UnknownBus, "adc.Open", err)
	}
	d := &Device{id: id, device: device, base: base, cfg: cfg, reg: reg}
	d.resourceID = reg.Register(types.KindADCChannel, fmt.Sprintf("ADC%d", device), device)
	reg.SetInUse(d.resourceID, true)
	return d, nil
}

func (d *Device) ID() string { return d.id }

// ReadRaw samples channel once.
func (d *Device) ReadRaw(channel int) (uint16, error) {
	g := d.reg.Acquire(d.resourceID)
	defer g.Release()

	b, err := os.ReadFile(filepath.Join(d.base, fmt.Sprintf("in_voltage%d_raw", channel)))
	if err != nil {
		return 0, errcode.Wrap(errcode.Error, "adc.ReadRaw", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, errcode.Wrap(errcode.Error, "adc.ReadRaw", err)
	}
	if v < 0 {
		v = 0
	}
	if v > adcMaxCount {
		v = adcMaxCount
	}
	return uint16(v), nil
}

// Millivolts converts a raw sample using the configured reference.
func (d *Device) Millivolts(raw uint16) uint32 {
	ref := d.cfg.ReferenceMv
	if ref == 0 {
		ref = 3300
	}
	return uint32(raw) * ref / adcMaxCount
}

// StartContinuous samples channel at the configured rate, delivering each
// reading to cb from the sampler goroutine. One sampler per device.
func (d *Device) StartContinuous(channel int, cb types.ADCSampleCallback) error {
	if !d.sampling.CompareAndSwap(false, true) {
		return errcode.Wrap(errcode.AlreadyRunning, "adc.StartContinuous", nil)
	}

	rate := d.cfg.SamplingRate
	if rate == 0 {
		rate = 1000
	}
	period := time.Second / time.Duration(rate)

	stop := make(chan struct{})
	done := make(chan struct{})
	d.mu.Lock()
	d.stop, d.done = stop, done
	d.mu.Unlock()

	go func() {
		defer close(done)
		defer d.sampling.Store(false)

		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				raw, err := d.ReadRaw(channel)
				if err != nil {
					continue // transient sysfs read failure, keep cadence
				}
				cb(channel, raw)
			}
		}
	}()
	return nil
}

// StopContinuous signals the sampler and waits for it to exit.
func (d *Device) StopContinuous() error {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop = nil
	d.mu.Unlock()

	if stop == nil {
		return errcode.Wrap(errcode.NotRunning, "adc.StopContinuous", nil)
	}
	close(stop)
	<-done
	return nil
}

// Poll lets the state engine verify the converter still answers.
func (d *Device) Poll() error {
	_, err := d.ReadRaw(0)
	return err
}

func (d *Device) Close() error {
	if d.sampling.Load() {
		_ = d.StopContinuous()
	}
	d.reg.SetInUse(d.resourceID, false)
	d.reg.Release(d.resourceID)
	d.reg.Unregister(d.resourceID)
	return nil
}

var _ hal.ADC = (*Device)(nil)
var _ hal.Pollable = (*Device)(nil)
