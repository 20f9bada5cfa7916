// services/hal/devices/i2c/i2c_linux.go
package i2c

import (
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"

	"linuxhal-go/errcode"
	"linuxhal-go/resource"
	"linuxhal-go/services/hal"
	"linuxhal-go/types"
)

func init() {
	hal.RegisterBuilder("i2c", builder{})
}

var hostOnce sync.Once

// Params is the config shape for an I2C bus.
type Params struct {
	Bus string `json:"bus"` // e.g. "/dev/i2c-1", "1", or "" for the default
}

type builder struct{}

func (builder) Build(in hal.BuildInput) (hal.Peripheral, error) {
	var p Params
	if err := hal.DecodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	return Open(in.ID, p.Bus, in.Registry)
}

// Bus is an I2C master on a Linux i2c-dev bus. It satisfies the drivers.I2C
// transaction interface, so device drivers written against it work unchanged.
type Bus struct {
	id         string
	name       string
	bus        i2c.BusCloser
	reg        *resource.Registry
	resourceID uint64
}

func Open(id, name string, reg *resource.Registry) (*Bus, error) {
	hostOnce.Do(func() { _, _ = host.Init() })

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, errcode.Wrap(errcode.UnknownBus, "i2c.Open", err)
	}
	b := &Bus{id: id, name: name, bus: bus, reg: reg}
	b.resourceID = reg.Register(types.KindI2CBus, "I2C:"+name, bus)
	reg.SetInUse(b.resourceID, true)
	return b, nil
}

func (b *Bus) ID() string { return b.id }

// Tx runs a write-then-read transaction against addr.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	g := b.reg.Acquire(b.resourceID)
	defer g.Release()

	if err := b.bus.Tx(addr, w, r); err != nil {
		return errcode.Wrap(errcode.Error, "i2c.Tx", err)
	}
	return nil
}

// ReadRegister reads n bytes starting at reg on the device at addr.
func (b *Bus) ReadRegister(addr uint16, reg uint8, buf []byte) error {
	return b.Tx(addr, []byte{reg}, buf)
}

// WriteRegister writes buf to reg on the device at addr.
func (b *Bus) WriteRegister(addr uint16, reg uint8, buf []byte) error {
	w := make([]byte, 1+len(buf))
	w[0] = reg
	copy(w[1:], buf)
	return b.Tx(addr, w, nil)
}

func (b *Bus) Close() error {
	b.reg.SetInUse(b.resourceID, false)
	b.reg.Release(b.resourceID)
	b.reg.Unregister(b.resourceID)
	return b.bus.Close()
}

var _ drivers.I2C = (*Bus)(nil)
var _ hal.I2C = (*Bus)(nil)
