// services/hal/devices/spi/spi_linux.go
package spi

import (
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"

	"linuxhal-go/errcode"
	"linuxhal-go/resource"
	"linuxhal-go/services/hal"
	"linuxhal-go/types"
)

func init() {
	hal.RegisterBuilder("spi", builder{})
}

var hostOnce sync.Once

// Params is the config shape for an SPI port.
type Params struct {
	Port     string `json:"port"`     // e.g. "/dev/spidev0.0"
	MaxSpeed uint32 `json:"max_speed"` // Hz, 0 means 1 MHz
	Mode     uint8  `json:"mode"`     // 0..3
}

type builder struct{}

func (builder) Build(in hal.BuildInput) (hal.Peripheral, error) {
	var p Params
	if err := hal.DecodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	if p.MaxSpeed == 0 {
		p.MaxSpeed = 1_000_000
	}
	return Open(in.ID, p.Port, p.MaxSpeed, types.SPIMode(p.Mode), in.Registry)
}

// Port is a full-duplex SPI master on a Linux spidev port. It satisfies the
// drivers.SPI transaction interface.
type Port struct {
	id         string
	name       string
	port       spi.PortCloser
	conn       spi.Conn
	reg        *resource.Registry
	resourceID uint64
}

func Open(id, name string, hz uint32, mode types.SPIMode, reg *resource.Registry) (*Port, error) {
	hostOnce.Do(func() { _, _ = host.Init() })

	port, err := spireg.Open(name)
	if err != nil {
		return nil, errcode.Wrap(errcode.UnknownBus, "spi.Open", err)
	}
	conn, err := port.Connect(physic.Frequency(hz)*physic.Hertz, spiMode(mode), 8)
	if err != nil {
		port.Close()
		return nil, errcode.Wrap(errcode.Error, "spi.Open", err)
	}
	p := &Port{id: id, name: name, port: port, conn: conn, reg: reg}
	p.resourceID = reg.Register(types.KindSPIBus, "SPI:"+name, port)
	reg.SetInUse(p.resourceID, true)
	return p, nil
}

func (p *Port) ID() string { return p.id }

// Tx clocks w out while reading into r. Either may be nil.
func (p *Port) Tx(w, r []byte) error {
	g := p.reg.Acquire(p.resourceID)
	defer g.Release()

	if err := p.conn.Tx(w, r); err != nil {
		return errcode.Wrap(errcode.Error, "spi.Tx", err)
	}
	return nil
}

// Transfer exchanges a single byte.
func (p *Port) Transfer(b byte) (byte, error) {
	var r [1]byte
	if err := p.Tx([]byte{b}, r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}

func (p *Port) Close() error {
	p.reg.SetInUse(p.resourceID, false)
	p.reg.Release(p.resourceID)
	p.reg.Unregister(p.resourceID)
	return p.port.Close()
}

func spiMode(m types.SPIMode) spi.Mode {
	switch m {
	case types.SPIMode1:
		return spi.Mode1
	case types.SPIMode2:
		return spi.Mode2
	case types.SPIMode3:
		return spi.Mode3
	default:
		return spi.Mode0
	}
}

var _ drivers.SPI = (*Port)(nil)
var _ hal.SPI = (*Port)(nil)
