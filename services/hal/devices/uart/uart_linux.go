// services/hal/devices/uart/uart_linux.go
package uart

import (
	"time"

	"github.com/tarm/serial"

	"linuxhal-go/errcode"
	"linuxhal-go/resource"
	"linuxhal-go/services/hal"
	"linuxhal-go/types"
)

func init() {
	hal.RegisterBuilder("uart", builder{})
}

// Params is the config shape for a UART port.
type Params struct {
	Device string `json:"device"` // e.g. "/dev/ttyUSB0"
	types.UARTConfig
}

type builder struct{}

func (builder) Build(in hal.BuildInput) (hal.Peripheral, error) {
	var p Params
	if err := hal.DecodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	return Open(in.ID, p.Device, p.UARTConfig, in.Registry)
}

// Port is a serial port opened through the OS tty layer.
type Port struct {
	id         string
	dev        string
	port       *serial.Port
	reg        *resource.Registry
	resourceID uint64
}

func Open(id, dev string, cfg types.UARTConfig, reg *resource.Registry) (*Port, error) {
	sc := &serial.Config{Name: dev, Baud: int(cfg.BaudRate)}
	if sc.Baud == 0 {
		sc.Baud = 115200
	}
	if cfg.DataBits > 0 {
		sc.Size = byte(cfg.DataBits)
	}
	if cfg.StopBits == 2 {
		sc.StopBits = serial.Stop2
	} else {
		sc.StopBits = serial.Stop1
	}
	if cfg.Parity {
		sc.Parity = serial.ParityEven
	} else {
		sc.Parity = serial.ParityNone
	}
	if cfg.ReadTimeoutMS > 0 {
		sc.ReadTimeout = time.Duration(cfg.ReadTimeoutMS) * time.Millisecond
	}

	port, err := serial.OpenPort(sc)
	if err != nil {
		return nil, errcode.Wrap(errcode.UnknownBus, "uart.Open", err)
	}
	p := &Port{id: id, dev: dev, port: port, reg: reg}
	p.resourceID = reg.Register(types.KindUARTPort, "UART:"+dev, port)
	reg.SetInUse(p.resourceID, true)
	return p, nil
}

func (p *Port) ID() string { return p.id }

func (p *Port) Read(b []byte) (int, error) {
	g := p.reg.Acquire(p.resourceID)
	defer g.Release()
	return p.port.Read(b)
}

func (p *Port) Write(b []byte) (int, error) {
	g := p.reg.Acquire(p.resourceID)
	defer g.Release()
	return p.port.Write(b)
}

// Flush discards buffered unread input.
func (p *Port) Flush() error {
	return p.port.Flush()
}

func (p *Port) Close() error {
	p.reg.SetInUse(p.resourceID, false)
	p.reg.Release(p.resourceID)
	p.reg.Unregister(p.resourceID)
	return p.port.Close()
}

var _ hal.UART = (*Port)(nil)
