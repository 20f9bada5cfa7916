// services/hal/types.go
package hal

import (
	"io"

	"tinygo.org/x/drivers"

	"linuxhal-go/types"
)

// Peripheral is the narrow contract the service keeps for every backend.
type Peripheral interface {
	ID() string
	Close() error
}

// Pollable peripherals are exercised by the state engine each cycle.
type Pollable interface {
	Poll() error
}

// GPIO is the pin capability set. Backends must not deliver interrupt
// callbacks after RemoveInterrupt returns, and must join their watcher
// goroutines before Close returns.
type GPIO interface {
	SetDirection(pin int, dir types.PinDirection) error
	Write(pin int, v types.PinValue) error
	Read(pin int) (types.PinValue, error)
	Toggle(pin int) error
	SetInterrupt(pin int, edge types.Edge, cb types.InterruptCallback) error
	RemoveInterrupt(pin int) error
}

// SPI is a full-duplex transfer capability (tinygo drivers contract).
type SPI interface {
	drivers.SPI
}

// I2C is a combined write/read transaction capability (tinygo drivers
// contract); safe for concurrent callers.
type I2C interface {
	drivers.I2C
}

// UART is a byte-stream capability.
type UART interface {
	io.ReadWriter
	Flush() error
}

// PWM drives one output channel.
type PWM interface {
	Configure(cfg types.PWMConfig) error
	SetDuty(dutyNs uint64) error
	Enable(on bool) error
}

// ADC samples voltage channels, one-shot or continuously.
type ADC interface {
	ReadRaw(channel int) (uint16, error)
	StartContinuous(channel int, cb types.ADCSampleCallback) error
	StopContinuous() error
}

// Timer is the application-facing control surface of one timer instance.
type Timer interface {
	Init(mode types.TimerMode) bool
	Start(intervalUs uint64, cb types.TimerCallback) bool
	Stop() bool
	Reset() bool
	SetInterval(intervalUs uint64) bool
	Interval() uint64
	IsRunning() bool
	ElapsedUs() uint64
	NowUs() uint64
}
