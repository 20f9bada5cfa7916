// types/types.go
package types

// Shared value types for the HAL core and the Linux peripheral backends.

// ResourceKind classifies a tracked hardware handle.
type ResourceKind uint8

const (
	KindFileDescriptor ResourceKind = iota
	KindGPIOPin
	KindSPIBus
	KindI2CBus
	KindUARTPort
	KindPWMChannel
	KindTimer
	KindADCChannel
)

func (k ResourceKind) String() string {
	switch k {
	case KindFileDescriptor:
		return "fd"
	case KindGPIOPin:
		return "gpio_pin"
	case KindSPIBus:
		return "spi_bus"
	case KindI2CBus:
		return "i2c_bus"
	case KindUARTPort:
		return "uart_port"
	case KindPWMChannel:
		return "pwm_channel"
	case KindTimer:
		return "timer"
	case KindADCChannel:
		return "adc_channel"
	default:
		return "unknown"
	}
}

// PinDirection selects input or output for a GPIO pin.
type PinDirection uint8

const (
	Input PinDirection = iota
	Output
)

// PinValue is a sampled logic level.
type PinValue uint8

const (
	Low PinValue = iota
	High
)

func (v PinValue) Int() int {
	if v == High {
		return 1
	}
	return 0
}

// Pull selects the pin bias.
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Edge selects the interrupt trigger condition.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	default:
		return "none"
	}
}

// TimerMode selects one-shot or periodic operation.
type TimerMode uint8

const (
	OneShot TimerMode = iota
	Periodic
)

// SPIMode is the clock polarity/phase pair.
type SPIMode uint8

const (
	SPIMode0 SPIMode = iota // CPOL=0, CPHA=0
	SPIMode1                // CPOL=0, CPHA=1
	SPIMode2                // CPOL=1, CPHA=0
	SPIMode3                // CPOL=1, CPHA=1
)

// UARTConfig is the termios subset the UART backend honours.
type UARTConfig struct {
	BaudRate      uint32 `json:"baud_rate"`
	DataBits      uint8  `json:"data_bits"`
	StopBits      uint8  `json:"stop_bits"`
	Parity        bool   `json:"parity"`
	ReadTimeoutMS int    `json:"read_timeout_ms,omitempty"`
}

// ADCConfig describes one IIO device.
type ADCConfig struct {
	ReferenceMv  uint32 `json:"reference_mv"`
	SamplingRate uint32 `json:"sampling_rate"` // Hz, continuous mode
}

// PWMConfig describes one sysfs PWM channel.
type PWMConfig struct {
	PeriodNs uint64 `json:"period_ns"`
	DutyNs   uint64 `json:"duty_ns"`
}

// Callback signatures delivered by the dispatcher and samplers.
type (
	InterruptCallback func(pin int, value PinValue)
	TimerCallback     func()
	ADCSampleCallback func(channel int, raw uint16)
)
