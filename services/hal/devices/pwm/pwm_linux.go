// services/hal/devices/pwm/pwm_linux.go
package pwm

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"linuxhal-go/errcode"
	"linuxhal-go/resource"
	"linuxhal-go/services/hal"
	"linuxhal-go/types"
)

func init() {
	hal.RegisterBuilder("pwm", builder{})
}

// sysfsRoot is a var so tests can point the backend at a fake tree.
var sysfsRoot = "/sys/class/pwm"

// Params is the config shape for a PWM channel.
type Params struct {
	Chip    int `json:"chip"`
	Channel int `json:"channel"`
	types.PWMConfig
}

type builder struct{}

func (builder) Build(in hal.BuildInput) (hal.Peripheral, error) {
	var p Params
	if err := hal.DecodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	ch, err := Open(in.ID, p.Chip, p.Channel, in.Registry)
	if err != nil {
		return nil, err
	}
	if p.PeriodNs > 0 {
		if err := ch.Configure(p.PWMConfig); err != nil {
			ch.Close()
			return nil, err
		}
	}
	return ch, nil
}

// Channel is one output of a sysfs PWM chip.
type Channel struct {
	id         string
	chip       int
	channel    int
	base       string // .../pwmchipN/pwmM
	reg        *resource.Registry
	resourceID uint64
	exported   bool
}

func Open(id string, chip, channel int, reg *resource.Registry) (*Channel, error) {
	chipDir := filepath.Join(sysfsRoot, fmt.Sprintf("pwmchip%d", chip))
	c := &Channel{
		id:      id,
		chip:    chip,
		channel: channel,
		base:    filepath.Join(chipDir, fmt.Sprintf("pwm%d", channel)),
		reg:     reg,
	}

	if _, err := os.Stat(c.base); err != nil {
		if err := writeAttr(filepath.Join(chipDir, "export"), strconv.Itoa(channel)); err != nil {
			return nil, errcode.Wrap(errcode.UnknownBus, "pwm.Open", err)
		}
		c.exported = true
		// Give udev a beat to create the attribute files.
		for i := 0; i < 10; i++ {
			if _, err := os.Stat(c.base); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	c.resourceID = reg.Register(types.KindPWMChannel,
		fmt.Sprintf("PWM%d.%d", chip, channel), channel)
	reg.SetInUse(c.resourceID, true)
	return c, nil
}

func (c *Channel) ID() string { return c.id }

// Configure sets period then duty. Period first: the kernel rejects a duty
// cycle longer than the current period.
func (c *Channel) Configure(cfg types.PWMConfig) error {
	g := c.reg.Acquire(c.resourceID)
	defer g.Release()

	if err := writeAttr(filepath.Join(c.base, "period"), strconv.FormatUint(cfg.PeriodNs, 10)); err != nil {
		return errcode.Wrap(errcode.Error, "pwm.Configure", err)
	}
	if err := writeAttr(filepath.Join(c.base, "duty_cycle"), strconv.FormatUint(cfg.DutyNs, 10)); err != nil {
		return errcode.Wrap(errcode.Error, "pwm.Configure", err)
	}
	return nil
}

// SetDuty changes the duty cycle without touching the period.
func (c *Channel) SetDuty(dutyNs uint64) error {
	g := c.reg.Acquire(c.resourceID)
	defer g.Release()

	if err := writeAttr(filepath.Join(c.base, "duty_cycle"), strconv.FormatUint(dutyNs, 10)); err != nil {
		return errcode.Wrap(errcode.Error, "pwm.SetDuty", err)
	}
	return nil
}

// Enable switches the output on or off.
func (c *Channel) Enable(on bool) error {
	g := c.reg.Acquire(c.resourceID)
	defer g.Release()

	v := "0"
	if on {
		v = "1"
	}
	if err := writeAttr(filepath.Join(c.base, "enable"), v); err != nil {
		return errcode.Wrap(errcode.Error, "pwm.Enable", err)
	}
	return nil
}

func (c *Channel) Close() error {
	_ = c.Enable(false)
	c.reg.SetInUse(c.resourceID, false)
	c.reg.Release(c.resourceID)
	c.reg.Unregister(c.resourceID)
	if c.exported {
		chipDir := filepath.Join(sysfsRoot, fmt.Sprintf("pwmchip%d", c.chip))
		return writeAttr(filepath.Join(chipDir, "unexport"), strconv.Itoa(c.channel))
	}
	return nil
}

func writeAttr(path, v string) error {
	return os.WriteFile(path, []byte(v), 0o644)
}

var _ hal.PWM = (*Channel)(nil)
