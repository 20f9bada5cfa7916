// cmd/hal-demo/main.go
//
// hal-demo wires the full service together: bus broker, resource registry,
// callback dispatcher, state engine, and whatever peripherals the config
// names. With no config it runs a software timer that logs each tick, which
// exercises the whole dispatch path without hardware.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"linuxhal-go/bus"
	"linuxhal-go/dispatch"
	"linuxhal-go/resource"
	"linuxhal-go/services/hal"

	// Linux peripheral builders register themselves on import.
	_ "linuxhal-go/services/hal/devices/adc"
	_ "linuxhal-go/services/hal/devices/gpio"
	_ "linuxhal-go/services/hal/devices/i2c"
	_ "linuxhal-go/services/hal/devices/pwm"
	_ "linuxhal-go/services/hal/devices/spi"
	_ "linuxhal-go/services/hal/devices/uart"
)

const defaultConfig = `{
  "version": 1,
  "cadence_ms": 10,
  "devices": [
    {"id": "tick0", "type": "timer",
     "params": {"timer_id": 1, "mode": "periodic", "interval_us": 500000, "auto_start": true}}
  ]
}`

func main() {
	cfgPath := flag.String("config", "", "path to JSON config (blank runs the built-in timer demo)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	log := newLogger(*verbose)
	defer log.Sync()
	hal.SetLogger(log)

	raw := []byte(defaultConfig)
	if *cfgPath != "" {
		b, err := os.ReadFile(*cfgPath)
		if err != nil {
			log.Fatal("read config", zap.String("path", *cfgPath), zap.Error(err))
		}
		raw = b
	}
	cfg, err := hal.ParseConfig(raw)
	if err != nil {
		log.Fatal("parse config", zap.Error(err))
	}

	broker := bus.NewBroker(16)
	conn := broker.NewConnection("hal")
	defer conn.Disconnect()

	reg := resource.NewRegistry()
	disp := dispatch.New()

	cadence := time.Duration(cfg.CadenceMS) * time.Millisecond
	svc := hal.NewService(reg, disp, conn, cadence)

	// Log lifecycle and per-device state changes as the service publishes them.
	mon := broker.NewConnection("monitor")
	defer mon.Disconnect()
	sub := mon.Subscribe(bus.Topic{"hal", bus.Hash})
	go func() {
		for msg := range sub.Channel() {
			log.Info("bus", zap.Any("topic", msg.Topic), zap.Any("payload", msg.Payload))
		}
	}()

	if err := svc.Apply(cfg); err != nil {
		log.Fatal("apply config", zap.Error(err))
	}
	svc.Engine().Start()

	disp.RegisterTimer(1, func() {
		log.Info("tick", zap.String("source", "tick0"))
	})

	log.Info("hal-demo running",
		zap.Int("devices", len(cfg.Devices)),
		zap.Int("resources", reg.Count()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	fmt.Fprintln(os.Stderr)
	log.Info("shutting down", zap.String("signal", s.String()))

	if err := svc.Close(); err != nil {
		log.Warn("close", zap.Error(err))
	}
	reg.ClearAll()
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return log
}
