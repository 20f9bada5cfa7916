// services/hal/hal.go
package hal

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"linuxhal-go/bus"
	"linuxhal-go/dispatch"
	"linuxhal-go/errcode"
	"linuxhal-go/resource"
	"linuxhal-go/timer"
	"linuxhal-go/x/timex"
)

// Service owns the peripheral backends built from config and the state
// engine that exercises them. The registry and dispatcher are injected so
// the caller decides their scope; the service never creates hidden globals.
type Service struct {
	reg    *resource.Registry
	disp   *dispatch.Dispatcher
	conn   *bus.Connection // optional
	engine *StateEngine

	mu      sync.Mutex
	periphs map[string]Peripheral
}

func NewService(reg *resource.Registry, disp *dispatch.Dispatcher, conn *bus.Connection, cadence time.Duration) *Service {
	return &Service{
		reg:     reg,
		disp:    disp,
		conn:    conn,
		engine:  NewStateEngine(cadence, conn),
		periphs: map[string]Peripheral{},
	}
}

func (s *Service) Engine() *StateEngine             { return s.engine }
func (s *Service) Registry() *resource.Registry     { return s.reg }
func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.disp }

// Apply builds the peripherals cfg names and tears down the ones it no
// longer lists. Already-present ids are kept as-is (simple idempotence).
// An unknown device type fails with errcode.InvalidType; peripherals built
// before the failure stay up, the caller owns partial completion. Build
// errors on known types are logged, published, and skipped.
func (s *Service) Apply(cfg Config) error {
	seen := map[string]struct{}{}

	for _, d := range cfg.Devices {
		seen[d.ID] = struct{}{}

		s.mu.Lock()
		_, exists := s.periphs[d.ID]
		s.mu.Unlock()
		if exists {
			continue
		}

		b, ok := findBuilder(d.Type)
		if !ok {
			return errcode.Wrap(errcode.InvalidType, "hal.Apply",
				fmt.Errorf("device %q type %q", d.ID, d.Type))
		}

		p, err := b.Build(BuildInput{
			ID:         d.ID,
			Params:     d.Params,
			Registry:   s.reg,
			Dispatcher: s.disp,
		})
		if err != nil {
			Logger().Warn("device build failed",
				zap.String("id", d.ID), zap.String("type", d.Type), zap.Error(err))
			s.pubRet(bus.Topic{"hal", "device", d.ID, "state"},
				map[string]any{"link": "down", "error": err.Error(), "ts_ms": timex.NowMs()})
			continue
		}

		s.mu.Lock()
		s.periphs[d.ID] = p
		s.mu.Unlock()

		if pb, ok := p.(Pollable); ok {
			s.engine.Attach(d.ID, pb.Poll)
		}
		s.pubRet(bus.Topic{"hal", "device", d.ID, "state"},
			map[string]any{"link": "up", "type": d.Type, "ts_ms": timex.NowMs()})
	}

	// Tidy-up: close devices not in config.
	s.mu.Lock()
	var drop []Peripheral
	for id, p := range s.periphs {
		if _, ok := seen[id]; ok {
			continue
		}
		drop = append(drop, p)
		delete(s.periphs, id)
	}
	s.mu.Unlock()

	for _, p := range drop {
		s.engine.Detach(p.ID())
		if err := p.Close(); err != nil {
			Logger().Warn("device close failed", zap.String("id", p.ID()), zap.Error(err))
		}
		s.pubRet(bus.Topic{"hal", "device", p.ID(), "state"}, nil)
	}
	return nil
}

// Peripheral returns the backend built for id.
func (s *Service) Peripheral(id string) (Peripheral, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.periphs[id]
	return p, ok
}

// Close stops the state engine, then closes every peripheral. Backends
// unregister their own resources and join their own worker goroutines.
func (s *Service) Close() error {
	s.engine.Stop()

	s.mu.Lock()
	periphs := s.periphs
	s.periphs = map[string]Peripheral{}
	s.mu.Unlock()

	var firstErr error
	for id, p := range periphs {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = errcode.Wrap(errcode.Of(err), "hal.Close "+id, err)
		}
	}
	return firstErr
}

func (s *Service) pubRet(t bus.Topic, p any) {
	if s.conn == nil {
		return
	}
	s.conn.Publish(s.conn.NewMessage(t, p, true))
}

// BindTimer starts eng so that every tick fans out through the dispatcher's
// timer domain for timerID; subscribers attach via Dispatcher.RegisterTimer.
// Returns false if eng is already running.
func BindTimer(eng *timer.Engine, d *dispatch.Dispatcher, timerID uint32, intervalUs uint64) bool {
	return eng.Start(intervalUs, func() { d.InvokeTimer(timerID) })
}
