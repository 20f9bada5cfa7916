// services/hal/state_engine.go
package hal

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"linuxhal-go/bus"
	"linuxhal-go/x/timex"
)

// State is the engine's lifecycle position.
type State uint8

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

type collaborator struct {
	name string
	poll func() error
}

// StateEngine runs one background worker that exercises attached
// collaborators on a fixed cadence. Running is the only state with a live
// worker goroutine; Start and Stop are idempotent, and Stop blocks until
// the worker has fully exited.
type StateEngine struct {
	cadence time.Duration
	conn    *bus.Connection // optional; nil disables publication

	state atomic.Uint32

	mu            sync.Mutex
	cond          *sync.Cond // signals stopRequested
	collabs       []collaborator
	stopReq       chan struct{}
	stopRequested bool
	done          chan struct{}
}

const defaultCadence = 10 * time.Millisecond

func NewStateEngine(cadence time.Duration, conn *bus.Connection) *StateEngine {
	if cadence <= 0 {
		cadence = defaultCadence
	}
	e := &StateEngine{
		cadence: cadence,
		conn:    conn,
		stopReq: make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	e.state.Store(uint32(Idle))
	e.publishState(Idle)
	return e
}

// Attach registers a collaborator poll function exercised each cycle.
func (e *StateEngine) Attach(name string, poll func() error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collabs = append(e.collabs, collaborator{name: name, poll: poll})
}

// Detach removes a collaborator by name.
func (e *StateEngine) Detach(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, c := range e.collabs {
		if c.name == name {
			e.collabs = append(e.collabs[:i], e.collabs[i+1:]...)
			return
		}
	}
}

// Start spawns the worker. Calling it while already running is a no-op.
func (e *StateEngine) Start() {
	e.mu.Lock()
	if State(e.state.Load()) == Running {
		e.mu.Unlock()
		return
	}
	e.stopReq = make(chan struct{})
	e.stopRequested = false
	e.done = make(chan struct{})
	stopReq, done := e.stopReq, e.done
	e.state.Store(uint32(Running))
	e.mu.Unlock()

	e.publishState(Running)
	Logger().Info("state engine started", zap.Duration("cadence", e.cadence))

	go e.loop(stopReq, done)
}

func (e *StateEngine) loop(stopReq, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(e.cadence)
	defer t.Stop()

	for {
		select {
		case <-stopReq:
			return
		case <-t.C:
			e.pollCollaborators()
		}
	}
}

func (e *StateEngine) pollCollaborators() {
	e.mu.Lock()
	collabs := make([]collaborator, len(e.collabs))
	copy(collabs, e.collabs)
	e.mu.Unlock()

	for _, c := range collabs {
		if err := c.poll(); err != nil {
			Logger().Warn("collaborator poll failed",
				zap.String("name", c.name), zap.Error(err))
		}
	}
}

// Stop signals the worker and blocks until it has fully exited, then
// transitions to Stopped. A no-op when not running.
func (e *StateEngine) Stop() {
	e.mu.Lock()
	if State(e.state.Load()) != Running {
		e.mu.Unlock()
		return
	}
	if !e.stopRequested {
		e.stopRequested = true
		close(e.stopReq)
		e.cond.Broadcast()
	}
	done := e.done
	e.mu.Unlock()

	<-done
	e.state.Store(uint32(Stopped))
	e.publishState(Stopped)
	Logger().Info("state engine stopped")
}

// State reports the current lifecycle position. After Stop returns it is
// Stopped, never a transient value.
func (e *StateEngine) State() State {
	return State(e.state.Load())
}

// WaitForStop blocks until a stop has been requested, independent of
// whether the worker has finished joining. Waiting on the flag rather than
// a captured channel keeps a waiter that parked before Start alive across
// the channel swap Start performs.
func (e *StateEngine) WaitForStop() {
	e.mu.Lock()
	for !e.stopRequested {
		e.cond.Wait()
	}
	e.mu.Unlock()
}

func (e *StateEngine) publishState(s State) {
	if e.conn == nil {
		return
	}
	e.conn.Publish(e.conn.NewMessage(
		bus.Topic{"hal", "state"},
		map[string]any{"level": s.String(), "ts_ms": timex.NowMs()},
		true,
	))
}
