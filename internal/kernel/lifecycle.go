package kernel

import (
	"fmt"
	"sync"
)

// State is the kernel's lifecycle state.
type State string

const (
	StateStarting     State = "starting"
	StateIdle         State = "idle"
	StateBusy         State = "busy"
	StateShuttingDown State = "shutting_down"
	StateTerminated   State = "terminated"
)

// Lifecycle guards state transitions:
// starting -> idle <-> busy, (starting|idle|busy) -> shutting_down -> terminated.
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateStarting}
}

func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Ready marks startup complete.
func (l *Lifecycle) Ready() error {
	return l.transition(StateIdle, StateStarting)
}

func (l *Lifecycle) Busy() error {
	return l.transition(StateBusy, StateIdle)
}

func (l *Lifecycle) Idle() error {
	return l.transition(StateIdle, StateBusy)
}

// ShutDown succeeds once; later calls return ErrLifecycleOrder.
func (l *Lifecycle) ShutDown() error {
	return l.transition(StateShuttingDown, StateStarting, StateIdle, StateBusy)
}

func (l *Lifecycle) Terminate() error {
	return l.transition(StateTerminated, StateShuttingDown)
}

func (l *Lifecycle) transition(to State, from ...State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, allowed := range from {
		if l.state == allowed {
			l.state = to
			return nil
		}
	}
	return transitionError(l.state, to)
}

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrLifecycleOrder, from, to)
}
