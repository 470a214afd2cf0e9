// Package status tracks the daemon lifecycle.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/parley/internal/bus"
)

// State represents a daemon lifecycle state.
type State string

const (
	Booting  State = "BOOTING"
	Serving  State = "SERVING"
	Draining State = "DRAINING"
	Stopped  State = "STOPPED"
	Failed   State = "FAILED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:  {Serving, Failed},
	Serving:  {Draining, Failed},
	Draining: {Stopped, Failed},
	Failed:   {Stopped},
	Stopped:  {},
}

// Machine tracks and enforces daemon lifecycle transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Accepting reports whether new client connections should be admitted.
func (m *Machine) Accepting() bool {
	return m.Current() == Serving
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindDaemonStatus, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
