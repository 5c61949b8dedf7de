// Package status tracks the daemon's runtime health so consumers can tell
// "backend unreachable" apart from "no new messages".
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/veilmsg/veil/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting  State = "BOOTING"
	Ready    State = "READY"
	Degraded State = "DEGRADED"
	Error    State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:  {Ready, Degraded, Error},
	Ready:    {Degraded, Error},
	Degraded: {Ready, Error},
	Error:    {Booting},
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Booting.
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

// Transition attempts to move to a new state. Returns an error when the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// ReportBackendError records a failed backend round trip. Safe on a nil
// receiver so components can run without a machine in tests.
func (m *Machine) ReportBackendError() {
	if m == nil {
		return
	}
	_ = m.Transition(Degraded)
}

// ReportBackendOK records a successful backend round trip.
func (m *Machine) ReportBackendOK() {
	if m == nil {
		return
	}
	if m.Current() == Degraded || m.Current() == Booting {
		_ = m.Transition(Ready)
	}
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
