package status

import (
	"testing"

	"github.com/veilmsg/veil/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Ready},
		{Booting, Degraded},
		{Booting, Error},
		{Ready, Degraded},
		{Degraded, Ready},
		{Error, Booting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)
	if err := m.Transition(Booting); err == nil {
		t.Error("Transition(READY -> BOOTING) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("daemon.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Ready); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindStatusChanged {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != Ready {
		t.Errorf("change = %v -> %v, want BOOTING -> READY", change.From, change.To)
	}
}

// TestBackendHealthCycle simulates the backend dropping and recovering:
// READY -> DEGRADED -> READY.
func TestBackendHealthCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)

	m.ReportBackendError()
	if m.Current() != Degraded {
		t.Errorf("state after error = %s, want DEGRADED", m.Current())
	}

	m.ReportBackendOK()
	if m.Current() != Ready {
		t.Errorf("state after recovery = %s, want READY", m.Current())
	}

	// Repeated success reports are no-ops.
	m.ReportBackendOK()
	if m.Current() != Ready {
		t.Errorf("state = %s, want READY", m.Current())
	}
}

func TestHealthReportsOnNilMachine(t *testing.T) {
	var m *Machine
	// Must be safe no-ops so components can run without a machine.
	m.ReportBackendError()
	m.ReportBackendOK()
}

func TestSelfTransitionIsNoOp(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)
	if err := m.Transition(Ready); err != nil {
		t.Errorf("self transition error = %v, want nil", err)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:  {},
		Ready:    {Ready},
		Degraded: {Ready, Degraded},
		Error:    {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
