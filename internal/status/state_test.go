package status

import (
	"testing"

	"github.com/matheus3301/parley/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
	if m.Accepting() {
		t.Error("booting daemon should not accept connections")
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Serving},
		{Booting, Failed},
		{Serving, Draining},
		{Serving, Failed},
		{Draining, Stopped},
		{Failed, Stopped},
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

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Draining},
		{Booting, Stopped},
		{Serving, Booting},
		{Draining, Serving},
		{Stopped, Booting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want %s (unchanged)", m.Current(), tt.from)
			}
		})
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("daemon.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Serving); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindDaemonStatus {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindDaemonStatus)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != Serving {
		t.Errorf("change = %v -> %v, want BOOTING -> SERVING", change.From, change.To)
	}
}

// TestShutdownLifecycle walks the normal run of a daemon:
// BOOTING → SERVING → DRAINING → STOPPED
func TestShutdownLifecycle(t *testing.T) {
	m := NewMachine(nil)

	for _, s := range []State{Serving, Draining, Stopped} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
		if s == Serving && !m.Accepting() {
			t.Error("serving daemon should accept connections")
		}
	}
	if m.Accepting() {
		t.Error("stopped daemon should not accept connections")
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:  {},
		Serving:  {Serving},
		Draining: {Serving, Draining},
		Stopped:  {Serving, Draining, Stopped},
		Failed:   {Failed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
