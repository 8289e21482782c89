package lifecycle

import (
	"fmt"
	"slices"
	"sync"

	"github.com/yanivian/connect-app-sub000/internal/bus"
)

// State is the host application's lifecycle state.
type State string

const (
	Launching  State = "launching"
	Active     State = "active"
	Inactive   State = "inactive"
	Background State = "background"
)

// validTransitions defines allowed lifecycle transitions.
var validTransitions = map[State][]State{
	Launching:  {Active, Background},
	Active:     {Inactive, Background},
	Inactive:   {Active, Background},
	Background: {Active, Inactive},
}

// Parse converts a wire value into a State.
func Parse(s string) (State, error) {
	st := State(s)
	if _, ok := validTransitions[st]; !ok {
		return "", fmt.Errorf("unknown app state %q", s)
	}
	return st, nil
}

// Machine tracks the lifecycle and publishes every change.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine in the Launching state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Launching,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsActive reports whether the app is in the foreground.
func (m *Machine) IsActive() bool {
	return m.Current() == Active
}

// Transition moves to a new state. Setting the current state again is a
// no-op; any other move not in the transition table is an error.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	change := Change{From: m.current, To: to}
	m.current = to
	// Published under the lock so subscribers see changes in order.
	m.bus.Emit(bus.KindAppStateChanged, change)
	return nil
}

// Change is the payload of app.state_changed events.
type Change struct {
	From State
	To   State
}

// Foregrounded reports whether the change is an edge into Active from
// any non-active state.
func (c Change) Foregrounded() bool {
	return c.To == Active && c.From != Active
}
