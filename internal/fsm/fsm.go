package fsm

import (
	"errors"
	"fmt"
	"time"
)

// State is one of the five turn states.
type State string

const (
	Idle        State = "IDLE"
	Listening   State = "LISTENING"
	Speculative State = "SPECULATIVE"
	Committed   State = "COMMITTED"
	Speaking    State = "SPEAKING"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// allowed maps each state to the set of states it may transition to.
// IDLE is reachable from every state (error path / teardown).
var allowed = map[State][]State{
	Idle:        {Listening},
	Listening:   {Speculative, Idle},
	Speculative: {Listening, Committed, Idle},
	Committed:   {Speaking, Listening, Idle},
	Speaking:    {Listening, Idle},
}

// Transition is one recorded edge of the machine.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Machine is the five-state turn machine. It is not goroutine-safe; the
// session loop is its only caller.
type Machine struct {
	current State
	history []Transition
}

func New() *Machine {
	return &Machine{current: Idle}
}

func (m *Machine) Current() State { return m.current }

// CanTransition reports whether current → to is a legal edge.
func (m *Machine) CanTransition(to State) bool {
	if to == Idle {
		return true
	}
	for _, s := range allowed[m.current] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves to the target state, recording the edge. A self
// transition is a no-op and records nothing. Illegal edges return
// ErrInvalidTransition without changing state.
func (m *Machine) Transition(to State) (Transition, error) {
	if to == m.current {
		return Transition{From: m.current, To: to, At: time.Now().UTC()}, nil
	}
	if !m.CanTransition(to) {
		return Transition{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, to)
	}
	tr := Transition{From: m.current, To: to, At: time.Now().UTC()}
	m.current = to
	m.history = append(m.history, tr)
	return tr, nil
}

// History returns a copy of the transitions recorded since the last drain.
func (m *Machine) History() []Transition {
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// TakeHistory drains and returns the recorded transitions. Called at turn
// close so each turn record carries only its own edges.
func (m *Machine) TakeHistory() []Transition {
	out := m.history
	m.history = nil
	return out
}
