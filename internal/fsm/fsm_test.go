package fsm

import (
	"errors"
	"testing"
)

func TestHappyPathTransitions(t *testing.T) {
	m := New()
	path := []State{Listening, Speculative, Committed, Speaking, Idle}
	for _, s := range path {
		if _, err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if m.Current() != Idle {
		t.Fatalf("expected IDLE at end, got %s", m.Current())
	}
	if len(m.History()) != 5 {
		t.Fatalf("expected 5 recorded transitions, got %d", len(m.History()))
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := New()
	if _, err := m.Transition(Speaking); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for IDLE->SPEAKING, got %v", err)
	}
	if m.Current() != Idle {
		t.Fatalf("state must not change on rejected transition, got %s", m.Current())
	}
}

func TestAnyStateToIdle(t *testing.T) {
	for _, from := range []State{Listening, Speculative, Committed, Speaking} {
		m := New()
		m.current = from
		if _, err := m.Transition(Idle); err != nil {
			t.Fatalf("%s -> IDLE should always be allowed: %v", from, err)
		}
	}
}

func TestSpeculativeBackToListening(t *testing.T) {
	m := New()
	m.Transition(Listening)
	m.Transition(Speculative)
	if _, err := m.Transition(Listening); err != nil {
		t.Fatalf("SPECULATIVE -> LISTENING (silent cancel): %v", err)
	}
}

func TestCommittedBargeIn(t *testing.T) {
	m := New()
	m.Transition(Listening)
	m.Transition(Speculative)
	m.Transition(Committed)
	if _, err := m.Transition(Listening); err != nil {
		t.Fatalf("COMMITTED -> LISTENING (pre-audio barge-in): %v", err)
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	m := New()
	m.Transition(Listening)
	before := len(m.History())
	if _, err := m.Transition(Listening); err != nil {
		t.Fatalf("self transition should be accepted: %v", err)
	}
	if len(m.History()) != before {
		t.Fatalf("self transition must not be recorded")
	}
}

func TestRepeatedRejectionIsStable(t *testing.T) {
	// The same illegal edge from the same state fails both times.
	m := New()
	_, err1 := m.Transition(Committed)
	_, err2 := m.Transition(Committed)
	if (err1 == nil) != (err2 == nil) {
		t.Fatalf("repeat transition verdicts differ: %v vs %v", err1, err2)
	}
}

func TestTakeHistoryDrains(t *testing.T) {
	m := New()
	m.Transition(Listening)
	m.Transition(Idle)
	got := m.TakeHistory()
	if len(got) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(got))
	}
	if len(m.History()) != 0 {
		t.Fatalf("history should be empty after drain")
	}
}
