package store

import (
	"path/filepath"
	"testing"
	"time"

	"halcyon/voice/internal/fsm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "turns.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func TestInsertAndList(t *testing.T) {
	st := openTestStore(t)
	rec := TurnRecord{
		ID:        "t1",
		SessionID: "s1",
		StartedAt: time.Now().UTC(),
		UserText:  "hello there",
		AgentText: "Hi!",
		Outcome:   "completed",
		StateTransitions: EncodeTransitions([]fsm.Transition{
			{From: fsm.Idle, To: fsm.Listening, At: time.Now().UTC()},
		}),
	}
	if err := st.Insert(rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := st.SessionTurns("s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "t1" || got[0].AgentText != "Hi!" {
		t.Fatalf("unexpected rows: %#v", got)
	}
}

func TestSessionIDs(t *testing.T) {
	st := openTestStore(t)
	for _, id := range []string{"a", "a", "b"} {
		st.Insert(TurnRecord{ID: id + time.Now().Format("150405.000000"), SessionID: id, StartedAt: time.Now()})
		time.Sleep(time.Millisecond)
	}
	ids, err := st.SessionIDs()
	if err != nil {
		t.Fatalf("session ids: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 distinct sessions, got %v", ids)
	}
}

func TestWriterPersistsAsync(t *testing.T) {
	st := openTestStore(t)
	w := NewWriter(st)
	w.Enqueue(TurnRecord{ID: "t1", SessionID: "s1", StartedAt: time.Now()})
	w.Close()
	got, err := st.SessionTurns("s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record after writer close, got %d", len(got))
	}
}

func TestWriterEnqueueNeverBlocks(t *testing.T) {
	st := openTestStore(t)
	w := NewWriter(st)
	defer w.Close()
	done := make(chan struct{})
	go func() {
		for i := 0; i < writerQueueSize*2; i++ {
			w.Enqueue(TurnRecord{ID: "x", SessionID: "s", StartedAt: time.Now()})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Enqueue blocked the caller")
	}
}
