package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	block  chan struct{} // when non-nil, Write waits for a tick
}

func (f *fakeConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	if f.block != nil {
		<-f.block
	}
	b := make([]byte, len(p))
	copy(b, p)
	f.mu.Lock()
	f.frames = append(f.frames, b)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type testMsg struct {
	Seq int `json:"seq"`
}

func TestOutboundPreservesOrder(t *testing.T) {
	fc := &fakeConn{}
	o := NewOutbound(fc, 8)
	defer o.Close()

	for i := 0; i < 20; i++ {
		o.Send(testMsg{Seq: i})
	}
	deadline := time.Now().Add(2 * time.Second)
	for fc.count() < 20 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.frames) != 20 {
		t.Fatalf("expected 20 frames, got %d", len(fc.frames))
	}
	for i, b := range fc.frames {
		var m testMsg
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("unmarshal frame %d: %v", i, err)
		}
		if m.Seq != i {
			t.Fatalf("frame %d out of order: seq=%d", i, m.Seq)
		}
	}
}

func TestOutboundSuspendsWhenFull(t *testing.T) {
	// the producer must block, not drop, when the queue is full
	fc := &fakeConn{block: make(chan struct{})}
	o := NewOutbound(fc, 4)
	defer o.Close()

	sent := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			o.Send(testMsg{Seq: i})
		}
		close(sent)
	}()

	select {
	case <-sent:
		t.Fatalf("producer should have suspended on the full queue")
	case <-time.After(50 * time.Millisecond):
	}

	// unblock the writer; everything must drain in order
	close(fc.block)
	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatalf("producer never resumed")
	}
	deadline := time.Now().Add(2 * time.Second)
	for fc.count() < 10 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fc.count() != 10 {
		t.Fatalf("expected all 10 frames delivered, got %d", fc.count())
	}
}

func TestOutboundSendAfterCloseIsNoop(t *testing.T) {
	fc := &fakeConn{}
	o := NewOutbound(fc, 4)
	o.Close()
	done := make(chan struct{})
	go func() {
		o.Send(testMsg{Seq: 1})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Send after Close must not block")
	}
}
