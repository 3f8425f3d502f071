package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// msgWriter is the slice of *websocket.Conn the outbound queue needs.
type msgWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// Outbound is the bounded per-session queue to the client. Send suspends
// the producer when the queue is full; messages are never dropped and
// never reordered. After Close, Send is a no-op.
type Outbound struct {
	w    msgWriter
	ch   chan any
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewOutbound(w msgWriter, size int) *Outbound {
	if size <= 0 {
		size = 64
	}
	o := &Outbound{
		w:    w,
		ch:   make(chan any, size),
		done: make(chan struct{}),
	}
	o.wg.Add(1)
	go o.writer()
	return o
}

// Send enqueues a message, blocking while the queue is full.
func (o *Outbound) Send(msg any) {
	select {
	case <-o.done:
	case o.ch <- msg:
	}
}

// Close stops the writer. Pending queued messages are discarded; the
// connection itself is closed by the caller.
func (o *Outbound) Close() {
	o.once.Do(func() { close(o.done) })
	o.wg.Wait()
}

func (o *Outbound) writer() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return
		case m := <-o.ch:
			b, err := json.Marshal(m)
			if err != nil {
				log.Printf("[ws] marshal outbound: %v", err)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = o.w.Write(ctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				log.Printf("[ws] write error: %v", err)
				o.once.Do(func() { close(o.done) })
				return
			}
			metricMessagesOut.Inc()
		}
	}
}
