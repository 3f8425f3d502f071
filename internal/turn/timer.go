package turn

import (
	"sync"
	"time"
)

// SilenceTimer is the cancellable debounce that confirms end-of-utterance.
// Fires are delivered on C and carry an epoch; the session loop validates
// the epoch with Consume so a fire racing a cancel is discarded.
type SilenceTimer struct {
	mu       sync.Mutex
	C        chan int
	timer    *time.Timer
	epoch    int
	running  bool
	deadline time.Time
}

func NewSilenceTimer() *SilenceTimer {
	return &SilenceTimer{C: make(chan int, 1)}
}

// Start (re)arms the timer for d. A running timer is restarted.
func (t *SilenceTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch++
	e := t.epoch
	t.running = true
	t.deadline = time.Now().Add(d)
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		live := t.running && t.epoch == e
		if live {
			t.running = false
		}
		t.mu.Unlock()
		if live {
			select {
			case t.C <- e:
			default:
			}
		}
	})
}

// Cancel stops the timer. Idempotent; a fire already queued on C becomes
// stale and Consume rejects it.
func (t *SilenceTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.epoch++
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Consume validates a fire received from C. Returns false for stale fires.
func (t *SilenceTimer) Consume(epoch int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return epoch == t.epoch
}

func (t *SilenceTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *SilenceTimer) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}
