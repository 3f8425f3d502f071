package turn

import (
	"testing"
	"time"
)

func TestTimerFires(t *testing.T) {
	tm := NewSilenceTimer()
	tm.Start(20 * time.Millisecond)
	select {
	case e := <-tm.C:
		if !tm.Consume(e) {
			t.Fatalf("fresh fire must validate")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timer did not fire")
	}
	if tm.Running() {
		t.Fatalf("timer should not be running after fire")
	}
}

func TestTimerCancelJustBeforeDeadline(t *testing.T) {
	tm := NewSilenceTimer()
	tm.Start(60 * time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	tm.Cancel()
	select {
	case e := <-tm.C:
		if tm.Consume(e) {
			t.Fatalf("canceled timer must not deliver a valid fire")
		}
	case <-time.After(150 * time.Millisecond):
		// nothing fired: correct
	}
}

func TestTimerCancelIdempotent(t *testing.T) {
	tm := NewSilenceTimer()
	tm.Start(10 * time.Millisecond)
	tm.Cancel()
	tm.Cancel()
	if tm.Running() {
		t.Fatalf("expected not running")
	}
}

func TestTimerRestartInvalidatesOldFire(t *testing.T) {
	tm := NewSilenceTimer()
	tm.Start(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	// a fire is now queued; restarting makes it stale
	tm.Start(10 * time.Millisecond)
	e := <-tm.C
	if tm.Consume(e) {
		t.Fatalf("fire from the previous arm must be stale after restart")
	}
}

func TestTimerDeadline(t *testing.T) {
	tm := NewSilenceTimer()
	before := time.Now()
	tm.Start(100 * time.Millisecond)
	dl := tm.Deadline()
	if dl.Before(before.Add(90*time.Millisecond)) || dl.After(before.Add(200*time.Millisecond)) {
		t.Fatalf("deadline out of range: %v", dl.Sub(before))
	}
}
