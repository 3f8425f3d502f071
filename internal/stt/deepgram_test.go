package stt

import (
	"testing"
	"time"
)

func newTestConn() *Deepgram {
	return &Deepgram{events: make(chan Event, 16)}
}

func drainOne(t *testing.T, d *Deepgram) Event {
	t.Helper()
	select {
	case e := <-d.events:
		return e
	default:
		t.Fatalf("expected an event")
		return Event{}
	}
}

func resultFrame(text string, conf float64, isFinal, speechFinal bool) map[string]any {
	return map[string]any{
		"type":         "Results",
		"is_final":     isFinal,
		"speech_final": speechFinal,
		"channel": map[string]any{
			"alternatives": []any{
				map[string]any{"transcript": text, "confidence": conf},
			},
		},
	}
}

func TestHandleMessageInterim(t *testing.T) {
	d := newTestConn()
	d.handleMessage(resultFrame("hel", 0.5, false, false))
	e := drainOne(t, d)
	if e.Type != EventPartial || e.Text != "hel" || e.Confidence != 0.5 {
		t.Fatalf("unexpected event %#v", e)
	}
}

func TestHandleMessageFinal(t *testing.T) {
	d := newTestConn()
	d.handleMessage(resultFrame("hello there", 0.9, true, false))
	e := drainOne(t, d)
	if e.Type != EventFinal || e.Text != "hello there" || e.Endpoint {
		t.Fatalf("unexpected event %#v", e)
	}
}

func TestHandleMessageSpeechFinalSetsEndpoint(t *testing.T) {
	d := newTestConn()
	d.handleMessage(resultFrame("done now", 0.9, true, true))
	e := drainOne(t, d)
	if e.Type != EventFinal || !e.Endpoint {
		t.Fatalf("speech_final must mark the endpoint hint, got %#v", e)
	}
}

func TestHandleMessageEmptyFinalSkipped(t *testing.T) {
	d := newTestConn()
	d.handleMessage(resultFrame("", 0, true, false))
	select {
	case e := <-d.events:
		t.Fatalf("empty final must not emit, got %#v", e)
	default:
	}
}

func TestUtteranceEndFallsBackToInterim(t *testing.T) {
	d := newTestConn()
	d.handleMessage(resultFrame("partial words", 0.6, false, false))
	<-d.events // the interim itself
	d.handleMessage(map[string]any{"type": "UtteranceEnd"})
	e := drainOne(t, d)
	if e.Type != EventFinal || e.Text != "partial words" || !e.Endpoint {
		t.Fatalf("expected interim fallback final, got %#v", e)
	}
}

func TestUtteranceEndAfterFinalIsEndpointOnly(t *testing.T) {
	d := newTestConn()
	d.handleMessage(resultFrame("hello", 0.9, true, false))
	<-d.events
	d.handleMessage(map[string]any{"type": "UtteranceEnd"})
	e := drainOne(t, d)
	if e.Type != EventEndpoint {
		t.Fatalf("already-finalized utterance end must be an endpoint event, got %#v", e)
	}
}

func TestHandleMessageError(t *testing.T) {
	d := newTestConn()
	d.handleMessage(map[string]any{"type": "Error", "message": "bad audio"})
	e := drainOne(t, d)
	if e.Type != EventError || !e.Recoverable {
		t.Fatalf("unexpected event %#v", e)
	}
}

func TestReplayDiscardedWhenStale(t *testing.T) {
	d := newTestConn()
	d.replay = []replayFrame{{b: []byte{1}, at: time.Now().Add(-5 * time.Second)}}
	d.replaySz = 1
	if frames := d.takeReplay(); frames != nil {
		t.Fatalf("stale replay must be discarded, got %d frames", len(frames))
	}
}

func TestReplayKeptWhenFresh(t *testing.T) {
	d := newTestConn()
	d.buffer([]byte{1, 2})
	d.buffer([]byte{3})
	frames := d.takeReplay()
	if len(frames) != 2 {
		t.Fatalf("fresh replay must be returned, got %d frames", len(frames))
	}
	if d.replaySz != 0 || len(d.replay) != 0 {
		t.Fatalf("takeReplay must drain the buffer")
	}
}

func TestReplayBufferBounded(t *testing.T) {
	d := newTestConn()
	frame := make([]byte, 32000) // 1 s of audio
	for i := 0; i < 10; i++ {
		d.buffer(frame)
	}
	if d.replaySz > replayCapBytes {
		t.Fatalf("replay buffer exceeded cap: %d > %d", d.replaySz, replayCapBytes)
	}
}

func TestBackoffSchedule(t *testing.T) {
	if len(backoffSchedule) != maxConnectAttempts {
		t.Fatalf("backoff schedule must cover every attempt")
	}
	want := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if backoffSchedule[i] != w {
			t.Fatalf("backoff[%d] = %v, want %v", i, backoffSchedule[i], w)
		}
	}
}
