package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"halcyon/voice/internal/config"
)

// EventType discriminates adapter events.
type EventType string

const (
	EventPartial  EventType = "partial"
	EventFinal    EventType = "final"
	EventEndpoint EventType = "endpoint"
	EventError    EventType = "error"
)

// Event is one item of the transcript stream. Endpoint on a final means
// the provider confirmed end-of-utterance, so the session may use a short
// debounce instead of the full adaptive one.
type Event struct {
	Type        EventType
	Text        string
	Confidence  float64
	Endpoint    bool
	Recoverable bool
}

// Deepgram maintains one live websocket connection to Deepgram for a
// session, sending PCM16@16k audio and receiving transcript events.
// Reconnects follow a {0,1,2,4,8}s backoff for at most 5 attempts; audio
// arriving during an outage is buffered (up to 5 s) and replayed on
// reconnect only while still fresh.
type Deepgram struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiKey string
	url    string

	sendQ  chan []byte
	ctlQ   chan []byte
	events chan Event

	mu        sync.Mutex
	connected bool
	replay    []replayFrame
	replaySz  int

	// Track last interim/final text for UtteranceEnd fallback
	lastText      string
	lastFinalText string
}

type replayFrame struct {
	b  []byte
	at time.Time
}

const (
	maxConnectAttempts = 5
	replayCapBytes     = 5 * 16000 * 2 // 5 s @ 16 kHz mono PCM16
	replayMaxStaleness = 3 * time.Second
)

var backoffSchedule = []time.Duration{0, 1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}

// Open creates the adapter and starts its connection loop.
func Open(parent context.Context, cfg config.Config) *Deepgram {
	ctx, cancel := context.WithCancel(parent)
	q := url.Values{}
	q.Set("model", cfg.Deepgram.Model)
	q.Set("language", cfg.Deepgram.Language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("endpointing", fmt.Sprintf("%d", cfg.Deepgram.EndpointingMs))
	q.Set("utterance_end_ms", fmt.Sprintf("%d", cfg.Deepgram.UtteranceEndMs))
	q.Set("encoding", "linear16")
	q.Set("sample_rate", "16000")
	q.Set("channels", "1")
	base := cfg.Deepgram.BaseURL
	if base == "" {
		base = "wss://api.deepgram.com/v1/listen"
	}
	d := &Deepgram{
		ctx:    ctx,
		cancel: cancel,
		apiKey: cfg.Deepgram.APIKey,
		url:    base + "?" + q.Encode(),
		sendQ:  make(chan []byte, 16),
		ctlQ:   make(chan []byte, 4),
		events: make(chan Event, 64),
	}
	go d.run()
	return d
}

func (d *Deepgram) Events() <-chan Event { return d.events }

func (d *Deepgram) Close() { d.cancel() }

// Send enqueues an audio frame. During an outage the frame goes to the
// replay buffer instead. Returns false when dropped for backpressure.
func (d *Deepgram) Send(pcm16k []byte) bool {
	d.mu.Lock()
	up := d.connected
	d.mu.Unlock()
	if !up {
		d.buffer(pcm16k)
		return true
	}
	select {
	case d.sendQ <- pcm16k:
		metricFrames.Inc()
		metricAudioBytes.Add(float64(len(pcm16k)))
		return true
	default:
		metricDrops.Inc()
		return false
	}
}

// Finalize forces the current utterance to be finalized. Used on barge-in
// so the post-interrupt LISTENING state does not wait out an endpoint.
func (d *Deepgram) Finalize() {
	msg, _ := json.Marshal(map[string]string{"type": "Finalize"})
	select {
	case d.ctlQ <- msg:
	default:
	}
}

func (d *Deepgram) buffer(b []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replay = append(d.replay, replayFrame{b: b, at: time.Now()})
	d.replaySz += len(b)
	for d.replaySz > replayCapBytes && len(d.replay) > 1 {
		d.replaySz -= len(d.replay[0].b)
		d.replay = d.replay[1:]
	}
}

// takeReplay drains the outage buffer. Stale audio is discarded wholesale:
// replaying seconds-old speech would produce transcripts for an utterance
// the user has already abandoned.
func (d *Deepgram) takeReplay() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	frames := d.replay
	d.replay = nil
	d.replaySz = 0
	if len(frames) == 0 {
		return nil
	}
	if time.Since(frames[0].at) >= replayMaxStaleness {
		log.Printf("[deepgram] discarding %d stale buffered frames", len(frames))
		return nil
	}
	out := make([][]byte, len(frames))
	for i, f := range frames {
		out[i] = f.b
	}
	return out
}

func (d *Deepgram) run() {
	defer close(d.events)
	attempts := 0
	for {
		if d.ctx.Err() != nil {
			return
		}
		if attempts >= maxConnectAttempts {
			log.Printf("[deepgram] giving up after %d attempts", attempts)
			d.emit(Event{Type: EventError, Text: "stt unavailable", Recoverable: false})
			return
		}
		wait := backoffSchedule[attempts]
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-d.ctx.Done():
				return
			}
		}
		err := d.connectAndPump()
		d.mu.Lock()
		d.connected = false
		d.mu.Unlock()
		if d.ctx.Err() != nil {
			return
		}
		if err != nil {
			attempts++
			log.Printf("[deepgram] connection lost (attempt %d/%d): %v", attempts, maxConnectAttempts, err)
			d.emit(Event{Type: EventError, Text: err.Error(), Recoverable: true})
		} else {
			attempts = 0
		}
	}
}

func (d *Deepgram) connectAndPump() error {
	hdr := make(http.Header)
	if d.apiKey != "" {
		hdr.Set("Authorization", "Token "+d.apiKey)
	}
	dialCtx, cancel := context.WithTimeout(d.ctx, 10*time.Second)
	defer cancel()
	start := time.Now()
	ws, _, err := websocket.Dial(dialCtx, d.url, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return err
	}
	log.Printf("[deepgram] connected in %dms", time.Since(start).Milliseconds())
	metricConnectMS.Observe(float64(time.Since(start).Milliseconds()))
	metricReconnects.Inc()
	defer ws.Close(websocket.StatusNormalClosure, "bye")

	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()

	// replay buffered outage audio if still fresh
	for _, b := range d.takeReplay() {
		select {
		case d.sendQ <- b:
		default:
		}
	}

	pumpCtx, stop := context.WithCancel(d.ctx)
	defer stop()

	// send loop: audio frames plus control messages
	go func() {
		defer stop()
		for {
			var payload []byte
			typ := websocket.MessageBinary
			select {
			case <-pumpCtx.Done():
				return
			case payload = <-d.sendQ:
			case payload = <-d.ctlQ:
				typ = websocket.MessageText
			}
			if payload == nil {
				continue
			}
			wctx, wcancel := context.WithTimeout(pumpCtx, 5*time.Second)
			err := ws.Write(wctx, typ, payload)
			wcancel()
			if err != nil {
				log.Printf("[deepgram] write error: %v", err)
				return
			}
		}
	}()

	for {
		_, data, err := ws.Read(pumpCtx)
		if err != nil {
			if d.ctx.Err() != nil {
				return nil
			}
			return err
		}
		if len(data) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			log.Printf("[deepgram] JSON parse error: %v", err)
			continue
		}
		d.handleMessage(m)
	}
}

// handleMessage parses the provider's result frames leniently, the way the
// shapes actually arrive: alternatives live under "channel".
func (d *Deepgram) handleMessage(m map[string]any) {
	typ := toString(m["type"])
	switch {
	case strings.EqualFold(typ, "Error") || m["error"] != nil:
		msg := toString(m["error"])
		if msg == "" {
			msg = toString(m["message"])
		}
		if msg == "" {
			msg = "provider_error"
		}
		d.emit(Event{Type: EventError, Text: msg, Recoverable: true})

	case strings.EqualFold(typ, "Metadata"):
		// connection confirmation; nothing to surface

	case strings.EqualFold(typ, "Results") || m["channel"] != nil:
		var alts []any
		if channel, ok := m["channel"].(map[string]any); ok {
			alts, _ = channel["alternatives"].([]any)
		}
		text := ""
		conf := 0.0
		if len(alts) > 0 {
			if a0, ok := alts[0].(map[string]any); ok {
				text = strings.TrimSpace(toString(a0["transcript"]))
				conf = toFloat(a0["confidence"])
			}
		}
		if text != "" {
			d.lastText = text
		}
		speechFinal := toBool(m["speech_final"])
		if toBool(m["is_final"]) || speechFinal {
			if text == "" {
				metricEmptyFinalSkipped.Inc()
				return
			}
			d.lastFinalText = text
			metricFinalEmitted.WithLabelValues("provider").Inc()
			d.emit(Event{Type: EventFinal, Text: text, Confidence: conf, Endpoint: speechFinal})
		} else if text != "" {
			d.emit(Event{Type: EventPartial, Text: text, Confidence: conf})
		}

	case strings.EqualFold(typ, "UtteranceEnd"):
		// End of speech. If is_final results were missed, fall back to the
		// last text seen so the session is not left waiting.
		fallback := d.lastFinalText
		source := "provider_cached"
		if fallback == "" {
			fallback = d.lastText
			source = "interim_fallback"
		}
		if fallback != "" && fallback != d.lastFinalText {
			metricFinalEmitted.WithLabelValues(source).Inc()
			d.emit(Event{Type: EventFinal, Text: fallback, Endpoint: true})
		} else {
			d.emit(Event{Type: EventEndpoint})
		}
		d.lastText = ""
		d.lastFinalText = ""
	}
}

func (d *Deepgram) emit(e Event) {
	select {
	case d.events <- e:
	default:
		metricEventDrops.Inc()
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toFloat(v any) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}
