package turn

import (
	"context"
	"encoding/base64"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"halcyon/voice/internal/audio"
	"halcyon/voice/internal/config"
	"halcyon/voice/internal/fsm"
	"halcyon/voice/internal/llm"
	"halcyon/voice/internal/protocol"
	"halcyon/voice/internal/rag"
	"halcyon/voice/internal/store"
	"halcyon/voice/internal/stt"
	"halcyon/voice/internal/tts"
)

// STT is the transcript stream the controller drives.
type STT interface {
	Send(frame []byte) bool
	Events() <-chan stt.Event
	Finalize()
	Close()
}

// LLMStreamer yields segmented sentences for a chat request.
type LLMStreamer interface {
	Stream(ctx context.Context, model string, msgs []llm.Message) <-chan llm.Item
}

// TTSStreamer yields audio chunks for one sentence.
type TTSStreamer interface {
	StreamAudio(ctx context.Context, voiceID, text string) <-chan tts.Chunk
}

// Emitter sends a server message to the client. Send suspends when the
// outbound queue is full; it never drops.
type Emitter interface {
	Send(msg any)
}

// RecordSink accepts closed turn records without blocking.
type RecordSink interface {
	Enqueue(rec store.TurnRecord)
}

// Controller orchestrates one session's turn-taking. All state mutation
// happens on its single run loop, which multiplexes client messages, STT
// events, LLM sentences, TTS chunks, the silence timer, and watchdogs.
type Controller struct {
	sessionID string
	cfg       config.Config

	emit    Emitter
	stt     STT
	llm     LLMStreamer
	tts     TTSStreamer
	rag     rag.Retriever // nil when disabled
	records RecordSink    // nil when persistence is off

	ctx     context.Context
	cancel  context.CancelFunc
	events  chan any
	stopped chan struct{}

	machine  *fsm.Machine
	buf      *TranscriptBuffer
	timer    *SilenceTimer
	debounce *AdaptiveDebounce
	history  *ConversationHistory
	tele     *Telemetry
	ring     *audio.Ring

	voiceID string
	model   string

	// per-turn state, touched only on the run loop
	cur             *Turn
	gen             int
	llmCancel       *Signal
	ttsCancel       *Signal
	held            []string // sentences generated but not yet released
	sentences       []string // every sentence of the current generation
	sq              chan string
	llmDone         bool
	ttsFailed       bool
	chunkIndex      int
	emittedAudio    bool
	waitingPlayback bool
	playbackTimer   *time.Timer
	usage           *llm.Usage

	framesIn           uint64
	completedSinceTele int
	torn               bool
	lastActivity       atomic.Int64
}

// maxFrameBytes bounds one inbound audio frame; clients are expected to
// send 100-250ms chunks, far below this.
const maxFrameBytes = 100 * 1024

// internal loop events
type (
	evClient          struct{ msg protocol.ClientMessage }
	evLLMSentence     struct {
		gen  int
		text string
	}
	evLLMUsage struct {
		gen   int
		usage llm.Usage
	}
	evLLMDone struct {
		gen int
		err error
	}
	evTTSChunk struct {
		gen   int
		audio []byte
	}
	evTTSDone struct{ gen int }
	evTTSErr  struct {
		gen int
		err error
	}
	evPlaybackTimeout struct{ gen int }
	evStop            struct{ reason string }
)

func NewController(parent context.Context, sessionID string, cfg config.Config,
	emit Emitter, st STT, lm LLMStreamer, ts TTSStreamer, retriever rag.Retriever, records RecordSink) *Controller {

	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		sessionID: sessionID,
		cfg:       cfg,
		emit:      emit,
		stt:       st,
		llm:       lm,
		tts:       ts,
		rag:       retriever,
		records:   records,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan any, 256),
		stopped:   make(chan struct{}),
		machine:   fsm.New(),
		buf:       NewTranscriptBuffer(),
		timer:     NewSilenceTimer(),
		debounce: NewAdaptiveDebounce(
			time.Duration(cfg.Turn.InitialDebounceMs)*time.Millisecond,
			time.Duration(cfg.Turn.MinDebounceMs)*time.Millisecond,
			time.Duration(cfg.Turn.MaxDebounceMs)*time.Millisecond,
			cfg.Turn.CancellationThreshold,
		),
		history: NewConversationHistory(),
		tele:    &Telemetry{},
		ring:    audio.NewRing(cfg.Turn.InboundBufferS * 16000 * 2),
		voiceID: cfg.Eleven.VoiceID,
		model:   cfg.OpenAI.Model,
	}
	c.debounce.SetEnabled(cfg.Turn.AdaptiveDebounce)
	c.lastActivity.Store(time.Now().UnixNano())
	return c
}

func (c *Controller) Start() { go c.run() }

func (c *Controller) SessionID() string     { return c.sessionID }
func (c *Controller) Done() <-chan struct{} { return c.stopped }

// HandleClient enqueues an inbound client message for the run loop.
func (c *Controller) HandleClient(msg protocol.ClientMessage) {
	c.lastActivity.Store(time.Now().UnixNano())
	c.post(evClient{msg: msg})
}

// Stop tears the session down. Safe to call more than once.
func (c *Controller) Stop(reason string) {
	select {
	case c.events <- evStop{reason: reason}:
	default:
		c.cancel()
	}
}

// IdleFor reports whether no client message has arrived for d.
func (c *Controller) IdleFor(d time.Duration) bool {
	return time.Since(time.Unix(0, c.lastActivity.Load())) >= d
}

func (c *Controller) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Controller) run() {
	defer close(c.stopped)
	sttEvents := c.stt.Events()
	for {
		select {
		case <-c.ctx.Done():
			c.teardown("context canceled")
			return
		case e := <-c.timer.C:
			if c.timer.Consume(e) {
				c.onSilenceTimeout()
			}
		case sev, ok := <-sttEvents:
			if !ok {
				sttEvents = nil
				continue
			}
			c.onSTTEvent(sev)
		case ev := <-c.events:
			if st, ok := ev.(evStop); ok {
				c.teardown(st.reason)
				return
			}
			c.dispatch(ev)
		}
	}
}

func (c *Controller) dispatch(ev any) {
	switch e := ev.(type) {
	case evClient:
		c.onClientMessage(e.msg)
	case evLLMSentence:
		c.onLLMSentence(e)
	case evLLMUsage:
		if e.gen == c.gen {
			u := e.usage
			c.usage = &u
		}
	case evLLMDone:
		c.onLLMDone(e)
	case evTTSChunk:
		c.onTTSChunk(e)
	case evTTSDone:
		c.onTTSDone(e)
	case evTTSErr:
		c.onTTSErr(e)
	case evPlaybackTimeout:
		c.onPlaybackTimeout(e)
	}
}

func (c *Controller) onClientMessage(m protocol.ClientMessage) {
	switch m.Type {
	case protocol.TypeAudioChunk:
		frame, err := audio.DecodeBase64(m.Audio, m.Format)
		if err != nil {
			c.emit.Send(protocol.NewError(protocol.CodeWSProtocol, err.Error(), true))
			return
		}
		if len(frame) > maxFrameBytes {
			c.emit.Send(protocol.NewError(protocol.CodeWSProtocol, "audio frame exceeds 100KB", true))
			return
		}
		c.onAudioFrame(frame)
	case protocol.TypeInterrupt:
		c.onInterrupt()
	case protocol.TypePlaybackComplete:
		c.onPlaybackComplete()
	case protocol.TypeUpdateSettings:
		c.onSettingsUpdate(m)
	case protocol.TypeGetTelemetry:
		c.emitTelemetry()
	case protocol.TypeDisconnect:
		c.Stop("client disconnect")
	case protocol.TypeConnect, protocol.TypePong:
		// handled at the channel layer
	default:
		c.emit.Send(protocol.NewError(protocol.CodeWSProtocol, "unknown message type: "+m.Type, true))
	}
}

func (c *Controller) onAudioFrame(frame []byte) {
	switch c.machine.Current() {
	case fsm.Idle:
		c.transition(fsm.Listening)
	case fsm.Speaking:
		// barge-in: user speaking over the agent
		c.bargeIn("audio frame during SPEAKING")
	}

	if c.machine.Current() == fsm.Listening {
		if dropped := c.ring.Push(frame); dropped > 0 {
			c.tele.BufferOverflows += dropped
			metricOverflow.Add(float64(dropped))
			log.Printf("[turn] session=%s inbound buffer overflow, dropped %d frames", c.sessionID, dropped)
		}
	}

	c.framesIn++
	if c.framesIn == 1 || c.framesIn%50 == 0 {
		log.Printf("[turn] session=%s frame=%d bytes=%d rms=%.0f state=%s",
			c.sessionID, c.framesIn, len(frame), audio.CalcRMS(frame), c.machine.Current())
	}

	c.stt.Send(frame)
}

func (c *Controller) onSTTEvent(ev stt.Event) {
	switch ev.Type {
	case stt.EventPartial:
		c.onPartial(ev.Text, ev.Confidence)
	case stt.EventFinal:
		c.onFinal(ev.Text, ev.Confidence, ev.Endpoint)
	case stt.EventEndpoint:
		// provider confirmed silence with no new text; shorten the wait
		if c.machine.Current() == fsm.Speculative && c.timer.Running() {
			c.timer.Start(time.Duration(c.cfg.Turn.EndpointDebounceMs) * time.Millisecond)
		}
	case stt.EventError:
		c.onSTTError(ev)
	}
}

func (c *Controller) onPartial(text string, confidence float64) {
	switch c.machine.Current() {
	case fsm.Speculative:
		reason := "new speech during SPECULATIVE"
		if hasCorrectionMarker(text) {
			reason = "correction marker: " + text
		}
		c.cancelSpeculation(reason)
	case fsm.Committed:
		c.bargeIn("speech during COMMITTED")
	case fsm.Speaking:
		c.bargeIn("speech during SPEAKING")
	}
	c.buf.SetPartial(text)
	c.emit.Send(protocol.NewTranscriptPartial(text, confidence))
}

func (c *Controller) onFinal(text string, confidence float64, endpoint bool) {
	switch c.machine.Current() {
	case fsm.Speaking:
		c.bargeIn("final during SPEAKING")
	case fsm.Committed:
		c.bargeIn("final during COMMITTED")
	case fsm.Speculative:
		reason := "new final during SPECULATIVE"
		if hasCorrectionMarker(text) {
			reason = "correction marker: " + text
		}
		c.cancelSpeculation(reason)
	case fsm.Idle:
		c.transition(fsm.Listening)
	}

	if c.buf.Locked() {
		log.Printf("[turn] session=%s dropping final while locked: %q", c.sessionID, text)
		return
	}
	if err := c.buf.AppendFinal(text, confidence); err != nil {
		return
	}
	if c.cur == nil {
		c.cur = &Turn{ID: uuid.New().String(), StartedAt: time.Now().UTC()}
	}
	c.cur.FinalAt = time.Now()
	c.cur.UserText = c.buf.CompleteText()

	c.emit.Send(protocol.NewTranscriptFinal(text, confidence))
	c.startSpeculation(endpoint)
}

// startSpeculation arms the debounce and launches the speculative LLM.
// RAG policy is gated: retrieval starts now, in parallel with the
// debounce, and the LLM request waits for its result. The retriever's
// hard timeout is below the minimum debounce, so with the adaptive
// debounce the request is issued inside the silence window. An endpoint
// hint shortens the window to EndpointDebounceMs, which can be shorter
// than the retriever timeout; the commit may then come first, and the
// sentences stream straight to TTS as they arrive.
func (c *Controller) startSpeculation(endpoint bool) {
	c.gen++
	gen := c.gen
	c.held = nil
	c.sentences = nil
	c.llmDone = false
	c.ttsFailed = false
	c.usage = nil
	c.llmCancel = NewSignal(c.ctx)

	query := c.buf.CompleteText()

	var ragCh chan []rag.Snippet
	if c.rag != nil {
		ragCh = make(chan []rag.Snippet, 1)
		go func(sig *Signal) {
			snips, err := c.rag.Retrieve(sig.Context(), query)
			if err != nil {
				log.Printf("[turn] session=%s rag retrieve failed: %v", c.sessionID, err)
				snips = nil
			}
			ragCh <- snips
		}(c.llmCancel)
	}

	hist := c.history.Messages()
	msgs := make([]llm.Message, 0, len(hist)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: c.cfg.Turn.SystemPrompt})
	msgs = append(msgs, hist...)
	msgs = append(msgs, llm.Message{Role: "user", Content: query})

	d := c.debounce.Current()
	if endpoint {
		// provider already waited out the silence; only a short window for
		// multi-utterance accumulation remains
		d = time.Duration(c.cfg.Turn.EndpointDebounceMs) * time.Millisecond
	}
	c.timer.Start(d)
	c.transition(fsm.Speculative)
	go c.runLLM(gen, c.llmCancel, c.model, msgs, ragCh)
}

func (c *Controller) runLLM(gen int, sig *Signal, model string, msgs []llm.Message, ragCh <-chan []rag.Snippet) {
	if ragCh != nil {
		select {
		case snips := <-ragCh:
			if len(snips) > 0 {
				msgs[0].Content = buildSystemPrompt(msgs[0].Content, snips)
			}
		case <-sig.Done():
			return
		}
	}
	items := c.llm.Stream(sig.Context(), model, msgs)
	for it := range items {
		if sig.IsSet() {
			return
		}
		switch {
		case it.Err != nil:
			c.post(evLLMDone{gen: gen, err: it.Err})
			return
		case it.Usage != nil:
			c.post(evLLMUsage{gen: gen, usage: *it.Usage})
		case it.Sentence != "":
			c.post(evLLMSentence{gen: gen, text: it.Sentence})
		}
	}
	c.post(evLLMDone{gen: gen})
}

func (c *Controller) onLLMSentence(e evLLMSentence) {
	if e.gen != c.gen {
		return
	}
	c.sentences = append(c.sentences, e.text)
	switch c.machine.Current() {
	case fsm.Speculative:
		c.held = append(c.held, e.text)
	case fsm.Committed, fsm.Speaking:
		if !c.ttsFailed && c.sq != nil {
			c.sq <- e.text
		}
	}
}

func (c *Controller) onLLMDone(e evLLMDone) {
	if e.gen != c.gen {
		return
	}
	c.llmDone = true
	if e.err != nil {
		log.Printf("[turn] session=%s llm failed: %v", c.sessionID, e.err)
		c.emit.Send(protocol.NewError(protocol.CodeLLMUnavailable, e.err.Error(), true))
		if c.ttsCancel != nil {
			c.ttsCancel.Set()
		}
		c.timer.Cancel()
		c.closeTurn(OutcomeLLMFailed, true, fsm.Idle)
		return
	}
	if c.ttsFailed {
		c.finishWithFallback()
		return
	}
	switch c.machine.Current() {
	case fsm.Committed, fsm.Speaking:
		if c.sq != nil {
			close(c.sq)
			c.sq = nil
		}
	case fsm.Speculative:
		if len(c.sentences) == 0 {
			log.Printf("[turn] session=%s llm returned no sentences", c.sessionID)
			c.emit.Send(protocol.NewError(protocol.CodeLLMNoResponse, "model produced no response", true))
			c.timer.Cancel()
			c.closeTurn(OutcomeLLMFailed, true, fsm.Idle)
		}
		// else: sentences are held; the commit will flush and close
	}
}

// onSilenceTimeout commits the speculation: the user really has stopped.
func (c *Controller) onSilenceTimeout() {
	if c.machine.Current() != fsm.Speculative {
		return
	}
	c.transition(fsm.Committed)
	c.buf.Lock()

	if c.llmDone && len(c.sentences) == 0 {
		c.emit.Send(protocol.NewError(protocol.CodeLLMNoResponse, "model produced no response", true))
		c.closeTurn(OutcomeLLMFailed, true, fsm.Idle)
		return
	}

	c.ttsCancel = NewSignal(c.ctx)
	c.sq = make(chan string, 256)
	go c.runTTS(c.gen, c.ttsCancel, c.sq, c.voiceID)

	for _, s := range c.held {
		c.sq <- s
	}
	c.held = nil
	if c.llmDone {
		close(c.sq)
		c.sq = nil
	}
}

func (c *Controller) runTTS(gen int, sig *Signal, sq <-chan string, voiceID string) {
	for {
		select {
		case <-sig.Done():
			return
		case s, ok := <-sq:
			if !ok {
				c.post(evTTSDone{gen: gen})
				return
			}
			ch := c.tts.StreamAudio(sig.Context(), voiceID, s)
			for chunk := range ch {
				if sig.IsSet() {
					return
				}
				if chunk.Err != nil {
					c.post(evTTSErr{gen: gen, err: chunk.Err})
					return
				}
				c.post(evTTSChunk{gen: gen, audio: chunk.Audio})
			}
		}
	}
}

func (c *Controller) onTTSChunk(e evTTSChunk) {
	if e.gen != c.gen {
		return
	}
	if c.machine.Current() == fsm.Committed {
		c.transition(fsm.Speaking)
		if c.cur != nil {
			c.cur.FirstAudioAt = time.Now()
			if !c.cur.FinalAt.IsZero() {
				lat := c.cur.FirstAudioAt.Sub(c.cur.FinalAt)
				c.tele.RecordLatency(lat)
				metricTurnLatencyMS.Observe(float64(lat.Milliseconds()))
				log.Printf("[turn] session=%s first audio %dms after final transcript", c.sessionID, lat.Milliseconds())
			}
		}
		c.startPlaybackWatchdog()
	}
	if c.machine.Current() != fsm.Speaking {
		return
	}
	c.emit.Send(protocol.NewAgentAudioChunk(base64.StdEncoding.EncodeToString(e.audio), c.chunkIndex, false))
	c.chunkIndex++
	c.emittedAudio = true
}

func (c *Controller) onTTSDone(e evTTSDone) {
	if e.gen != c.gen {
		return
	}
	switch c.machine.Current() {
	case fsm.Speaking:
		// final marker, then hold SPEAKING until the client confirms playback
		c.emit.Send(protocol.NewAgentAudioChunk("", c.chunkIndex, true))
		c.chunkIndex++
		c.waitingPlayback = true
	case fsm.Committed:
		// nothing speakable ever materialized
		c.closeTurn(OutcomeCompleted, true, fsm.Idle)
	}
}

func (c *Controller) onTTSErr(e evTTSErr) {
	if e.gen != c.gen {
		return
	}
	log.Printf("[turn] session=%s tts failed: %v", c.sessionID, e.err)
	c.ttsFailed = true
	if c.ttsCancel != nil {
		c.ttsCancel.Set()
	}
	c.sq = nil
	if c.llmDone {
		c.finishWithFallback()
	}
	// else: remaining sentences still arrive; the fallback goes out with
	// the full text once the LLM stream closes
}

// finishWithFallback degrades a turn whose synthesis failed to text-only.
func (c *Controller) finishWithFallback() {
	if c.emittedAudio {
		// close out the chunk sequence before degrading to text
		c.emit.Send(protocol.NewAgentAudioChunk("", c.chunkIndex, true))
		c.chunkIndex++
	}
	text := strings.Join(c.sentences, " ")
	c.emit.Send(protocol.NewAgentTextFallback(text, "tts_failed"))
	if c.cur != nil {
		c.cur.AgentText = text
	}
	c.stopPlaybackWatchdog()
	c.closeTurn(OutcomeTTSFailed, true, fsm.Idle)
}

func (c *Controller) onInterrupt() {
	switch c.machine.Current() {
	case fsm.Speaking, fsm.Committed:
		c.bargeIn("explicit interrupt")
	case fsm.Speculative:
		c.cancelSpeculation("explicit interrupt")
	}
}

// bargeIn handles the user talking over the agent: cancel both streams,
// force the STT utterance closed, and return to LISTENING for the new
// speech. The outgoing turn closes as interrupted.
func (c *Controller) bargeIn(trigger string) {
	st := c.machine.Current()
	if st != fsm.Speaking && st != fsm.Committed {
		return
	}
	log.Printf("[turn] session=%s barge-in (%s) in state %s", c.sessionID, trigger, st)
	if c.llmCancel != nil {
		c.llmCancel.Set()
	}
	if c.ttsCancel != nil {
		c.ttsCancel.Set()
	}
	c.gen++
	c.sq = nil
	c.held = nil
	c.stt.Finalize()
	c.stopPlaybackWatchdog()
	c.waitingPlayback = false
	if c.cur != nil {
		c.cur.WasInterrupted = true
	}
	c.tele.Interruptions++
	metricInterruptions.Inc()
	c.closeTurn(OutcomeInterrupted, true, fsm.Listening)
}

// cancelSpeculation is the silent path: the user kept talking before the
// debounce fired. Nothing ever reached the wire, so nothing is emitted
// beyond the state change; generated sentences are discarded and counted
// as waste.
func (c *Controller) cancelSpeculation(reason string) {
	if c.machine.Current() != fsm.Speculative {
		return
	}
	log.Printf("[turn] session=%s silent cancel: %s", c.sessionID, reason)
	if c.llmCancel != nil {
		c.llmCancel.Set()
	}
	c.timer.Cancel()

	waste := 0
	for _, s := range c.sentences {
		waste += llm.EstimateTokens(s)
	}
	if c.usage != nil && c.usage.CompletionTokens > 0 {
		waste = c.usage.CompletionTokens
	}
	c.tele.TokensWasted += waste
	metricTokensWasted.Add(float64(waste))
	c.tele.SpeculativelyCanceled++

	c.transition(fsm.Listening)

	// the utterance continues: keep the transcript buffer, close only the
	// speculation's turn record
	if c.cur != nil {
		now := time.Now().UTC()
		c.cur.Outcome = OutcomeSpeculativelyCanceled
		c.cur.TokensWasted = waste
		c.persist(c.cur, now)
	}
	c.debounce.Record(true)
	metricTurns.WithLabelValues(string(OutcomeSpeculativelyCanceled)).Inc()
	metricDebounceMS.Set(float64(c.debounce.Current().Milliseconds()))

	c.gen++
	c.cur = nil
	c.held = nil
	c.sentences = nil
	c.llmDone = false
	c.usage = nil
	c.llmCancel = nil
	c.buf.Unlock()
}

func (c *Controller) onPlaybackComplete() {
	if c.machine.Current() != fsm.Speaking || !c.waitingPlayback {
		return
	}
	c.stopPlaybackWatchdog()
	c.closeTurn(OutcomeCompleted, true, fsm.Idle)
}

func (c *Controller) onPlaybackTimeout(e evPlaybackTimeout) {
	if e.gen != c.gen {
		return
	}
	if c.machine.Current() != fsm.Speaking {
		return
	}
	log.Printf("[turn] session=%s playback watchdog fired, forcing turn completion", c.sessionID)
	c.closeTurn(OutcomeCompleted, true, fsm.Idle)
}

func (c *Controller) startPlaybackWatchdog() {
	c.stopPlaybackWatchdog()
	gen := c.gen
	d := time.Duration(c.cfg.Turn.PlaybackWatchdogS) * time.Second
	c.playbackTimer = time.AfterFunc(d, func() {
		c.post(evPlaybackTimeout{gen: gen})
	})
}

func (c *Controller) stopPlaybackWatchdog() {
	if c.playbackTimer != nil {
		c.playbackTimer.Stop()
		c.playbackTimer = nil
	}
}

// closeTurn finishes the current turn: emits turn_complete, transitions
// to the target state, updates history/adaptation/telemetry, persists the
// record, and resets per-turn state. The transcript buffer is reset; the
// next utterance starts clean.
func (c *Controller) closeTurn(outcome Outcome, notify bool, target fsm.State) {
	cur := c.cur
	now := time.Now().UTC()
	if cur != nil {
		cur.Outcome = outcome
		if cur.AgentText == "" && (outcome == OutcomeCompleted || outcome == OutcomeInterrupted) {
			cur.AgentText = strings.Join(c.sentences, " ")
		}
		if notify {
			duration := now.Sub(cur.StartedAt)
			c.emit.Send(protocol.NewTurnComplete(cur.ID, cur.UserText, cur.AgentText,
				duration.Milliseconds(), cur.WasInterrupted))
		}
	}
	c.transition(target)

	if cur != nil {
		if outcome == OutcomeCompleted || outcome == OutcomeTTSFailed {
			c.history.AddTurn(cur.UserText, cur.AgentText)
			c.tele.CompletedTurns++
		}
		metricTurns.WithLabelValues(string(outcome)).Inc()
		c.debounce.Record(false)
		metricDebounceMS.Set(float64(c.debounce.Current().Milliseconds()))
		c.persist(cur, now)

		if outcome == OutcomeCompleted || outcome == OutcomeTTSFailed {
			c.completedSinceTele++
			if c.completedSinceTele >= 5 {
				c.completedSinceTele = 0
				c.emitTelemetry()
			}
		}
	}
	c.resetTurnState()
}

func (c *Controller) resetTurnState() {
	c.gen++
	c.cur = nil
	c.held = nil
	c.sentences = nil
	c.sq = nil
	c.llmDone = false
	c.ttsFailed = false
	c.chunkIndex = 0
	c.emittedAudio = false
	c.waitingPlayback = false
	c.usage = nil
	c.llmCancel = nil
	c.ttsCancel = nil
	c.stopPlaybackWatchdog()
	c.timer.Cancel()
	c.buf.Reset()
	c.ring.Reset()
}

func (c *Controller) persist(cur *Turn, finishedAt time.Time) {
	if c.records == nil || cur == nil {
		return
	}
	var latencyMs int64
	if !cur.FirstAudioAt.IsZero() && !cur.FinalAt.IsZero() {
		latencyMs = cur.FirstAudioAt.Sub(cur.FinalAt).Milliseconds()
	}
	tokensPrompt, tokensCompletion := cur.TokensPrompt, cur.TokensCompletion
	if c.usage != nil {
		tokensPrompt = c.usage.PromptTokens
		tokensCompletion = c.usage.CompletionTokens
	}
	agentText := cur.AgentText
	if cur.Outcome == OutcomeSpeculativelyCanceled {
		// silent contract: nothing surfaced, nothing stored
		agentText = ""
	}
	c.records.Enqueue(store.TurnRecord{
		ID:               cur.ID,
		SessionID:        c.sessionID,
		StartedAt:        cur.StartedAt,
		FinishedAt:       finishedAt,
		UserText:         cur.UserText,
		AgentText:        agentText,
		Outcome:          string(cur.Outcome),
		WasInterrupted:   cur.WasInterrupted,
		StateTransitions: store.EncodeTransitions(c.machine.TakeHistory()),
		TokensPrompt:     tokensPrompt,
		TokensCompletion: tokensCompletion,
		TokensWasted:     cur.TokensWasted,
		LatencyMs:        latencyMs,
		DurationMs:       finishedAt.Sub(cur.StartedAt).Milliseconds(),
	})
}

func (c *Controller) onSTTError(ev stt.Event) {
	if ev.Recoverable {
		c.emit.Send(protocol.NewError(protocol.CodeSTTProvider, ev.Text, true))
		return
	}
	log.Printf("[turn] session=%s stt unavailable: %s", c.sessionID, ev.Text)
	c.emit.Send(protocol.NewError(protocol.CodeSTTUnavailable, ev.Text, false))
	if c.llmCancel != nil {
		c.llmCancel.Set()
	}
	if c.ttsCancel != nil {
		c.ttsCancel.Set()
	}
	c.timer.Cancel()
	outcome := OutcomeInterrupted
	switch c.machine.Current() {
	case fsm.Speculative:
		outcome = OutcomeSpeculativelyCanceled
	case fsm.Idle, fsm.Listening:
		outcome = OutcomeInterrupted
	}
	if c.cur != nil {
		c.closeTurn(outcome, false, fsm.Idle)
	} else {
		c.transition(fsm.Idle)
	}
}

func (c *Controller) onSettingsUpdate(m protocol.ClientMessage) {
	if m.SilenceDebounceMs != nil {
		c.debounce.Set(time.Duration(*m.SilenceDebounceMs) * time.Millisecond)
	}
	if m.CancellationThreshold != nil {
		c.debounce.SetThreshold(*m.CancellationThreshold)
	}
	if m.AdaptiveDebounceEnabled != nil {
		c.debounce.SetEnabled(*m.AdaptiveDebounceEnabled)
	}
	if m.VoiceID != nil {
		c.voiceID = *m.VoiceID
	}
	if m.LLMModel != nil {
		c.model = *m.LLMModel
	}
	log.Printf("[turn] session=%s settings updated: debounce=%dms adaptive=%v",
		c.sessionID, c.debounce.Current().Milliseconds(), c.debounce.Enabled())
}

func (c *Controller) emitTelemetry() {
	c.emit.Send(c.tele.Snapshot(c.debounce.Rate(), c.debounce.Current()))
}

// transition moves the machine and emits the state_change. An illegal edge
// is a programming error: surfaced as non-recoverable and the session is
// torn down.
func (c *Controller) transition(to fsm.State) {
	from := c.machine.Current()
	if from == to {
		return
	}
	tr, err := c.machine.Transition(to)
	if err != nil {
		log.Printf("[turn] session=%s %v", c.sessionID, err)
		c.emit.Send(protocol.NewError(protocol.CodeInvalidStateTransition, err.Error(), false))
		c.cancel()
		return
	}
	metricStateTransitions.WithLabelValues(string(tr.From), string(tr.To)).Inc()
	c.emit.Send(protocol.NewStateChange(string(tr.From), string(tr.To)))
}

func (c *Controller) teardown(reason string) {
	if c.torn {
		return
	}
	c.torn = true
	log.Printf("[turn] session=%s teardown: %s", c.sessionID, reason)
	if c.llmCancel != nil {
		c.llmCancel.Set()
	}
	if c.ttsCancel != nil {
		c.ttsCancel.Set()
	}
	c.timer.Cancel()
	c.stopPlaybackWatchdog()
	if c.cur != nil {
		now := time.Now().UTC()
		c.cur.Outcome = OutcomeInterrupted
		c.cur.WasInterrupted = true
		c.transition(fsm.Idle)
		c.persist(c.cur, now)
	} else {
		c.transition(fsm.Idle)
	}
	c.history.Clear()
	c.stt.Close()
	c.cancel()
}
