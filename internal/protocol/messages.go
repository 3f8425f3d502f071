package protocol

import "time"

// Client → server message types.
const (
	TypeConnect          = "connect"
	TypeAudioChunk       = "audio_chunk"
	TypeInterrupt        = "interrupt"
	TypePlaybackComplete = "playback_complete"
	TypeUpdateSettings   = "update_settings"
	TypeGetTelemetry     = "get_telemetry"
	TypeDisconnect       = "disconnect"
	TypePong             = "pong"
)

// ClientMessage is the single inbound envelope. Fields beyond Type are
// populated per message type; settings fields are pointers so an absent
// key is distinguishable from a zero value.
type ClientMessage struct {
	Type       string `json:"type"`
	Audio      string `json:"audio,omitempty"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`

	SilenceDebounceMs       *int     `json:"silence_debounce_ms,omitempty"`
	CancellationThreshold   *float64 `json:"cancellation_threshold,omitempty"`
	AdaptiveDebounceEnabled *bool    `json:"adaptive_debounce_enabled,omitempty"`
	VoiceID                 *string  `json:"voice_id,omitempty"`
	LLMModel                *string  `json:"llm_model,omitempty"`
}

// Server → client messages, one struct per type. Constructors stamp the
// type tag and timestamp so call sites stay short.

type SessionReady struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"timestamp"`
}

func NewSessionReady(sessionID string) SessionReady {
	return SessionReady{Type: "session_ready", SessionID: sessionID, Timestamp: nowMs()}
}

type StateChange struct {
	Type      string `json:"type"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Timestamp int64  `json:"timestamp"`
}

func NewStateChange(from, to string) StateChange {
	return StateChange{Type: "state_change", FromState: from, ToState: to, Timestamp: nowMs()}
}

type TranscriptPartial struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
}

func NewTranscriptPartial(text string, confidence float64) TranscriptPartial {
	return TranscriptPartial{Type: "transcript_partial", Text: text, Confidence: confidence, Timestamp: nowMs()}
}

type TranscriptFinal struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
}

func NewTranscriptFinal(text string, confidence float64) TranscriptFinal {
	return TranscriptFinal{Type: "transcript_final", Text: text, Confidence: confidence, Timestamp: nowMs()}
}

type AgentAudioChunk struct {
	Type       string `json:"type"`
	Audio      string `json:"audio"`
	ChunkIndex int    `json:"chunk_index"`
	IsFinal    bool   `json:"is_final"`
}

func NewAgentAudioChunk(audioB64 string, index int, isFinal bool) AgentAudioChunk {
	return AgentAudioChunk{Type: "agent_audio_chunk", Audio: audioB64, ChunkIndex: index, IsFinal: isFinal}
}

type AgentTextFallback struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

func NewAgentTextFallback(text, reason string) AgentTextFallback {
	return AgentTextFallback{Type: "agent_text_fallback", Text: text, Reason: reason}
}

type TurnComplete struct {
	Type           string `json:"type"`
	TurnID         string `json:"turn_id"`
	UserText       string `json:"user_text"`
	AgentText      string `json:"agent_text"`
	DurationMs     int64  `json:"duration_ms"`
	WasInterrupted bool   `json:"was_interrupted"`
	Timestamp      int64  `json:"timestamp"`
}

func NewTurnComplete(turnID, userText, agentText string, durationMs int64, wasInterrupted bool) TurnComplete {
	return TurnComplete{
		Type: "turn_complete", TurnID: turnID, UserText: userText, AgentText: agentText,
		DurationMs: durationMs, WasInterrupted: wasInterrupted, Timestamp: nowMs(),
	}
}

type Telemetry struct {
	Type              string  `json:"type"`
	CancellationRate  float64 `json:"cancellation_rate"`
	AvgDebounceMs     int     `json:"avg_debounce_ms"`
	TurnLatencyMs     int64   `json:"turn_latency_ms"`
	TotalTurns        int     `json:"total_turns"`
	TokensWasted      int     `json:"tokens_wasted"`
	InterruptionCount int     `json:"interruption_count"`
}

type Error struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	Timestamp   int64  `json:"timestamp"`
}

func NewError(code, message string, recoverable bool) Error {
	return Error{Type: "error", Code: code, Message: message, Recoverable: recoverable, Timestamp: nowMs()}
}

type Ping struct {
	Type string `json:"type"`
}

func NewPing() Ping { return Ping{Type: "ping"} }

func nowMs() int64 { return time.Now().UnixMilli() }
