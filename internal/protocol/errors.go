package protocol

// Wire error codes, prefixed by subsystem.
const (
	CodeWSProtocol     = "WS_PROTOCOL_ERROR"
	CodeSTTUnavailable = "STT_UNAVAILABLE"
	CodeSTTProvider    = "STT_PROVIDER_ERROR"
	CodeLLMUnavailable = "LLM_UNAVAILABLE"
	CodeLLMNoResponse  = "LLM_NO_RESPONSE"
	CodeTTSUnavailable = "TTS_UNAVAILABLE"
	CodeDBWriteFailed  = "DB_WRITE_FAILED"

	CodeAudioBufferOverflow    = "AUDIO_BUFFER_OVERFLOW"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeSessionExpired         = "SESSION_EXPIRED"
	CodeUnknown                = "UNKNOWN_ERROR"
)
