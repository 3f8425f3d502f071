package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		LogLevel string
	}
	Deepgram struct {
		APIKey         string
		Model          string
		Language       string
		BaseURL        string
		EndpointingMs  int
		UtteranceEndMs int
	}
	OpenAI struct {
		APIKey    string
		BaseURL   string
		Model     string
		MaxTokens int
	}
	Eleven struct {
		APIKey  string
		VoiceID string
		ModelID string
		BaseURL string
	}
	RAG struct {
		Enabled       bool
		BaseURL       string
		TopK          int
		MinSimilarity float64
		TimeoutMs     int
	}
	Turn struct {
		InitialDebounceMs     int
		MinDebounceMs         int
		MaxDebounceMs         int
		CancellationThreshold float64
		AdaptiveDebounce      bool
		EndpointDebounceMs    int
		PlaybackWatchdogS     int
		OutboundQueue         int
		InboundBufferS        int
		SessionIdleTTLMin     int
		SystemPrompt          string
	}
	Store struct {
		Enabled bool
		Path    string
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("deepgram.model", "nova-2")
	v.SetDefault("deepgram.language", "en-US")
	v.SetDefault("deepgram.endpointing_ms", 1000)
	v.SetDefault("deepgram.utterance_end_ms", 1500)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 256)

	v.SetDefault("elevenlabs.model_id", "eleven_turbo_v2_5")
	v.SetDefault("elevenlabs.base_url", "https://api.elevenlabs.io")

	v.SetDefault("rag.enabled", false)
	v.SetDefault("rag.top_k", 3)
	v.SetDefault("rag.min_similarity", 0.3)
	v.SetDefault("rag.timeout_ms", 350)

	v.SetDefault("turn.initial_debounce_ms", 400)
	v.SetDefault("turn.min_debounce_ms", 400)
	v.SetDefault("turn.max_debounce_ms", 1200)
	v.SetDefault("turn.cancellation_threshold", 0.30)
	v.SetDefault("turn.adaptive_debounce", true)
	v.SetDefault("turn.endpoint_debounce_ms", 100)
	v.SetDefault("turn.playback_watchdog_s", 15)
	v.SetDefault("turn.outbound_queue", 64)
	v.SetDefault("turn.inbound_buffer_s", 10)
	v.SetDefault("turn.session_idle_ttl_min", 5)
	v.SetDefault("turn.system_prompt",
		"You are a helpful voice assistant. Keep responses concise and natural for speech. "+
			"Use conversation history for context, but answer only the latest user request. "+
			"Do NOT repeat or restate previous assistant replies.")

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", "voice.db")

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")

	v.BindEnv("deepgram.api_key", "DEEPGRAM_API_KEY")
	v.BindEnv("deepgram.model", "DEEPGRAM_MODEL")
	v.BindEnv("deepgram.language", "DEEPGRAM_LANGUAGE")
	v.BindEnv("deepgram.base_url", "DEEPGRAM_WS_URL")
	v.BindEnv("deepgram.endpointing_ms", "DEEPGRAM_ENDPOINTING_MS")
	v.BindEnv("deepgram.utterance_end_ms", "DEEPGRAM_UTTERANCE_END_MS")

	v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	v.BindEnv("openai.model", "OPENAI_MODEL")
	v.BindEnv("openai.max_tokens", "OPENAI_MAX_TOKENS")

	v.BindEnv("elevenlabs.api_key", "ELEVENLABS_API_KEY")
	v.BindEnv("elevenlabs.voice_id", "ELEVENLABS_VOICE_ID")
	v.BindEnv("elevenlabs.model_id", "ELEVENLABS_MODEL_ID")
	v.BindEnv("elevenlabs.base_url", "ELEVENLABS_BASE_URL")

	v.BindEnv("rag.enabled", "RAG_ENABLED")
	v.BindEnv("rag.base_url", "RAG_URL")
	v.BindEnv("rag.top_k", "RAG_TOP_K")
	v.BindEnv("rag.min_similarity", "RAG_MIN_SIMILARITY")
	v.BindEnv("rag.timeout_ms", "RAG_TIMEOUT_MS")

	v.BindEnv("turn.initial_debounce_ms", "TURN_INITIAL_DEBOUNCE_MS")
	v.BindEnv("turn.min_debounce_ms", "TURN_MIN_DEBOUNCE_MS")
	v.BindEnv("turn.max_debounce_ms", "TURN_MAX_DEBOUNCE_MS")
	v.BindEnv("turn.cancellation_threshold", "TURN_CANCELLATION_THRESHOLD")
	v.BindEnv("turn.adaptive_debounce", "TURN_ADAPTIVE_DEBOUNCE")
	v.BindEnv("turn.endpoint_debounce_ms", "TURN_ENDPOINT_DEBOUNCE_MS")
	v.BindEnv("turn.playback_watchdog_s", "TURN_PLAYBACK_WATCHDOG_S")
	v.BindEnv("turn.outbound_queue", "TURN_OUTBOUND_QUEUE")
	v.BindEnv("turn.inbound_buffer_s", "TURN_INBOUND_BUFFER_S")
	v.BindEnv("turn.session_idle_ttl_min", "SESSION_IDLE_TTL_MIN")
	v.BindEnv("turn.system_prompt", "LLM_SYSTEM_PROMPT")

	v.BindEnv("store.enabled", "STORE_ENABLED")
	v.BindEnv("store.path", "STORE_PATH")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")

	c.Deepgram.APIKey = v.GetString("deepgram.api_key")
	c.Deepgram.Model = v.GetString("deepgram.model")
	c.Deepgram.Language = v.GetString("deepgram.language")
	c.Deepgram.BaseURL = v.GetString("deepgram.base_url")
	c.Deepgram.EndpointingMs = v.GetInt("deepgram.endpointing_ms")
	c.Deepgram.UtteranceEndMs = v.GetInt("deepgram.utterance_end_ms")

	c.OpenAI.APIKey = v.GetString("openai.api_key")
	c.OpenAI.BaseURL = v.GetString("openai.base_url")
	c.OpenAI.Model = v.GetString("openai.model")
	c.OpenAI.MaxTokens = v.GetInt("openai.max_tokens")

	c.Eleven.APIKey = v.GetString("elevenlabs.api_key")
	c.Eleven.VoiceID = v.GetString("elevenlabs.voice_id")
	c.Eleven.ModelID = v.GetString("elevenlabs.model_id")
	c.Eleven.BaseURL = v.GetString("elevenlabs.base_url")

	c.RAG.Enabled = v.GetBool("rag.enabled")
	c.RAG.BaseURL = v.GetString("rag.base_url")
	c.RAG.TopK = v.GetInt("rag.top_k")
	c.RAG.MinSimilarity = v.GetFloat64("rag.min_similarity")
	c.RAG.TimeoutMs = v.GetInt("rag.timeout_ms")

	c.Turn.InitialDebounceMs = v.GetInt("turn.initial_debounce_ms")
	c.Turn.MinDebounceMs = v.GetInt("turn.min_debounce_ms")
	c.Turn.MaxDebounceMs = v.GetInt("turn.max_debounce_ms")
	c.Turn.CancellationThreshold = v.GetFloat64("turn.cancellation_threshold")
	c.Turn.AdaptiveDebounce = v.GetBool("turn.adaptive_debounce")
	c.Turn.EndpointDebounceMs = v.GetInt("turn.endpoint_debounce_ms")
	c.Turn.PlaybackWatchdogS = v.GetInt("turn.playback_watchdog_s")
	c.Turn.OutboundQueue = v.GetInt("turn.outbound_queue")
	c.Turn.InboundBufferS = v.GetInt("turn.inbound_buffer_s")
	c.Turn.SessionIdleTTLMin = v.GetInt("turn.session_idle_ttl_min")
	c.Turn.SystemPrompt = v.GetString("turn.system_prompt")

	c.Store.Enabled = v.GetBool("store.enabled")
	c.Store.Path = v.GetString("store.path")

	log.Printf("config loaded: port=%s debounce=%d-%dms rag=%v store=%v",
		c.Server.Port, c.Turn.MinDebounceMs, c.Turn.MaxDebounceMs, c.RAG.Enabled, c.Store.Enabled)
	return c
}

func toString(v any) string { return fmt.Sprint(v) }
