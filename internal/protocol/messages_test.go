package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAudioChunkZeroIndexOnWire(t *testing.T) {
	b, err := json.Marshal(NewAgentAudioChunk("QUJD", 0, false))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"chunk_index":0`) {
		t.Fatalf("chunk_index 0 must serialize: %s", s)
	}
	if !strings.Contains(s, `"is_final":false`) {
		t.Fatalf("is_final must always serialize: %s", s)
	}
}

func TestClientMessageSettingsSubset(t *testing.T) {
	raw := `{"type":"update_settings","silence_debounce_ms":800,"voice_id":"v2"}`
	var m ClientMessage
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.SilenceDebounceMs == nil || *m.SilenceDebounceMs != 800 {
		t.Fatalf("silence_debounce_ms not parsed")
	}
	if m.VoiceID == nil || *m.VoiceID != "v2" {
		t.Fatalf("voice_id not parsed")
	}
	if m.CancellationThreshold != nil {
		t.Fatalf("absent setting must stay nil")
	}
}

func TestStateChangeShape(t *testing.T) {
	b, _ := json.Marshal(NewStateChange("IDLE", "LISTENING"))
	var m map[string]any
	json.Unmarshal(b, &m)
	if m["type"] != "state_change" || m["from_state"] != "IDLE" || m["to_state"] != "LISTENING" {
		t.Fatalf("unexpected shape: %v", m)
	}
}
