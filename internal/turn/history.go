package turn

import "halcyon/voice/internal/llm"

// ConversationHistory keeps prior turns as chat messages so every LLM
// request carries multi-turn context. Cleared on session teardown.
type ConversationHistory struct {
	messages []llm.Message
}

func NewConversationHistory() *ConversationHistory {
	return &ConversationHistory{}
}

// AddTurn appends a completed turn.
func (h *ConversationHistory) AddTurn(userText, agentText string) {
	if userText != "" {
		h.messages = append(h.messages, llm.Message{Role: "user", Content: userText})
	}
	if agentText != "" {
		h.messages = append(h.messages, llm.Message{Role: "assistant", Content: agentText})
	}
}

// Messages returns a copy of the history.
func (h *ConversationHistory) Messages() []llm.Message {
	out := make([]llm.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

func (h *ConversationHistory) Clear() { h.messages = nil }
