package core

import (
	"sync"

	"pkt.systems/tunnelchat/schema"
)

// History is the append-only conversation record of a session.
type History struct {
	mu      sync.Mutex
	entries []schema.Message
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{}
}

// Commit appends a completed exchange. Both entries land together or not at all.
func (h *History) Commit(user, assistant schema.Message) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, user, assistant)
}

// Entries returns a copy of the committed entries in turn order.
func (h *History) Entries() []schema.Message {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]schema.Message(nil), h.entries...)
}

// Len returns the number of committed entries.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// request builds the message list for a turn: optional system prompt, the most
// recent max committed entries (0 keeps all) and the staged user message.
func (h *History) request(system string, max int, staged schema.Message) []schema.Message {
	entries := h.Entries()
	if max > 0 && len(entries) > max {
		entries = entries[len(entries)-max:]
		// Keep exchanges aligned so the window never starts with an answer.
		if len(entries) > 0 && entries[0].Role == schema.RoleAssistant {
			entries = entries[1:]
		}
	}
	out := make([]schema.Message, 0, len(entries)+2)
	if system != "" {
		out = append(out, schema.Message{Role: schema.RoleSystem, Content: system})
	}
	out = append(out, entries...)
	return append(out, staged)
}
