package correlate

import "sync"

// History retains correlated messages per dashboard session so clients can
// fetch a transcript after the stream has ended. It is process-lifetime
// only and cleared when a new conversation starts for the session.
type History struct {
	mu        sync.Mutex
	bySession map[string][]Message
}

// NewHistory creates an empty transcript store.
func NewHistory() *History {
	return &History{bySession: make(map[string][]Message)}
}

// Append adds messages to a session's transcript in order.
func (h *History) Append(sessionID string, msgs ...Message) {
	if sessionID == "" || len(msgs) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bySession[sessionID] = append(h.bySession[sessionID], msgs...)
}

// Get returns a copy of a session's transcript.
func (h *History) Get(sessionID string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.bySession[sessionID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Clear drops a session's transcript.
func (h *History) Clear(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.bySession, sessionID)
}
