// Package agent defines the contract with the external generative engine
// and a subprocess-backed implementation of it. The engine is a black box:
// callers receive a stream of opaque events and cancel via context.
package agent

import (
	"context"
	"encoding/json"
	"sync"
)

// Request describes one streamed invocation.
type Request struct {
	Prompt           string
	Resume           string // prior conversation id to continue
	AllowedTools     []string
	WorkingDirectory string
	PermissionMode   string
}

// Runtime starts streamed invocations. Implementations must observe ctx
// between events; cancellation is cooperative, never an interrupt.
type Runtime interface {
	Stream(ctx context.Context, req Request) (*Stream, error)
}

// Stream is a pull-based event sequence. Events() closes when the
// invocation terminates; Err() reports the failure, if any, once closed.
type Stream struct {
	events chan json.RawMessage

	mu  sync.Mutex
	err error
}

// NewStream creates a stream for a producer to feed. It is exported so
// fake runtimes in tests can construct streams directly.
func NewStream() *Stream {
	return &Stream{events: make(chan json.RawMessage, 16)}
}

// Events returns the event channel. Events arrive in emission order.
func (s *Stream) Events() <-chan json.RawMessage {
	return s.events
}

// Err returns the terminal error. Only meaningful after Events has closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Send delivers one event, dropping it if the consumer has gone away.
func (s *Stream) Send(ctx context.Context, ev json.RawMessage) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close terminates the stream. The error, when non-nil, becomes the
// stream's terminal state. Close must be called exactly once.
func (s *Stream) Close(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.events)
}
