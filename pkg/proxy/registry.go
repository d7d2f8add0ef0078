// Package proxy bridges client chat requests to the agent runtime over
// newline-delimited JSON, with per-request cancellation.
package proxy

import (
	"context"
	"fmt"
	"sync"
)

// Registry maps in-flight request ids to their cancellation tokens. At most
// one token exists per id at any time.
type Registry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{cancels: make(map[string]context.CancelFunc)}
}

// Register records the cancellation token for a request id. Reusing an id
// that is still in flight is a client protocol violation and is rejected.
func (r *Registry) Register(id string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cancels[id]; exists {
		return fmt.Errorf("request %q is already in flight", id)
	}
	r.cancels[id] = cancel
	return nil
}

// Cancel signals the token for id and removes the entry. It reports false
// when the id is unknown or already completed.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	if ok {
		delete(r.cancels, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	return true
}

// Remove drops the entry for id. Removing an id that is already gone is a
// no-op, so cleanup may run on every termination path.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.cancels, id)
	r.mu.Unlock()
}

// Contains reports whether id is currently in flight.
func (r *Registry) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancels[id]
	return ok
}
