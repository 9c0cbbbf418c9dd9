// Package channels tracks the server-side queue channel of each session
// whose outbound leg is pull-based. The chat handler fills it for polling
// sessions, the relay handler for pub/sub sessions; both drain from it.
package channels

import (
	"sync"

	"github.com/converso-ai/converso/backend/internal/transport"
)

// Registry maps session ids to their queue channels.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*transport.QueueChannel
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*transport.QueueChannel)}
}

// Put registers the channel for a session, replacing any previous one.
func (r *Registry) Put(sessionID string, ch *transport.QueueChannel) {
	r.mu.Lock()
	r.items[sessionID] = ch
	r.mu.Unlock()
}

// Get looks up the channel for a session.
func (r *Registry) Get(sessionID string) (*transport.QueueChannel, bool) {
	r.mu.RLock()
	ch, ok := r.items[sessionID]
	r.mu.RUnlock()
	return ch, ok
}

// Remove drops the session's channel from the registry.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	delete(r.items, sessionID)
	r.mu.Unlock()
}
