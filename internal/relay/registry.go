package relay

import (
	"fmt"
	"sync"
)

// Registry maps peer codes to locally hosted connections. A connection is
// present iff it is open and has been welcomed. All operations are atomic;
// readers racing an insert or remove see the map before or after, never a
// partial state.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Insert adds a connection under code. Codes are minted uniquely per
// process run, so a collision indicates a bug rather than contention.
func (r *Registry) Insert(code string, c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[code]; ok {
		return fmt.Errorf("peer code %s already registered", code)
	}
	r.clients[code] = c
	return nil
}

// Lookup returns the connection for code, or nil.
func (r *Registry) Lookup(code string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[code]
}

// Remove deletes the entry for code. Idempotent.
func (r *Registry) Remove(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, code)
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Snapshot returns the current connections. Used by the heartbeat sweep
// and shutdown so neither holds the registry lock while touching sockets.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}
