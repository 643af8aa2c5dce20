// Package registry implements the global client registry: add/remove/
// lookup of ClientRecords by stable ID, guarded by a single RWMutex.
// Writers take the write lock; readers take the read lock only briefly
// and snapshot what they need.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/ethan/termcast-hub/internal/client"
)

// Registry is the host-wide table of connected clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[client.ID]*client.Record
	nextID  atomic.Uint32
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{clients: make(map[client.ID]*client.Record)}
}

// NextID issues a fresh, never-reused client ID.
func (reg *Registry) NextID() client.ID {
	return client.ID(reg.nextID.Add(1))
}

// Add inserts rec under the write lock.
func (reg *Registry) Add(rec *client.Record) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.clients[rec.ID] = rec
}

// Remove deletes id under the write lock. No-op if absent.
func (reg *Registry) Remove(id client.ID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.clients, id)
}

// Lookup returns the record for id, or (nil, false) if not present.
func (reg *Registry) Lookup(id client.ID) (*client.Record, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rec, ok := reg.clients[id]
	return rec, ok
}

// Count returns the number of registered clients.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.clients)
}

// IDs returns a snapshot slice of every registered client ID.
func (reg *Registry) IDs() []client.ID {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ids := make([]client.ID, 0, len(reg.clients))
	for id := range reg.clients {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns a copy of the registered-record slice taken under the
// read lock.
func (reg *Registry) Snapshot() []*client.Record {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*client.Record, 0, len(reg.clients))
	for _, rec := range reg.clients {
		out = append(out, rec)
	}
	return out
}

// Peers returns every currently-registered record other than excludeID
// (the common "all other participants" query used by both render
// workers). Records are not filtered on Active; callers check it.
func (reg *Registry) Peers(excludeID client.ID) []*client.Record {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*client.Record, 0, len(reg.clients))
	for id, rec := range reg.clients {
		if id == excludeID {
			continue
		}
		out = append(out, rec)
	}
	return out
}
