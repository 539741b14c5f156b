package registry

import (
	"fmt"
	"sort"
	"sync"

	"relayd/internal/relay"
)

// Persister stores relay records outside the process.
// Save must fail for an id that already exists.
type Persister interface {
	LoadAll() ([]relay.Relay, error)
	Save(r relay.Relay) error
	Delete(id relay.RelayID) error
}

// Registry tracks which relay identities exist
type Registry struct {
	mu        sync.RWMutex
	relays    map[relay.RelayID]relay.Relay
	persister Persister
}

// New creates an in-memory registry
func New() *Registry {
	return &Registry{relays: make(map[relay.RelayID]relay.Relay)}
}

// NewPersistent creates a registry hydrated from and written through to p
func NewPersistent(p Persister) (*Registry, error) {
	r := New()
	r.persister = p

	existing, err := p.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load relays: %w", err)
	}
	for _, rel := range existing {
		r.relays[rel.ID] = rel
	}
	return r, nil
}

// Add admits a relay. Registering an id twice is an error.
func (r *Registry) Add(rel relay.Relay) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.relays[rel.ID]; ok {
		return relay.NewConflictError(rel.ID)
	}
	if r.persister != nil {
		if err := r.persister.Save(rel); err != nil {
			return fmt.Errorf("failed to persist relay %s: %w", rel.ID, err)
		}
	}
	r.relays[rel.ID] = rel
	return nil
}

// Remove deletes a relay record
func (r *Registry) Remove(id relay.RelayID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.relays[id]; !ok {
		return relay.NewRelayNotFoundError(id)
	}
	if r.persister != nil {
		if err := r.persister.Delete(id); err != nil {
			return fmt.Errorf("failed to delete relay %s: %w", id, err)
		}
	}
	delete(r.relays, id)
	return nil
}

// Has reports whether a relay is registered
func (r *Registry) Has(id relay.RelayID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.relays[id]
	return ok
}

// Get returns the record of a relay
func (r *Registry) Get(id relay.RelayID) (relay.Relay, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rel, ok := r.relays[id]
	return rel, ok
}

// List returns the ids of all registered relays, sorted for stable output
func (r *Registry) List() []relay.RelayID {
	r.mu.RLock()
	ids := make([]relay.RelayID, 0, len(r.relays))
	for id := range r.relays {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Relays returns all relay records sorted by id
func (r *Registry) Relays() []relay.Relay {
	ids := r.List()
	result := make([]relay.Relay, 0, len(ids))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range ids {
		if rel, ok := r.relays[id]; ok {
			result = append(result, rel)
		}
	}
	return result
}
