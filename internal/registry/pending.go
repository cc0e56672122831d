package registry

import (
	"sync"
	"time"
)

// pendingTTL is how long a pump may sit in the pending set before it is
// garbage-collected on inspection.
const pendingTTL = 300 * time.Second

// PendingRegistry is the owned in-memory set of pumps that have announced
// themselves but not yet been configured. Entries expire after pendingTTL
// and are removed when a pump is confirmed.
type PendingRegistry struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (p *PendingRegistry) Add(pumpID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[pumpID] = p.now()
}

func (p *PendingRegistry) Remove(pumpID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, pumpID)
}

// IDs returns the live pending pump ids, expiring stale entries first.
func (p *PendingRegistry) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-pendingTTL)
	ids := make([]string, 0, len(p.entries))
	for id, registered := range p.entries {
		if registered.Before(cutoff) {
			delete(p.entries, id)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether a pump is pending, expiring first.
func (p *PendingRegistry) Contains(pumpID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	registered, ok := p.entries[pumpID]
	if !ok {
		return false
	}
	if registered.Before(p.now().Add(-pendingTTL)) {
		delete(p.entries, pumpID)
		return false
	}
	return true
}
