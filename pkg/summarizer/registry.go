package summarizer

import (
	"sync"
	"time"
)

type registryEntry struct {
	s        *Summarizer
	lastUsed time.Time
}

// Registry hands out one Summarizer per session
type Registry struct {
	mu    sync.Mutex
	cfg   Config
	now   func() time.Time
	items map[string]*registryEntry
}

// NewRegistry creates a Registry whose summarizers share cfg
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, now: time.Now, items: make(map[string]*registryEntry)}
}

// Get returns the session's summarizer, creating it on first use.
func (r *Registry) Get(sessionID string) *Summarizer {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if e, ok := r.items[sessionID]; ok {
		e.lastUsed = now
		return e.s
	}
	s := New(r.cfg)
	r.items[sessionID] = &registryEntry{s: s, lastUsed: now}
	return s
}

// Forget drops a session's summarizer
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, sessionID)
}

// EvictIdle drops summarizers not requested within idle and returns how many went.
// An evicted session starts again from NoContext and is re-summarized at its next interval.
func (r *Registry) EvictIdle(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idle)
	evicted := 0
	for id, e := range r.items {
		if e.lastUsed.Before(cutoff) {
			delete(r.items, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
