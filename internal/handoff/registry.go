package handoff

import (
	"sync"

	"github.com/GriffinCanCode/handoff/internal/shared/id"
)

// Registry is a process-wide table of live sessions. Signal handlers use it
// to cancel everything on shutdown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[id.HandoffID]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[id.HandoffID]*Session),
	}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process registry, creating it on first use.
// Callers should pass it explicitly to whatever needs it; it lives until the
// process exits.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Insert assigns s a fresh id and stores it. Ids are never reused.
func (r *Registry) Insert(s *Session) id.HandoffID {
	hid := id.NewHandoffID()
	s.bind(hid)

	r.mu.Lock()
	r.sessions[hid] = s
	r.mu.Unlock()
	return hid
}

// Remove deletes the entry for hid. Unknown ids are ignored.
func (r *Registry) Remove(hid id.HandoffID) {
	r.mu.Lock()
	delete(r.sessions, hid)
	r.mu.Unlock()
}

// Lookup returns the session registered under hid.
func (r *Registry) Lookup(hid id.HandoffID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[hid]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ForEach calls fn for every session registered at the time of the call.
// fn runs without the registry lock held, so it may call back into the
// registry or close sessions.
func (r *Registry) ForEach(fn func(*Session)) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		fn(s)
	}
}

// CancelAll cancels every registered session and returns how many there were.
func (r *Registry) CancelAll() int {
	n := 0
	r.ForEach(func(s *Session) {
		s.Cancel()
		n++
	})
	return n
}
