package readaloud

import (
	"sort"
	"sync"
)

// Registry maps a call identifier to its live session. It is the only state
// shared between calls.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

func (r *Registry) Get(callID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[callID]
}

// Swap installs s for callID and returns the session it replaced, if any. The
// caller owns the returned session and must close it.
func (r *Registry) Swap(callID string, s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[callID]
	r.sessions[callID] = s
	return prev
}

// Remove detaches and returns the session for callID.
func (r *Registry) Remove(callID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return nil
	}
	delete(r.sessions, callID)
	return s
}

// RemoveIf detaches the session for callID only when it is still s.
func (r *Registry) RemoveIf(callID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[callID] != s {
		return false
	}
	delete(r.sessions, callID)
	return true
}

// IsCurrent reports whether s is the registered session for its call.
func (r *Registry) IsCurrent(s *Session) bool {
	if s == nil {
		return false
	}
	return r.Get(s.CallID()) == s
}

// List returns the live sessions ordered by call identifier.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CallID() < out[j].CallID()
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
