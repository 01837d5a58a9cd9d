package session

import (
	"sync"
	"time"
)

// Store is the in-memory registry of live sessions, keyed by id.
// Terminal sessions are removed once archived.
type Store struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewStore creates an empty session store
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

// Add registers a session
func (st *Store) Add(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
}

// Get returns a session by id
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Remove deletes a session from the store
func (st *Store) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Count returns the number of live sessions
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// ByVisitor finds the non-terminal session for a visitor, if any
func (st *Store) ByVisitor(visitorID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	for _, s := range st.sessions {
		if s.Contact.VisitorID == visitorID && !s.State().Terminal() {
			return s, true
		}
	}
	return nil, false
}

// RingingLongerThan returns sessions whose soft-hold is older than the
// ring timeout. Used by the sweep loop to resolve unanswered rings.
func (st *Store) RingingLongerThan(timeout time.Duration) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	threshold := time.Now().Add(-timeout)
	var expired []*Session
	for _, s := range st.sessions {
		if since := s.RingingSince(); !since.IsZero() && since.Before(threshold) {
			expired = append(expired, s)
		}
	}
	return expired
}

// WrapUpLongerThan returns wrap_up sessions older than the wrap-up timeout
func (st *Store) WrapUpLongerThan(timeout time.Duration) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	threshold := time.Now().Add(-timeout)
	var expired []*Session
	for _, s := range st.sessions {
		if s.State() == StateWrapUp && !s.EndedAt.IsZero() && s.EndedAt.Before(threshold) {
			expired = append(expired, s)
		}
	}
	return expired
}

// RingingForAgent returns sessions soft-held on the given agent
func (st *Store) RingingForAgent(agentID string) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var held []*Session
	for _, s := range st.sessions {
		if s.State() == StateRinging && s.AgentID() == agentID {
			held = append(held, s)
		}
	}
	return held
}

// ActiveForAgent returns the active sessions handled by the given agent
func (st *Store) ActiveForAgent(agentID string) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var active []*Session
	for _, s := range st.sessions {
		if s.State() == StateActive && s.AgentID() == agentID {
			active = append(active, s)
		}
	}
	return active
}
