package session

import (
	"errors"
	"sync"
	"time"

	"github.com/bridgedesk/backend/internal/types"
)

// State is the lifecycle state of a session
type State string

const (
	StateCreated   State = "created"
	StateQueued    State = "queued"
	StateRinging   State = "ringing"
	StateActive    State = "active"
	StateEnded     State = "ended"
	StateWrapUp    State = "wrap_up"
	StateAbandoned State = "abandoned"
)

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateEnded || s == StateAbandoned
}

// Failure kinds, per the engine's error taxonomy. Transitions reject
// illegal requests with these; callers convert them to the next best
// state instead of surfacing raw errors.
var (
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrDuplicateEvent    = errors.New("duplicate event")
)

// Session is the stateful lifecycle record for one contact. All
// transitions are serialized by the session's own mutex: only one
// transition is ever in flight per session.
type Session struct {
	ID      string
	Contact *types.Contact

	mu          sync.Mutex
	state       State
	agentID     string          // assigned agent, empty before assignment
	skips       map[string]bool // agents excluded from this contact's retry
	disposition string
	notes       string

	CreatedAt  time.Time
	QueuedAt   time.Time
	RingingAt  time.Time
	AcceptedAt time.Time
	EndedAt    time.Time
}

// New creates a session in the created state
func New(id string, contact *types.Contact) *Session {
	return &Session{
		ID:        id,
		Contact:   contact,
		state:     StateCreated,
		skips:     make(map[string]bool),
		CreatedAt: time.Now(),
	}
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AgentID returns the currently assigned agent, empty if none
func (s *Session) AgentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentID
}

// Parties returns the visitor and agent ids bound to this session
func (s *Session) Parties() (visitorID, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Contact.VisitorID, s.agentID
}

// ToQueued moves a created or ringing session into the queue. From
// ringing this is the reject/timeout path: the previous agent is
// recorded in the skip set and the soft-hold is dropped.
func (s *Session) ToQueued() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateCreated:
	case StateRinging:
		s.skips[s.agentID] = true
		s.agentID = ""
	case StateQueued:
		return ErrDuplicateEvent
	default:
		return ErrInvalidTransition
	}
	s.state = StateQueued
	if s.QueuedAt.IsZero() {
		s.QueuedAt = time.Now()
	}
	return nil
}

// ToRinging assigns an agent as a soft-hold. Load is not counted until
// the agent accepts.
func (s *Session) ToRinging(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated && s.state != StateQueued {
		return ErrInvalidTransition
	}
	s.state = StateRinging
	s.agentID = agentID
	s.RingingAt = time.Now()
	return nil
}

// ToActive confirms the ringing agent accepted the contact
func (s *Session) ToActive(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateActive {
		return ErrDuplicateEvent
	}
	if s.state != StateRinging || s.agentID != agentID {
		return ErrInvalidTransition
	}
	s.state = StateActive
	s.AcceptedAt = time.Now()
	return nil
}

// ToEnded terminates an active session. Voice sessions pass through
// wrap_up first; chat sessions end directly.
func (s *Session) ToEnded() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateActive:
	case StateEnded, StateWrapUp:
		return ErrDuplicateEvent
	default:
		return ErrInvalidTransition
	}
	if s.Contact.CallType == types.CallTypeVoice {
		s.state = StateWrapUp
	} else {
		s.state = StateEnded
	}
	s.EndedAt = time.Now()
	return nil
}

// CompleteWrapUp records the disposition and finishes a wrap_up session
func (s *Session) CompleteWrapUp(disposition, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateWrapUp:
	case StateEnded:
		return ErrDuplicateEvent
	default:
		return ErrInvalidTransition
	}
	s.state = StateEnded
	s.disposition = disposition
	s.notes = notes
	return nil
}

// ToAbandoned resolves a visitor drop. Legal from any non-terminal
// state; returns the agent whose soft-hold or load must be released,
// and whether that agent had an active (counted) call.
func (s *Session) ToAbandoned() (agentID string, wasActive bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() || s.state == StateWrapUp {
		return "", false, ErrDuplicateEvent
	}
	agentID = s.agentID
	wasActive = s.state == StateActive
	s.state = StateAbandoned
	s.EndedAt = time.Now()
	return agentID, wasActive, nil
}

// Skipped reports whether an agent is excluded from this contact's retry
func (s *Session) Skipped(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skips[agentID]
}

// SkipCount returns the number of excluded agents
func (s *Session) SkipCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.skips)
}

// ClearSkips resets the exclusion set. The router calls this when every
// eligible agent has been skipped, so a contact is never starved: a
// rejecting agent is excluded for one retry cycle only.
func (s *Session) ClearSkips() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skips = make(map[string]bool)
}

// RingingSince returns when the current soft-hold began, or zero
func (s *Session) RingingSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRinging {
		return time.Time{}
	}
	return s.RingingAt
}

// Record builds the archive summary for a terminal session
func (s *Session) Record() types.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := types.SessionRecord{
		DateKey:     s.CreatedAt.Format("2006-01-02"),
		SessionID:   s.ID,
		CompanyID:   s.Contact.CompanyID,
		AgentID:     s.agentID,
		VisitorID:   s.Contact.VisitorID,
		CallType:    string(s.Contact.CallType),
		Disposition: s.disposition,
		Notes:       s.notes,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		Abandoned:   s.state == StateAbandoned,
	}
	if !s.AcceptedAt.IsZero() {
		record.AcceptedAt = s.AcceptedAt.Format(time.RFC3339)
		record.WaitSeconds = s.AcceptedAt.Sub(s.CreatedAt).Seconds()
	}
	if !s.EndedAt.IsZero() {
		record.EndedAt = s.EndedAt.Format(time.RFC3339)
		if !s.AcceptedAt.IsZero() {
			record.DurationSeconds = s.EndedAt.Sub(s.AcceptedAt).Seconds()
		} else {
			record.WaitSeconds = s.EndedAt.Sub(s.CreatedAt).Seconds()
		}
	}
	return record
}
