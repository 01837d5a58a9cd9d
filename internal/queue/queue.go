package queue

import (
	"sync"
	"time"

	"github.com/bridgedesk/backend/internal/types"
	"github.com/rs/zerolog"
)

// Entry wraps a contact waiting for an agent
type Entry struct {
	SessionID  string
	Contact    *types.Contact
	EnqueuedAt time.Time
	Position   int // 1-based, contiguous within the queue
}

// Update describes a recomputed position for one waiting visitor
type Update struct {
	SessionID       string
	VisitorID       string
	Position        int
	EstimateSeconds int
}

// companyQueue holds waiting entries in class-before-FIFO order:
// all high-priority entries precede normal ones, FIFO within a class.
type companyQueue struct {
	entries []*Entry
}

// Manager owns the per-company waiting queues. The public widget's
// queue is just the queue of the configured public company id.
type Manager struct {
	queues        map[string]*companyQueue // companyID -> queue
	handles       map[string]*handleWindow // companyID -> rolling handle times
	defaultHandle time.Duration
	mu            sync.Mutex
	logger        zerolog.Logger
}

// NewManager creates a queue manager
func NewManager(defaultHandle time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		queues:        make(map[string]*companyQueue),
		handles:       make(map[string]*handleWindow),
		defaultHandle: defaultHandle,
		logger:        logger.With().Str("component", "queue").Logger(),
	}
}

// Enqueue appends an entry behind its priority class and recomputes
// positions. Returns the new entry and the position updates for every
// waiting visitor in that queue.
func (m *Manager) Enqueue(sessionID string, contact *types.Contact) (*Entry, []Update) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &Entry{
		SessionID:  sessionID,
		Contact:    contact,
		EnqueuedAt: time.Now(),
	}
	q := m.queue(contact.CompanyID)
	q.insert(entry, false)

	updates := m.recompute(contact.CompanyID, q)
	m.logger.Debug().
		Str("session_id", sessionID).
		Str("company_id", contact.CompanyID).
		Str("priority", string(contact.Priority)).
		Int("position", entry.Position).
		Msg("contact enqueued")
	return entry, updates
}

// EnqueueFront returns a rejected contact to the front of its priority
// class, preserving its original enqueue time so FIFO fairness holds.
func (m *Manager) EnqueueFront(entry *Entry) []Update {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(entry.Contact.CompanyID)
	q.insert(entry, true)
	return m.recompute(entry.Contact.CompanyID, q)
}

// DequeueNext pops the head entry for a company queue, or nil when empty
func (m *Manager) DequeueNext(companyID string) (*Entry, []Update) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[companyID]
	if !ok || len(q.entries) == 0 {
		return nil, nil
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, m.recompute(companyID, q)
}

// Peek returns the head entry without removing it
func (m *Manager) Peek(companyID string) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[companyID]
	if !ok || len(q.entries) == 0 {
		return nil
	}
	head := *q.entries[0]
	return &head
}

// Len returns the number of waiting entries for a company
func (m *Manager) Len(companyID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[companyID]
	if !ok {
		return 0
	}
	return len(q.entries)
}

// RemoveIfPresent drops a waiting entry by session id (visitor cancel).
// Remaining positions are recomputed.
func (m *Manager) RemoveIfPresent(sessionID string) (bool, []Update) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for companyID, q := range m.queues {
		for i, entry := range q.entries {
			if entry.SessionID == sessionID {
				q.entries = append(q.entries[:i], q.entries[i+1:]...)
				return true, m.recompute(companyID, q)
			}
		}
	}
	return false, nil
}

// CompanyIDs returns every company with a non-empty queue
func (m *Manager) CompanyIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.queues))
	for id, q := range m.queues {
		if len(q.entries) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// RecordHandleTime feeds a completed session's duration into the rolling
// average used for wait estimates.
func (m *Manager) RecordHandleTime(companyID string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handle(companyID).record(d)
}

// EstimateSeconds computes the wait estimate for a queue position:
// position times the rolling average handle duration for that company,
// falling back to the configured default with no history.
func (m *Manager) EstimateSeconds(companyID string, position int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimateLocked(companyID, position)
}

// Wipe clears every queue, returning the entries removed so their
// sessions can be resolved.
func (m *Manager) Wipe() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []*Entry
	for _, q := range m.queues {
		removed = append(removed, q.entries...)
		q.entries = nil
	}
	m.logger.Info().Int("cleared", len(removed)).Msg("wiped all queues")
	return removed
}

// Snapshots returns read-only stats for every queue
func (m *Manager) Snapshots() []types.QueueSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshots := make([]types.QueueSnapshot, 0, len(m.queues))
	for companyID, q := range m.queues {
		snapshot := types.QueueSnapshot{
			CompanyID:     companyID,
			Length:        len(q.entries),
			AvgHandleSecs: m.avgHandleLocked(companyID).Seconds(),
		}
		if len(q.entries) > 0 {
			snapshot.LongestWaitSecs = time.Since(q.entries[0].EnqueuedAt).Seconds()
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots
}

func (m *Manager) queue(companyID string) *companyQueue {
	q, ok := m.queues[companyID]
	if !ok {
		q = &companyQueue{}
		m.queues[companyID] = q
	}
	return q
}

// insert places an entry into class-before-FIFO order. front puts it
// ahead of its own class, behind any higher class.
func (q *companyQueue) insert(entry *Entry, front bool) {
	rank := entry.Contact.Priority.Rank()
	idx := len(q.entries)
	for i, existing := range q.entries {
		existingRank := existing.Contact.Priority.Rank()
		if front && existingRank >= rank {
			idx = i
			break
		}
		if !front && existingRank > rank {
			idx = i
			break
		}
	}
	q.entries = append(q.entries, nil)
	copy(q.entries[idx+1:], q.entries[idx:])
	q.entries[idx] = entry
}

// recompute renumbers positions 1..n and returns updates for entries
// whose position changed. Mandatory after any mutation.
func (m *Manager) recompute(companyID string, q *companyQueue) []Update {
	var updates []Update
	for i, entry := range q.entries {
		position := i + 1
		if entry.Position == position {
			continue
		}
		entry.Position = position
		updates = append(updates, Update{
			SessionID:       entry.SessionID,
			VisitorID:       entry.Contact.VisitorID,
			Position:        position,
			EstimateSeconds: m.estimateLocked(companyID, position),
		})
	}
	return updates
}

func (m *Manager) estimateLocked(companyID string, position int) int {
	return int(m.avgHandleLocked(companyID).Seconds()) * position
}

func (m *Manager) avgHandleLocked(companyID string) time.Duration {
	if w, ok := m.handles[companyID]; ok && w.count > 0 {
		return w.average()
	}
	return m.defaultHandle
}

func (m *Manager) handle(companyID string) *handleWindow {
	w, ok := m.handles[companyID]
	if !ok {
		w = &handleWindow{}
		m.handles[companyID] = w
	}
	return w
}
