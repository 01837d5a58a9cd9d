package queue

import (
	"testing"
	"time"

	"github.com/bridgedesk/backend/internal/types"
	"github.com/rs/zerolog"
)

func newTestManager() *Manager {
	return NewManager(180*time.Second, zerolog.Nop())
}

func contact(companyID, visitorID string, priority types.Priority) *types.Contact {
	return &types.Contact{
		CompanyID: companyID,
		VisitorID: visitorID,
		CallType:  types.CallTypeChat,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
}

func TestEnqueueFIFOOrdering(t *testing.T) {
	m := newTestManager()

	m.Enqueue("s1", contact("acme", "v1", types.PriorityNormal))
	m.Enqueue("s2", contact("acme", "v2", types.PriorityNormal))
	m.Enqueue("s3", contact("acme", "v3", types.PriorityNormal))

	if m.Len("acme") != 3 {
		t.Fatalf("expected 3 waiting, got %d", m.Len("acme"))
	}

	for i, want := range []string{"s1", "s2", "s3"} {
		entry, _ := m.DequeueNext("acme")
		if entry == nil || entry.SessionID != want {
			t.Fatalf("dequeue %d: expected %s, got %v", i, want, entry)
		}
	}

	if entry, _ := m.DequeueNext("acme"); entry != nil {
		t.Error("expected nil from empty queue")
	}
}

func TestHighPriorityBeforeNormal(t *testing.T) {
	m := newTestManager()

	m.Enqueue("s1", contact("acme", "v1", types.PriorityNormal))
	m.Enqueue("s2", contact("acme", "v2", types.PriorityHigh))
	m.Enqueue("s3", contact("acme", "v3", types.PriorityNormal))
	m.Enqueue("s4", contact("acme", "v4", types.PriorityHigh))

	// High-priority class drains first, FIFO within each class
	for i, want := range []string{"s2", "s4", "s1", "s3"} {
		entry, _ := m.DequeueNext("acme")
		if entry == nil || entry.SessionID != want {
			t.Fatalf("dequeue %d: expected %s, got %v", i, want, entry)
		}
	}
}

func TestPositionsContiguousFromOne(t *testing.T) {
	m := newTestManager()

	e1, _ := m.Enqueue("s1", contact("acme", "v1", types.PriorityNormal))
	e2, _ := m.Enqueue("s2", contact("acme", "v2", types.PriorityNormal))
	e3, _ := m.Enqueue("s3", contact("acme", "v3", types.PriorityNormal))

	if e1.Position != 1 || e2.Position != 2 || e3.Position != 3 {
		t.Fatalf("expected positions 1,2,3, got %d,%d,%d", e1.Position, e2.Position, e3.Position)
	}

	// A high-priority arrival jumps ahead of the normal class
	e4, updates := m.Enqueue("s4", contact("acme", "v4", types.PriorityHigh))
	if e4.Position != 1 {
		t.Errorf("expected high-priority entry at position 1, got %d", e4.Position)
	}
	// The new entry plus every shifted normal entry get updates
	if len(updates) != 4 {
		t.Fatalf("expected 4 position updates, got %d", len(updates))
	}
	for _, u := range updates {
		if u.Position < 1 || u.Position > 4 {
			t.Errorf("unexpected position %d for %s", u.Position, u.SessionID)
		}
	}
}

func TestDequeueEmitsPositionUpdates(t *testing.T) {
	m := newTestManager()

	m.Enqueue("s1", contact("acme", "v1", types.PriorityNormal))
	m.Enqueue("s2", contact("acme", "v2", types.PriorityNormal))
	m.Enqueue("s3", contact("acme", "v3", types.PriorityNormal))

	_, updates := m.DequeueNext("acme")
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates after dequeue, got %d", len(updates))
	}
	for _, u := range updates {
		switch u.SessionID {
		case "s2":
			if u.Position != 1 {
				t.Errorf("expected s2 at position 1, got %d", u.Position)
			}
		case "s3":
			if u.Position != 2 {
				t.Errorf("expected s3 at position 2, got %d", u.Position)
			}
		default:
			t.Errorf("unexpected update for %s", u.SessionID)
		}
	}
}

func TestEnqueueFrontPreservesEnqueueTime(t *testing.T) {
	m := newTestManager()

	m.Enqueue("s1", contact("acme", "v1", types.PriorityNormal))
	head, _ := m.DequeueNext("acme")
	m.Enqueue("s2", contact("acme", "v2", types.PriorityNormal))

	// A rejected contact returns to the head of its class
	originalTime := head.EnqueuedAt
	m.EnqueueFront(head)

	got := m.Peek("acme")
	if got.SessionID != "s1" {
		t.Fatalf("expected s1 back at head, got %s", got.SessionID)
	}
	if !got.EnqueuedAt.Equal(originalTime) {
		t.Error("expected original enqueue time preserved")
	}
	if got.Position != 1 {
		t.Errorf("expected position 1, got %d", got.Position)
	}
}

func TestRemoveIfPresent(t *testing.T) {
	m := newTestManager()

	m.Enqueue("s1", contact("acme", "v1", types.PriorityNormal))
	m.Enqueue("s2", contact("acme", "v2", types.PriorityNormal))

	removed, updates := m.RemoveIfPresent("s1")
	if !removed {
		t.Fatal("expected s1 removed")
	}
	if len(updates) != 1 || updates[0].SessionID != "s2" || updates[0].Position != 1 {
		t.Fatalf("expected s2 promoted to position 1, got %v", updates)
	}

	if removed, _ := m.RemoveIfPresent("ghost"); removed {
		t.Error("expected false for unknown session")
	}
}

func TestEstimateUsesRollingHandleTimes(t *testing.T) {
	m := newTestManager()

	// With no history, the default handle time applies
	if got := m.EstimateSeconds("acme", 2); got != 360 {
		t.Errorf("expected 360s estimate from default, got %d", got)
	}

	m.RecordHandleTime("acme", 60*time.Second)
	m.RecordHandleTime("acme", 120*time.Second)

	// Average is 90s, position 2 waits two handle times
	if got := m.EstimateSeconds("acme", 2); got != 180 {
		t.Errorf("expected 180s estimate, got %d", got)
	}
}

func TestWipeReturnsAllEntries(t *testing.T) {
	m := newTestManager()

	m.Enqueue("s1", contact("acme", "v1", types.PriorityNormal))
	m.Enqueue("s2", contact("beta", "v2", types.PriorityNormal))

	entries := m.Wipe()
	if len(entries) != 2 {
		t.Fatalf("expected 2 wiped entries, got %d", len(entries))
	}
	if m.Len("acme") != 0 || m.Len("beta") != 0 {
		t.Error("expected empty queues after wipe")
	}
}

func TestQueuesIsolatedPerCompany(t *testing.T) {
	m := newTestManager()

	m.Enqueue("s1", contact("acme", "v1", types.PriorityNormal))
	m.Enqueue("s2", contact("beta", "v2", types.PriorityNormal))

	if m.Len("acme") != 1 || m.Len("beta") != 1 {
		t.Fatal("expected one entry per company queue")
	}

	entry, _ := m.DequeueNext("beta")
	if entry.SessionID != "s2" {
		t.Errorf("expected s2 from beta queue, got %s", entry.SessionID)
	}
	if m.Len("acme") != 1 {
		t.Error("acme queue should be untouched")
	}
}
