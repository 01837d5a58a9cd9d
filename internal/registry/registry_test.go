package registry

import (
	"testing"
	"time"

	"github.com/bridgedesk/backend/internal/config"
	"github.com/bridgedesk/backend/internal/types"
)

func newTestRegistry() *AgentRegistry {
	return NewAgentRegistry(config.NewStaticPolicies(1))
}

func TestRegisterAndReconnect(t *testing.T) {
	r := newTestRegistry()

	agent := r.Register("acme", "agent-1", "alice", 2)
	if agent.MaxConcurrentCalls != 2 {
		t.Errorf("expected capacity 2, got %d", agent.MaxConcurrentCalls)
	}
	if agent.Availability != types.AvailOnline {
		t.Errorf("expected online availability, got %s", agent.Availability)
	}

	// Accumulate some load, then reconnect
	if err := r.IncrementLoad("agent-1"); err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if err := r.SetAvailability("agent-1", types.AvailBreak); err != nil {
		t.Fatalf("set availability failed: %v", err)
	}

	// Re-register must not reset load or availability
	agent = r.Register("acme", "agent-1", "alice", 2)
	if agent.CurrentCalls != 1 {
		t.Errorf("expected load 1 preserved across reconnect, got %d", agent.CurrentCalls)
	}
	if agent.Availability != types.AvailBreak {
		t.Errorf("expected break availability preserved, got %s", agent.Availability)
	}

	if r.Count() != 1 {
		t.Errorf("expected 1 agent, got %d", r.Count())
	}
}

func TestRegisterDefaultCapacityFromPolicy(t *testing.T) {
	r := NewAgentRegistry(config.NewStaticPolicies(3))

	agent := r.Register("acme", "agent-1", "alice", 0)
	if agent.MaxConcurrentCalls != 3 {
		t.Errorf("expected policy default capacity 3, got %d", agent.MaxConcurrentCalls)
	}
}

func TestLoadBounds(t *testing.T) {
	r := newTestRegistry()
	r.Register("acme", "agent-1", "alice", 1)

	if err := r.IncrementLoad("agent-1"); err != nil {
		t.Fatalf("first increment failed: %v", err)
	}
	if err := r.IncrementLoad("agent-1"); err == nil {
		t.Error("expected error incrementing past capacity")
	}

	if err := r.DecrementLoad("agent-1"); err != nil {
		t.Fatalf("decrement failed: %v", err)
	}
	// Decrement at zero must not underflow
	if err := r.DecrementLoad("agent-1"); err != nil {
		t.Fatalf("decrement at zero should be a no-op, got %v", err)
	}

	agent, _ := r.Get("agent-1")
	if agent.CurrentCalls != 0 {
		t.Errorf("expected load 0, got %d", agent.CurrentCalls)
	}
}

func TestLoadUnknownAgent(t *testing.T) {
	r := newTestRegistry()
	if err := r.IncrementLoad("ghost"); err == nil {
		t.Error("expected error for unknown agent")
	}
}

func TestListEligibleOrdering(t *testing.T) {
	r := newTestRegistry()
	r.Register("acme", "agent-1", "alice", 2)
	r.Register("acme", "agent-2", "bob", 2)
	r.Register("acme", "agent-3", "carol", 2)

	// agent-1 carries load, agent-2 was assigned most recently
	r.IncrementLoad("agent-1")
	r.MarkAssigned("agent-2")

	eligible := r.ListEligible("acme", false)
	if len(eligible) != 3 {
		t.Fatalf("expected 3 eligible, got %d", len(eligible))
	}
	// Fewest concurrent sessions first, then least recently assigned
	if eligible[0].AgentID != "agent-3" {
		t.Errorf("expected agent-3 first (no load, never assigned), got %s", eligible[0].AgentID)
	}
	if eligible[1].AgentID != "agent-2" {
		t.Errorf("expected agent-2 second, got %s", eligible[1].AgentID)
	}
	if eligible[2].AgentID != "agent-1" {
		t.Errorf("expected agent-1 last (loaded), got %s", eligible[2].AgentID)
	}
}

func TestListEligibleExcludesBusyAndOffline(t *testing.T) {
	r := newTestRegistry()
	r.Register("acme", "agent-1", "alice", 1)
	r.Register("acme", "agent-2", "bob", 1)
	r.Register("acme", "agent-3", "carol", 1)
	r.Register("other", "agent-4", "dave", 1)

	r.IncrementLoad("agent-1") // at capacity
	r.SetAvailability("agent-2", types.AvailBreak)

	eligible := r.ListEligible("acme", false)
	if len(eligible) != 1 || eligible[0].AgentID != "agent-3" {
		t.Fatalf("expected only agent-3 eligible, got %v", eligible)
	}
}

func TestRingingHoldReservesCapacity(t *testing.T) {
	r := newTestRegistry()
	r.Register("acme", "agent-1", "alice", 1)

	if err := r.AddHold("agent-1"); err != nil {
		t.Fatalf("hold failed: %v", err)
	}

	// A held last slot takes the agent out of selection
	agent, _ := r.Get("agent-1")
	if agent.Eligible() {
		t.Error("agent with held last slot must not be eligible")
	}
	if eligible := r.ListEligible("acme", false); len(eligible) != 0 {
		t.Errorf("expected no eligible agents, got %v", eligible)
	}
	if err := r.AddHold("agent-1"); err == nil {
		t.Error("expected error holding past capacity")
	}

	// Accept converts the hold into counted load
	if err := r.ConfirmHold("agent-1"); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	agent, _ = r.Get("agent-1")
	if agent.CurrentCalls != 1 {
		t.Errorf("expected load 1 after confirm, got %d", agent.CurrentCalls)
	}
	if agent.RingingHolds != 0 {
		t.Errorf("expected hold consumed, got %d", agent.RingingHolds)
	}
}

func TestReleaseHoldRestoresEligibility(t *testing.T) {
	r := newTestRegistry()
	r.Register("acme", "agent-1", "alice", 1)

	r.AddHold("agent-1")
	r.ReleaseHold("agent-1")

	agent, _ := r.Get("agent-1")
	if !agent.Eligible() {
		t.Error("agent should be eligible again after hold release")
	}
	if agent.RingingHolds != 0 {
		t.Errorf("expected 0 holds, got %d", agent.RingingHolds)
	}

	// Release at zero and for unknown agents are no-ops
	r.ReleaseHold("agent-1")
	r.ReleaseHold("ghost")
	agent, _ = r.Get("agent-1")
	if agent.RingingHolds != 0 {
		t.Errorf("release at zero must not underflow, got %d", agent.RingingHolds)
	}
}

func TestConfirmHoldRefusedAtCapacity(t *testing.T) {
	r := newTestRegistry()
	r.Register("acme", "agent-1", "alice", 1)

	r.AddHold("agent-1")
	if err := r.IncrementLoad("agent-1"); err != nil {
		t.Fatalf("increment failed: %v", err)
	}

	// Load reached capacity while the offer was out: the confirm is
	// refused and the hold survives for the caller to release
	if err := r.ConfirmHold("agent-1"); err == nil {
		t.Fatal("expected confirm refused at capacity")
	}
	agent, _ := r.Get("agent-1")
	if agent.CurrentCalls != 1 {
		t.Errorf("refused confirm must not change load, got %d", agent.CurrentCalls)
	}
	if agent.RingingHolds != 1 {
		t.Errorf("refused confirm must keep the hold, got %d", agent.RingingHolds)
	}

	if err := r.ConfirmHold("ghost"); err == nil {
		t.Error("expected error for unknown agent")
	}
}

func TestCountByCompany(t *testing.T) {
	r := newTestRegistry()
	r.Register("acme", "agent-1", "alice", 1)
	r.Register("acme", "agent-2", "bob", 1)
	r.IncrementLoad("agent-1")

	online, eligible := r.CountByCompany("acme")
	if online != 2 {
		t.Errorf("expected 2 online, got %d", online)
	}
	if eligible != 1 {
		t.Errorf("expected 1 eligible, got %d", eligible)
	}
}

func TestMarkStale(t *testing.T) {
	r := newTestRegistry()
	r.Register("acme", "agent-1", "alice", 1)

	stale := r.MarkStale(time.Nanosecond)
	if len(stale) != 1 || stale[0] != "agent-1" {
		t.Fatalf("expected agent-1 marked stale, got %v", stale)
	}

	agent, _ := r.Get("agent-1")
	if agent.Status != types.StatusOffline {
		t.Errorf("expected stale agent offline, got %s", agent.Status)
	}

	// Already-offline agents are not reported again
	if again := r.MarkStale(time.Nanosecond); len(again) != 0 {
		t.Errorf("expected no repeat stale marks, got %v", again)
	}
}
