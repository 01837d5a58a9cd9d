package router

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bridgedesk/backend/internal/config"
	"github.com/bridgedesk/backend/internal/queue"
	"github.com/bridgedesk/backend/internal/registry"
	"github.com/bridgedesk/backend/internal/relay"
	"github.com/bridgedesk/backend/internal/session"
	"github.com/bridgedesk/backend/internal/types"
	"github.com/rs/zerolog"
)

// fakeSender records every message per recipient, decoded to its type
// discriminator for easy assertions
type fakeSender struct {
	agentMsgs   map[string][]map[string]any
	visitorMsgs map[string][]map[string]any
	deadAgents  map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		agentMsgs:   make(map[string][]map[string]any),
		visitorMsgs: make(map[string][]map[string]any),
		deadAgents:  make(map[string]bool),
	}
}

func (f *fakeSender) SendToAgent(agentID string, message []byte) bool {
	if f.deadAgents[agentID] {
		return false
	}
	var decoded map[string]any
	json.Unmarshal(message, &decoded)
	f.agentMsgs[agentID] = append(f.agentMsgs[agentID], decoded)
	return true
}

func (f *fakeSender) SendToVisitor(visitorID string, message []byte) bool {
	var decoded map[string]any
	json.Unmarshal(message, &decoded)
	f.visitorMsgs[visitorID] = append(f.visitorMsgs[visitorID], decoded)
	return true
}

// lastOfType returns the most recent message of the given type sent to
// the recipient, or nil
func lastOfType(msgs []map[string]any, msgType string) map[string]any {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["type"] == msgType {
			return msgs[i]
		}
	}
	return nil
}

func countOfType(msgs []map[string]any, msgType string) int {
	n := 0
	for _, m := range msgs {
		if m["type"] == msgType {
			n++
		}
	}
	return n
}

type testHarness struct {
	engine   *Engine
	sender   *fakeSender
	registry *registry.AgentRegistry
	queues   *queue.Manager
	sessions *session.Store
	policies *config.StaticPolicies
}

func newHarness(ringTimeout time.Duration) *testHarness {
	cfg := &config.Config{
		WSReadTimeout:      60 * time.Second,
		RingTimeout:        ringTimeout,
		WrapUpTimeout:      120 * time.Second,
		DefaultMaxCalls:    1,
		DefaultHandleTime:  180 * time.Second,
		ICEBufferLimit:     16,
		PublicCompanyID:    "public",
		QueueSweepInterval: 5 * time.Second,
	}
	policies := config.NewStaticPolicies(cfg.DefaultMaxCalls)
	reg := registry.NewAgentRegistry(policies)
	queues := queue.NewManager(cfg.DefaultHandleTime, zerolog.Nop())
	sessions := session.NewStore()
	sender := newFakeSender()

	engine := NewEngine(reg, queues, sessions, sender, policies, cfg, zerolog.Nop())
	engine.SetRelay(relay.NewRelay(engine, sender, cfg.ICEBufferLimit, zerolog.Nop()))

	return &testHarness{
		engine:   engine,
		sender:   sender,
		registry: reg,
		queues:   queues,
		sessions: sessions,
		policies: policies,
	}
}

func (h *testHarness) registerAgent(agentID string, maxCalls int) {
	h.engine.OnRegisterAgent(&types.RegisterAgent{
		Type:               types.MsgRegisterAgent,
		CompanyID:          "acme",
		AgentID:            agentID,
		Username:           agentID,
		MaxConcurrentCalls: maxCalls,
	})
}

func (h *testHarness) routeContact(visitorID string) string {
	h.engine.OnRouteContact(&types.RouteContact{
		Type:      types.MsgRouteContact,
		VisitorID: visitorID,
		CompanyID: "acme",
		CallType:  types.CallTypeChat,
	})
	routed := lastOfType(h.sender.visitorMsgs[visitorID], "call-routed")
	if routed == nil {
		return ""
	}
	return routed["sessionId"].(string)
}

func (h *testHarness) ringingSession(agentID string) string {
	incoming := lastOfType(h.sender.agentMsgs[agentID], "incoming-contact")
	if incoming == nil {
		return ""
	}
	return incoming["sessionId"].(string)
}

func TestContactRingsFreeAgentThenQueuesNext(t *testing.T) {
	h := newHarness(25 * time.Second)
	h.registerAgent("agent-1", 1)

	// First contact rings the free agent
	s1 := h.routeContact("v1")
	if s1 == "" {
		t.Fatal("expected call-routed for v1")
	}
	if got := h.ringingSession("agent-1"); got != s1 {
		t.Fatalf("expected incoming-contact for %s, got %s", s1, got)
	}
	routed := lastOfType(h.sender.visitorMsgs["v1"], "call-routed")
	if routed["queued"] == true {
		t.Error("first contact should ring, not queue")
	}

	h.engine.OnAcceptCall(&types.AcceptCall{SessionID: s1, AgentID: "agent-1"})

	agent, _ := h.registry.Get("agent-1")
	if agent.CurrentCalls != 1 {
		t.Errorf("expected load 1 after accept, got %d", agent.CurrentCalls)
	}
	status := lastOfType(h.sender.visitorMsgs["v1"], "call-status")
	if status["state"] != "active" {
		t.Errorf("expected active status to visitor, got %v", status["state"])
	}

	// Second contact finds the agent at capacity and queues
	s2 := h.routeContact("v2")
	routed = lastOfType(h.sender.visitorMsgs["v2"], "call-routed")
	if routed["queued"] != true {
		t.Fatal("second contact should queue")
	}
	if routed["position"] != float64(1) {
		t.Errorf("expected position 1, got %v", routed["position"])
	}
	if h.queues.Len("acme") != 1 {
		t.Errorf("expected 1 waiting, got %d", h.queues.Len("acme"))
	}
	_ = s2
}

func TestRingingAgentIsNotOfferedSecondContact(t *testing.T) {
	h := newHarness(25 * time.Second)
	h.registerAgent("agent-1", 1)

	// v1 rings the agent's only slot
	s1 := h.routeContact("v1")
	if h.ringingSession("agent-1") != s1 {
		t.Fatal("expected v1 ringing agent-1")
	}

	// v2 arrives while the offer is still out: the slot is reserved and
	// v2 must queue instead of double-ringing the agent
	h.routeContact("v2")
	routed := lastOfType(h.sender.visitorMsgs["v2"], "call-routed")
	if routed["queued"] != true {
		t.Fatalf("second contact must queue behind the ringing hold, got %v", routed)
	}
	if routed["position"] != float64(1) {
		t.Errorf("expected position 1, got %v", routed["position"])
	}
	if got := countOfType(h.sender.agentMsgs["agent-1"], "incoming-contact"); got != 1 {
		t.Fatalf("expected exactly one offer to the agent, got %d", got)
	}

	h.engine.OnAcceptCall(&types.AcceptCall{SessionID: s1, AgentID: "agent-1"})

	agent, _ := h.registry.Get("agent-1")
	if agent.CurrentCalls != 1 {
		t.Errorf("expected load 1, got %d", agent.CurrentCalls)
	}
	if got := len(h.engine.ActiveSessionsForAgent("agent-1")); got != 1 {
		t.Fatalf("expected exactly 1 active session, got %d", got)
	}

	// Ending the call frees the slot and v2 rings; the counter never
	// dipped below the live session count
	h.engine.OnEndCall(&types.EndCall{SessionID: s1, By: types.PartyAgent})
	if got := len(h.engine.ActiveSessionsForAgent("agent-1")); got != 0 {
		t.Fatalf("expected no active sessions after end, got %d", got)
	}
	if countOfType(h.sender.agentMsgs["agent-1"], "incoming-contact") != 2 {
		t.Error("expected the waiting contact offered once the slot freed")
	}
}

func TestAcceptRefusedAtCapacityRequeuesContact(t *testing.T) {
	h := newHarness(25 * time.Second)
	h.registerAgent("agent-1", 1)

	s1 := h.routeContact("v1")
	if h.ringingSession("agent-1") != s1 {
		t.Fatal("expected v1 ringing agent-1")
	}

	// Capacity vanishes while the offer is out
	if err := h.registry.IncrementLoad("agent-1"); err != nil {
		t.Fatalf("increment failed: %v", err)
	}

	h.engine.OnAcceptCall(&types.AcceptCall{SessionID: s1, AgentID: "agent-1"})

	// The accept is refused, never over-subscribing the agent
	errMsg := lastOfType(h.sender.agentMsgs["agent-1"], "error")
	if errMsg == nil || errMsg["reason"] != "no_capacity" {
		t.Fatalf("expected no_capacity error, got %v", errMsg)
	}
	sess, _ := h.sessions.Get(s1)
	if sess.State() != session.StateQueued {
		t.Fatalf("expected contact requeued, got %s", sess.State())
	}
	if h.queues.Len("acme") != 1 {
		t.Errorf("expected contact waiting, got %d", h.queues.Len("acme"))
	}
	if lastOfType(h.sender.visitorMsgs["v1"], "queue-update") == nil {
		t.Error("expected queue position pushed to the visitor")
	}

	agent, _ := h.registry.Get("agent-1")
	if agent.CurrentCalls != 1 {
		t.Errorf("refused accept must not change load, got %d", agent.CurrentCalls)
	}
	if agent.RingingHolds != 0 {
		t.Errorf("expected hold released on requeue, got %d", agent.RingingHolds)
	}
}

func TestPublicContactRoutesToAcceptPublicCompany(t *testing.T) {
	h := newHarness(25 * time.Second)
	h.registerAgent("agent-1", 1)
	h.policies.Set(types.CompanyPolicy{
		CompanyID:          "acme",
		AcceptPublic:       true,
		MaxConcurrentCalls: 1,
	})

	// No companyId: the landing-page widget falls back to the public scope
	h.engine.OnRouteContact(&types.RouteContact{
		Type:      types.MsgRouteContact,
		VisitorID: "v1",
		CallType:  types.CallTypeChat,
	})

	s1 := h.ringingSession("agent-1")
	if s1 == "" {
		t.Fatal("expected public contact offered to the accept-public agent")
	}
	sess, _ := h.sessions.Get(s1)
	if sess.Contact.CompanyID != "public" {
		t.Fatalf("expected public company scope, got %s", sess.Contact.CompanyID)
	}

	h.engine.OnAcceptCall(&types.AcceptCall{SessionID: s1, AgentID: "agent-1"})

	// A second public contact waits in the public queue
	h.engine.OnRouteContact(&types.RouteContact{
		Type:      types.MsgRouteContact,
		VisitorID: "v2",
		CallType:  types.CallTypeChat,
	})
	if h.queues.Len("public") != 1 {
		t.Fatalf("expected 1 waiting in the public queue, got %d", h.queues.Len("public"))
	}

	// Freeing the agent drains its empty company queue, then the public one
	h.engine.OnEndCall(&types.EndCall{SessionID: s1, By: types.PartyAgent})
	if h.queues.Len("public") != 0 {
		t.Error("expected public queue drained to the freed agent")
	}
	incoming := lastOfType(h.sender.agentMsgs["agent-1"], "incoming-contact")
	if incoming == nil || incoming["visitorId"] != "v2" {
		t.Fatalf("expected v2 offered to agent-1, got %v", incoming)
	}
}

func TestRejectSendsSingleQueueUpdate(t *testing.T) {
	h := newHarness(25 * time.Second)
	h.registerAgent("agent-1", 1)

	s1 := h.routeContact("v1")
	h.engine.OnRejectCall(&types.RejectCall{SessionID: s1, AgentID: "agent-1"})

	// One position push for the requeue, not a duplicate pair
	if got := countOfType(h.sender.visitorMsgs["v1"], "queue-update"); got != 1 {
		t.Fatalf("expected exactly 1 queue-update after reject, got %d", got)
	}
	update := lastOfType(h.sender.visitorMsgs["v1"], "queue-update")
	if update["position"] != float64(1) {
		t.Errorf("expected position 1, got %v", update["position"])
	}
}

func TestEndCallDrainsQueueToFreedAgent(t *testing.T) {
	h := newHarness(25 * time.Second)
	h.registerAgent("agent-1", 1)

	s1 := h.routeContact("v1")
	h.engine.OnAcceptCall(&types.AcceptCall{SessionID: s1, AgentID: "agent-1"})
	s2 := h.routeContact("v2")

	// Chat ends: load drops and the waiting contact rings immediately
	h.engine.OnEndCall(&types.EndCall{SessionID: s1, By: types.PartyAgent})

	agent, _ := h.registry.Get("agent-1")
	if agent.CurrentCalls != 0 {
		t.Errorf("expected load 0 after end, got %d", agent.CurrentCalls)
	}
	if got := h.ringingSession("agent-1"); got != s2 {
		t.Fatalf("expected queued contact %s offered to freed agent, got %s", s2, got)
	}
	if h.queues.Len("acme") != 0 {
		t.Errorf("expected empty queue after drain, got %d", h.queues.Len("acme"))
	}

	routed := lastOfType(h.sender.visitorMsgs["v2"], "call-routed")
	if routed["queued"] == true {
		t.Error("v2 should have been re-routed to an agent")
	}
}

func TestFewestLoadTieBreak(t *testing.T) {
	h := newHarness(25 * time.Second)
	h.registerAgent("agent-1", 2)
	h.registerAgent("agent-2", 2)

	// agent-1 takes a call; the next contact must prefer idle agent-2
	s1 := h.routeContact("v1")
	var busy, idle string
	if h.ringingSession("agent-1") == s1 {
		busy, idle = "agent-1", "agent-2"
	} else {
		busy, idle = "agent-2", "agent-1"
	}
	h.engine.OnAcceptCall(&types.AcceptCall{SessionID: s1, AgentID: busy})

	h.routeContact("v2")
	if got := h.ringingSession(idle); got == "" {
		t.Fatalf("expected second contact offered to idle %s", idle)
	}
}

func TestRejectRequeuesFrontAndTriesNextAgent(t *testing.T) {
	h := newHarness(25 * time.Second)
	h.registerAgent("agent-1", 1)
	h.registerAgent("agent-2", 1)

	s1 := h.routeContact("v1")
	ringer := "agent-1"
	if h.ringingSession("agent-1") != s1 {
		ringer = "agent-2"
	}
	other := "agent-2"
	if ringer == "agent-2" {
		other = "agent-1"
	}

	h.engine.OnRejectCall(&types.RejectCall{SessionID: s1, AgentID: ringer})

	// The reject drains the queue straight to the other agent
	if got := h.ringingSession(other); got != s1 {
		t.Fatalf("expected contact re-offered to %s, got %q", other, got)
	}

	sess, ok := h.sessions.Get(s1)
	if !ok {
		t.Fatal("session should still be live")
	}
	if !sess.Skipped(ringer) {
		t.Error("rejecting agent should be skipped for this contact")
	}

	// Rejecting does not touch load
	agent, _ := h.registry.Get(ringer)
	if agent.CurrentCalls != 0 {
		t.Errorf("reject must not change load, got %d", agent.CurrentCalls)
	}
}

func TestRejectWithNoOtherAgentKeepsContactQueued(t *testing.T) {
	h := newHarness(25 * time.Second)
	h.registerAgent("agent-1", 1)

	s1 := h.routeContact("v1")
	h.engine.OnRejectCall(&types.RejectCall{SessionID: s1, AgentID: "agent-1"})

	// Sole agent rejected: contact waits, skip set cleared for retry
	sess, _ := h.sessions.Get(s1)
	if sess.State() != session.StateQueued {
		t.Fatalf("expected queued, got %s", sess.State())
	}
	if h.queues.Len("acme") != 1 {
		t.Fatalf("expected contact waiting, got %d", h.queues.Len("acme"))
	}
	if sess.SkipCount() != 0 {
		t.Errorf("skip set should clear when all eligible agents skipped, got %d", sess.SkipCount())
	}

	// Next sweep retries the head and rings the same agent again
	h.engine.Sweep()
	if got := h.ringingSession("agent-1"); got != s1 {
		t.Fatalf("expected retry to ring agent-1 with %s, got %q", s1, got)
	}
}

func TestRingTimeoutRequeuesContact(t *testing.T) {
	h := newHarness(0) // every ring is instantly over-age
	h.registerAgent("agent-1", 1)

	s1 := h.routeContact("v1")
	if h.ringingSession("agent-1") != s1 {
		t.Fatal("expected contact ringing agent-1")
	}

	h.engine.Sweep()

	// The hold was dropped and the agent told to stop ringing
	cancelled := lastOfType(h.sender.agentMsgs["agent-1"], "contact-cancelled")
	if cancelled == nil || cancelled["sessionId"] != s1 {
		t.Fatal("expected contact-cancelled to the silent agent")
	}

	sess, _ := h.sessions.Get(s1)
	if sess.State() != session.StateRinging && sess.State() != session.StateQueued {
		t.Fatalf("expected contact back in play, got %s", sess.State())
	}

	// The visitor saw a queue update, never an error
	if lastOfType(h.sender.visitorMsgs["v1"], "queue-update") == nil {
		t.Error("expected queue-update to the visitor after timeout")
	}
}

func TestAgentDisconnectRescuesRingingContact(t *testing.T) {
	h := newHarness(25 * time.Second)
	h.registerAgent("agent-1", 1)
	h.registerAgent("agent-2", 1)

	s1 := h.routeContact("v1")
	ringer := "agent-1"
	if h.ringingSession("agent-1") != s1 {
		ringer = "agent-2"
	}
	other := "agent-2"
	if ringer == "agent-2" {
		other = "agent-1"
	}

	h.engine.OnAgentDisconnect(ringer)

	if got := h.ringingSession(other); got != s1 {
		t.Fatalf("expected rescued contact offered to %s, got %q", other, got)
	}

	agent, _ := h.registry.Get(ringer)
	if agent.Status != types.StatusOffline {
		t.Errorf("expected disconnected agent offline, got %s", agent.Status)
	}
}

func TestVisitorAbandonReleasesActiveAgent(t *testing.T) {
	h := newHarness(25 * time.Second)
	h.registerAgent("agent-1", 1)

	s1 := h.routeContact("v1")
	h.engine.OnAcceptCall(&types.AcceptCall{SessionID: s1, AgentID: "agent-1"})

	h.engine.OnVisitorDisconnect("v1")

	agent, _ := h.registry.Get("agent-1")
	if agent.CurrentCalls != 0 {
		t.Errorf("expected load released on abandon, got %d", agent.CurrentCalls)
	}
	cancelled := lastOfType(h.sender.agentMsgs["agent-1"], "contact-cancelled")
	if cancelled == nil || cancelled["sessionId"] != s1 {
		t.Fatal("expected contact-cancelled to the agent")
	}
	if _, ok := h.sessions.Get(s1); ok {
		t.Error("abandoned session should be archived out of the live store")
	}
}

func TestVoiceEndEntersWrapUpAndHoldsAgent(t *testing.T) {
	h := newHarness(25 * time.Second)
	h.registerAgent("agent-1", 1)

	h.engine.OnRouteContact(&types.RouteContact{
		Type:      types.MsgRouteContact,
		VisitorID: "v1",
		CompanyID: "acme",
		CallType:  types.CallTypeVoice,
	})
	s1 := h.ringingSession("agent-1")
	h.engine.OnAcceptCall(&types.AcceptCall{SessionID: s1, AgentID: "agent-1"})
	h.engine.OnEndCall(&types.EndCall{SessionID: s1, By: types.PartyAgent})

	// Load is released but the agent is out of rotation in wrap-up
	agent, _ := h.registry.Get("agent-1")
	if agent.CurrentCalls != 0 {
		t.Errorf("expected load released, got %d", agent.CurrentCalls)
	}
	if agent.Availability != types.AvailWrapUp {
		t.Fatalf("expected wrap_up availability, got %s", agent.Availability)
	}

	// A waiting contact must not reach the wrapped-up agent
	h.routeContact("v2")
	if h.queues.Len("acme") != 1 {
		t.Fatal("expected contact queued while agent wraps up")
	}

	// The visitor sees ended, the agent sees wrap_up
	vStatus := lastOfType(h.sender.visitorMsgs["v1"], "call-status")
	if vStatus["state"] != "ended" {
		t.Errorf("visitor should see ended, got %v", vStatus["state"])
	}
	aStatus := lastOfType(h.sender.agentMsgs["agent-1"], "call-status")
	if aStatus["state"] != "wrap_up" {
		t.Errorf("agent should see wrap_up, got %v", aStatus["state"])
	}

	// Disposition returns the agent to rotation and drains the queue
	h.engine.OnWrapUp(&types.WrapUpDone{SessionID: s1, AgentID: "agent-1", Disposition: "resolved"})

	agent, _ = h.registry.Get("agent-1")
	if agent.Availability != types.AvailOnline {
		t.Errorf("expected online after disposition, got %s", agent.Availability)
	}
	if h.queues.Len("acme") != 0 {
		t.Error("expected queue drained after wrap-up completion")
	}
}

func TestDuplicateAcceptAndEndAreIdempotent(t *testing.T) {
	h := newHarness(25 * time.Second)
	h.registerAgent("agent-1", 1)

	s1 := h.routeContact("v1")
	h.engine.OnAcceptCall(&types.AcceptCall{SessionID: s1, AgentID: "agent-1"})
	h.engine.OnAcceptCall(&types.AcceptCall{SessionID: s1, AgentID: "agent-1"})

	agent, _ := h.registry.Get("agent-1")
	if agent.CurrentCalls != 1 {
		t.Errorf("duplicate accept must not double-count load, got %d", agent.CurrentCalls)
	}
	if errMsg := lastOfType(h.sender.agentMsgs["agent-1"], "error"); errMsg != nil {
		t.Error("duplicate accept should be tolerated silently")
	}

	h.engine.OnEndCall(&types.EndCall{SessionID: s1, By: types.PartyAgent})
	h.engine.OnEndCall(&types.EndCall{SessionID: s1, By: types.PartyAgent})

	agent, _ = h.registry.Get("agent-1")
	if agent.CurrentCalls != 0 {
		t.Errorf("duplicate end must not underflow load, got %d", agent.CurrentCalls)
	}
}

func TestAcceptUnknownSessionNotifiesAgent(t *testing.T) {
	h := newHarness(25 * time.Second)
	h.registerAgent("agent-1", 1)

	h.engine.OnAcceptCall(&types.AcceptCall{SessionID: "ghost", AgentID: "agent-1"})

	errMsg := lastOfType(h.sender.agentMsgs["agent-1"], "error")
	if errMsg == nil || errMsg["reason"] != "not_found" {
		t.Fatalf("expected not_found error, got %v", errMsg)
	}
}

func TestForceEndActiveSession(t *testing.T) {
	h := newHarness(25 * time.Second)
	h.registerAgent("agent-1", 1)

	s1 := h.routeContact("v1")
	h.engine.OnAcceptCall(&types.AcceptCall{SessionID: s1, AgentID: "agent-1"})

	if !h.engine.ForceEnd(s1) {
		t.Fatal("expected force-end to succeed")
	}
	agent, _ := h.registry.Get("agent-1")
	if agent.CurrentCalls != 0 {
		t.Errorf("expected load released, got %d", agent.CurrentCalls)
	}

	if h.engine.ForceEnd("ghost") {
		t.Error("expected false for unknown session")
	}
}

func TestWipeQueuesAbandonsWaiting(t *testing.T) {
	h := newHarness(25 * time.Second)
	// No agents: everything queues
	h.routeContact("v1")
	h.routeContact("v2")

	if got := h.engine.WipeQueues(); got != 2 {
		t.Fatalf("expected 2 wiped, got %d", got)
	}
	if h.queues.Len("acme") != 0 {
		t.Error("expected empty queue")
	}
	status := lastOfType(h.sender.visitorMsgs["v1"], "call-status")
	if status["state"] != "abandoned" {
		t.Errorf("expected abandoned status to visitor, got %v", status["state"])
	}
}

func TestStaleChosenAgentFallsThroughToNext(t *testing.T) {
	h := newHarness(25 * time.Second)
	h.registerAgent("agent-1", 1)
	h.registerAgent("agent-2", 1)

	// agent-1 ranks first (registered earlier, same load) but its
	// connection is dead
	h.sender.deadAgents["agent-1"] = true

	s1 := h.routeContact("v1")
	if got := h.ringingSession("agent-2"); got != s1 {
		t.Fatalf("expected fallthrough to agent-2, got %q", got)
	}
	agent, _ := h.registry.Get("agent-1")
	if agent.Status != types.StatusOffline {
		t.Errorf("unreachable agent should be marked offline, got %s", agent.Status)
	}
}
