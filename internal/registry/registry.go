package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bridgedesk/backend/internal/types"
)

// ErrNotFound is returned for operations on an unknown agent id.
// Callers treat it as a no-op signal, never as a fatal condition.
var ErrNotFound = errors.New("agent not found")

// ErrAtCapacity is returned when a load or hold mutation would exceed
// the agent's configured concurrent-call capacity.
var ErrAtCapacity = errors.New("agent at capacity")

// PolicyProvider supplies the default capacity for a registering agent
type PolicyProvider interface {
	Policy(companyID string) types.CompanyPolicy
}

// AgentRegistry is the authoritative in-memory record of agent
// connection identity, availability, and concurrent-call load.
// All mutation goes through its methods; reads return snapshot copies.
type AgentRegistry struct {
	agents   map[string]*types.AgentInfo // agentID -> current state
	policies PolicyProvider
	mu       sync.RWMutex
}

// NewAgentRegistry creates a new agent registry
func NewAgentRegistry(policies PolicyProvider) *AgentRegistry {
	return &AgentRegistry{
		agents:   make(map[string]*types.AgentInfo),
		policies: policies,
	}
}

// Register binds an agent to the registry, setting it online. Idempotent
// for reconnects: an existing entry keeps its load and availability so a
// dropped-and-restored connection does not reset an agent mid-call.
func (r *AgentRegistry) Register(companyID, agentID, username string, maxCalls int) *types.AgentInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if existing, ok := r.agents[agentID]; ok {
		existing.Status = types.StatusOnline
		existing.LastSeen = now
		if existing.Availability == types.AvailOffline {
			existing.Availability = types.AvailOnline
		}
		if maxCalls > 0 {
			existing.MaxConcurrentCalls = maxCalls
		}
		snapshot := *existing
		return &snapshot
	}

	if maxCalls <= 0 {
		maxCalls = r.policies.Policy(companyID).MaxConcurrentCalls
	}

	agent := &types.AgentInfo{
		AgentID:            agentID,
		CompanyID:          companyID,
		Username:           username,
		Status:             types.StatusOnline,
		Availability:       types.AvailOnline,
		MaxConcurrentCalls: maxCalls,
		RegisteredAt:       now,
		LastSeen:           now,
	}
	r.agents[agentID] = agent

	snapshot := *agent
	return &snapshot
}

// SetAvailability updates an agent's availability
func (r *AgentRegistry) SetAvailability(agentID string, availability types.Availability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	agent.Availability = availability
	agent.LastSeen = time.Now()
	return nil
}

// SetConnected marks an agent's gateway connection up or down. A
// disconnected agent stays in the registry as offline so its history
// survives a reconnect.
func (r *AgentRegistry) SetConnected(agentID string, connected bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	if connected {
		agent.Status = types.StatusOnline
	} else {
		agent.Status = types.StatusOffline
	}
	agent.LastSeen = time.Now()
	return nil
}

// Touch records gateway activity for the stale sweep
func (r *AgentRegistry) Touch(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agent, ok := r.agents[agentID]; ok {
		agent.LastSeen = time.Now()
	}
}

// IncrementLoad adds one concurrent call to an agent, erroring at capacity
func (r *AgentRegistry) IncrementLoad(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	if agent.CurrentCalls >= agent.MaxConcurrentCalls {
		return ErrAtCapacity
	}
	agent.CurrentCalls++
	return nil
}

// AddHold reserves one capacity slot for a ringing offer. Holds keep
// the agent out of further selection without counting as load, so an
// unanswered ring can never over-subscribe the agent.
func (r *AgentRegistry) AddHold(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	if agent.CurrentCalls+agent.RingingHolds >= agent.MaxConcurrentCalls {
		return ErrAtCapacity
	}
	agent.RingingHolds++
	return nil
}

// ReleaseHold drops one ringing reservation on reject, timeout, or
// abandon. A no-op at zero.
func (r *AgentRegistry) ReleaseHold(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agent, ok := r.agents[agentID]; ok && agent.RingingHolds > 0 {
		agent.RingingHolds--
	}
}

// ConfirmHold converts a ringing reservation into counted load when the
// agent accepts. On a capacity refusal the hold is left in place so the
// caller can release it while requeueing the contact.
func (r *AgentRegistry) ConfirmHold(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	if agent.CurrentCalls >= agent.MaxConcurrentCalls {
		return ErrAtCapacity
	}
	if agent.RingingHolds > 0 {
		agent.RingingHolds--
	}
	agent.CurrentCalls++
	return nil
}

// DecrementLoad releases one concurrent call. A no-op at zero, so a
// duplicate end-call signal cannot drive the count negative.
func (r *AgentRegistry) DecrementLoad(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	if agent.CurrentCalls > 0 {
		agent.CurrentCalls--
	}
	return nil
}

// MarkAssigned stamps the round-robin fairness clock for an agent
func (r *AgentRegistry) MarkAssigned(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agent, ok := r.agents[agentID]; ok {
		agent.LastAssigned = time.Now()
	}
}

// Get returns a snapshot of a single agent
func (r *AgentRegistry) Get(agentID string) (types.AgentInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return types.AgentInfo{}, false
	}
	return *agent, true
}

// ListEligible returns the ranked eligible agents for a company scope.
// When public is true, agents of any company whose policy accepts public
// routing are included. Ranking: fewest current calls, then longest time
// since last assignment, then agent id for a stable order.
func (r *AgentRegistry) ListEligible(companyID string, public bool) []types.AgentInfo {
	r.mu.RLock()
	eligible := make([]types.AgentInfo, 0)
	for _, agent := range r.agents {
		if !agent.Eligible() {
			continue
		}
		if agent.CompanyID == companyID {
			eligible = append(eligible, *agent)
			continue
		}
		if public && r.policies.Policy(agent.CompanyID).AcceptPublic {
			eligible = append(eligible, *agent)
		}
	}
	r.mu.RUnlock()

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].CurrentCalls != eligible[j].CurrentCalls {
			return eligible[i].CurrentCalls < eligible[j].CurrentCalls
		}
		if !eligible[i].LastAssigned.Equal(eligible[j].LastAssigned) {
			return eligible[i].LastAssigned.Before(eligible[j].LastAssigned)
		}
		return eligible[i].AgentID < eligible[j].AgentID
	})
	return eligible
}

// CountByCompany returns online and eligible agent counts for the
// availability probe
func (r *AgentRegistry) CountByCompany(companyID string) (online, eligible int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, agent := range r.agents {
		if agent.CompanyID != companyID || agent.Status != types.StatusOnline {
			continue
		}
		online++
		if agent.Eligible() {
			eligible++
		}
	}
	return
}

// GetAll returns snapshots of every tracked agent
func (r *AgentRegistry) GetAll() []types.AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]types.AgentInfo, 0, len(r.agents))
	for _, agent := range r.agents {
		agents = append(agents, *agent)
	}
	return agents
}

// MarkStale flags agents with no gateway activity within maxIdle as
// offline, returning their ids so the router can rescue their ringing
// sessions.
func (r *AgentRegistry) MarkStale(maxIdle time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	threshold := time.Now().Add(-maxIdle)
	var stale []string
	for id, agent := range r.agents {
		if agent.Status == types.StatusOnline && agent.LastSeen.Before(threshold) {
			agent.Status = types.StatusOffline
			stale = append(stale, id)
		}
	}
	return stale
}

// Count returns the total number of tracked agents
func (r *AgentRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
