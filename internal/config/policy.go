package config

import (
	"sync"

	"github.com/bridgedesk/backend/internal/types"
)

// PolicyProvider resolves per-company routing policy. The engine treats
// policy as an external collaborator; this in-memory provider backs it
// until the company store is consulted.
type PolicyProvider interface {
	Policy(companyID string) types.CompanyPolicy
}

// StaticPolicies is a mutable in-memory PolicyProvider seeded with defaults
type StaticPolicies struct {
	defaults types.CompanyPolicy
	byID     map[string]types.CompanyPolicy
	mu       sync.RWMutex
}

// NewStaticPolicies creates a provider that answers every company with the
// configured defaults until a specific policy is set.
func NewStaticPolicies(defaultMaxCalls int) *StaticPolicies {
	return &StaticPolicies{
		defaults: types.CompanyPolicy{
			AcceptPublic:       false,
			MaxConcurrentCalls: defaultMaxCalls,
		},
		byID: make(map[string]types.CompanyPolicy),
	}
}

// Policy returns the policy for a company, falling back to defaults
func (p *StaticPolicies) Policy(companyID string) types.CompanyPolicy {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if policy, ok := p.byID[companyID]; ok {
		return policy
	}
	policy := p.defaults
	policy.CompanyID = companyID
	return policy
}

// Set overrides the policy for a single company
func (p *StaticPolicies) Set(policy types.CompanyPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if policy.MaxConcurrentCalls <= 0 {
		policy.MaxConcurrentCalls = p.defaults.MaxConcurrentCalls
	}
	p.byID[policy.CompanyID] = policy
}
