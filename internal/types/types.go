package types

import "time"

// AgentStatus represents whether an agent has a live connection
type AgentStatus string

const (
	StatusOnline  AgentStatus = "online"
	StatusOffline AgentStatus = "offline"
)

// Availability represents an agent's willingness to take new contacts
type Availability string

const (
	AvailOnline  Availability = "online"
	AvailBusy    Availability = "busy"
	AvailBreak   Availability = "break"
	AvailWrapUp  Availability = "wrap_up"
	AvailOffline Availability = "offline"
)

// CallType distinguishes voice calls from chat contacts
type CallType string

const (
	CallTypeVoice CallType = "call"
	CallTypeChat  CallType = "chat"
)

// Priority is the coarse queue-ordering class for a contact
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Rank returns the ordering rank of a priority class (lower is served first)
func (p Priority) Rank() int {
	if p == PriorityHigh {
		return 0
	}
	return 1
}

// AgentInfo represents the current state of an agent
type AgentInfo struct {
	AgentID            string       `json:"agentId"`
	CompanyID          string       `json:"companyId"`
	Username           string       `json:"username"`
	Status             AgentStatus  `json:"status"`
	Availability       Availability `json:"availability"`
	MaxConcurrentCalls int          `json:"maxConcurrentCalls"`
	CurrentCalls       int          `json:"currentCalls"`
	RingingHolds       int          `json:"ringingHolds"` // offers awaiting accept/reject
	LastAssigned       time.Time    `json:"lastAssigned"`
	LastSeen           time.Time    `json:"lastSeen"` // last gateway activity
	RegisteredAt       time.Time    `json:"registeredAt"`
}

// Eligible reports whether the agent can be offered a new contact.
// Ringing offers reserve capacity: an agent being rung on its last
// slot is full until it answers.
func (a *AgentInfo) Eligible() bool {
	return a.Status == StatusOnline &&
		a.Availability == AvailOnline &&
		a.CurrentCalls+a.RingingHolds < a.MaxConcurrentCalls
}

// Contact is a visitor's single attempt to reach a company.
// Immutable once created; referenced by exactly one session.
type Contact struct {
	ContactID string    `json:"contactId"`
	VisitorID string    `json:"visitorId"`
	CompanyID string    `json:"companyId"`
	PageURL   string    `json:"pageUrl"`
	CallType  CallType  `json:"callType"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}

// QueueSnapshot describes one company queue for stats and admin views
type QueueSnapshot struct {
	CompanyID       string  `json:"companyId"`
	Length          int     `json:"length"`
	LongestWaitSecs float64 `json:"longestWaitSecs"`
	AvgHandleSecs   float64 `json:"avgHandleSecs"`
}

// CompanyPolicy is the per-company routing policy looked up by the router
type CompanyPolicy struct {
	CompanyID          string `json:"companyId"`
	AcceptPublic       bool   `json:"acceptPublic"`       // serve contacts from the public widget
	MaxConcurrentCalls int    `json:"maxConcurrentCalls"` // default agent capacity
}
