package types

import (
	"encoding/json"
	"time"
)

// Inbound message type discriminators
const (
	MsgRegisterAgent   = "register-agent"
	MsgAgentStatus     = "agent-status"
	MsgRouteContact    = "route-contact"
	MsgAcceptCall      = "accept-call"
	MsgRejectCall      = "reject-call"
	MsgEndCall         = "end-call"
	MsgCancelContact   = "cancel-contact"
	MsgWrapUp          = "wrap-up"
	MsgWebRTCOffer     = "webrtc-offer"
	MsgWebRTCAnswer    = "webrtc-answer"
	MsgWebRTCCandidate = "webrtc-ice-candidate"
)

// Party labels carried in wire envelopes (end-call by, signal from)
const (
	PartyVisitor = "visitor"
	PartyAgent   = "agent"
)

// RegisterAgent is sent by an agent client right after connecting
type RegisterAgent struct {
	Type               string `json:"type"` // "register-agent"
	CompanyID          string `json:"companyId"`
	AgentID            string `json:"agentId"`
	Username           string `json:"username"`
	MaxConcurrentCalls int    `json:"maxConcurrentCalls,omitempty"`
}

// AgentStatusChange is sent when an agent toggles availability
type AgentStatusChange struct {
	Type         string       `json:"type"` // "agent-status"
	AgentID      string       `json:"agentId"`
	Availability Availability `json:"availability"`
}

// RouteContact is sent by the widget when a visitor requests support
type RouteContact struct {
	Type      string   `json:"type"` // "route-contact"
	CompanyID string   `json:"companyId,omitempty"`
	VisitorID string   `json:"visitorId"`
	PageURL   string   `json:"pageUrl"`
	CallType  CallType `json:"callType"`
	Priority  Priority `json:"priority,omitempty"`
}

// AcceptCall is sent by an agent accepting a ringing contact
type AcceptCall struct {
	Type      string `json:"type"` // "accept-call"
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
}

// RejectCall is sent by an agent declining a ringing contact
type RejectCall struct {
	Type      string `json:"type"` // "reject-call"
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
}

// EndCall is sent by either party to terminate an active session
type EndCall struct {
	Type      string `json:"type"` // "end-call"
	SessionID string `json:"sessionId"`
	By        string `json:"by"` // "agent" or "visitor"
}

// CancelContact is sent by the widget when the visitor gives up while waiting
type CancelContact struct {
	Type      string `json:"type"` // "cancel-contact"
	SessionID string `json:"sessionId"`
}

// WrapUpDone carries the agent's disposition after a voice call
type WrapUpDone struct {
	Type        string `json:"type"` // "wrap-up"
	SessionID   string `json:"sessionId"`
	AgentID     string `json:"agentId"`
	Disposition string `json:"disposition"`
	Notes       string `json:"notes,omitempty"`
}

// WebRTCSignal is an opaque signaling message relayed between the two
// parties of a session. Payload is never inspected.
type WebRTCSignal struct {
	Type      string          `json:"type"` // webrtc-offer | webrtc-answer | webrtc-ice-candidate
	SessionID string          `json:"sessionId"`
	From      string          `json:"from"` // "agent" or "visitor"
	Payload   json.RawMessage `json:"payload"`
}

// IncomingContact notifies the chosen agent about a ringing contact
type IncomingContact struct {
	Type      string   `json:"type"` // "incoming-contact"
	SessionID string   `json:"sessionId"`
	VisitorID string   `json:"visitorId"`
	PageURL   string   `json:"pageUrl"`
	CallType  CallType `json:"callType"`
	Priority  Priority `json:"priority"`
}

// CallRouted tells the visitor the outcome of a route request
type CallRouted struct {
	Type            string `json:"type"` // "call-routed"
	SessionID       string `json:"sessionId"`
	Queued          bool   `json:"queued"`
	AgentRef        string `json:"agentRef,omitempty"` // display name of the agent, never the id
	Position        int    `json:"position,omitempty"`
	EstimateSeconds int    `json:"estimateSeconds,omitempty"`
}

// CallStatus is the authoritative session state pushed to both parties
type CallStatus struct {
	Type      string    `json:"type"` // "call-status"
	SessionID string    `json:"sessionId"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// QueueUpdate informs a waiting visitor of their position and estimate
type QueueUpdate struct {
	Type            string `json:"type"` // "queue-update"
	SessionID       string `json:"sessionId"`
	Position        int    `json:"position"`
	EstimateSeconds int    `json:"estimateSeconds"`
}

// ContactCancelled tells a notified agent that the visitor left
type ContactCancelled struct {
	Type      string `json:"type"` // "contact-cancelled"
	SessionID string `json:"sessionId"`
}

// AvailabilitySnapshot answers the landing-page "agents available" probe
type AvailabilitySnapshot struct {
	Type          string `json:"type"` // "availability-snapshot"
	CompanyID     string `json:"companyId"`
	OnlineCount   int    `json:"onlineCount"`
	EligibleCount int    `json:"eligibleCount"`
}

// ServerAck acknowledges a registration
type ServerAck struct {
	Type      string `json:"type"` // "ack"
	AgentID   string `json:"agentId,omitempty"`
	VisitorID string `json:"visitorId,omitempty"`
}

// ServerError reports a rejected operation back to its sender.
// Raw internal errors are never forwarded; Reason is one of the
// stable kind strings (not_found, invalid_transition, duplicate_event).
type ServerError struct {
	Type      string `json:"type"` // "error"
	SessionID string `json:"sessionId,omitempty"`
	Reason    string `json:"reason"`
}
