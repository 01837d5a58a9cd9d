package router

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/bridgedesk/backend/internal/config"
	"github.com/bridgedesk/backend/internal/metrics"
	"github.com/bridgedesk/backend/internal/queue"
	"github.com/bridgedesk/backend/internal/registry"
	"github.com/bridgedesk/backend/internal/relay"
	"github.com/bridgedesk/backend/internal/session"
	"github.com/bridgedesk/backend/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sender delivers marshalled gateway messages to connected parties
type Sender interface {
	SendToAgent(agentID string, message []byte) bool
	SendToVisitor(visitorID string, message []byte) bool
}

// ArchiveStore appends terminal session summaries. Calls are
// fire-and-forget from the engine's perspective.
type ArchiveStore interface {
	SaveSessionRecord(record types.SessionRecord) error
}

// Engine is the routing core: it matches contacts to agents, drives
// sessions through their lifecycle, and drains queues when agents free
// up. All entry points are serialized by one mutex, so transitions
// never race even when the sweep loop and the gateway dispatch loop
// fire together.
type Engine struct {
	registry *registry.AgentRegistry
	queues   *queue.Manager
	sessions *session.Store
	relay    *relay.Relay
	sender   Sender
	policies config.PolicyProvider
	store    ArchiveStore

	ringTimeout     time.Duration
	wrapUpTimeout   time.Duration
	staleAfter      time.Duration
	publicCompanyID string

	mu     sync.Mutex
	logger zerolog.Logger
}

// NewEngine creates the routing engine. SetRelay must be called before
// signaling traffic arrives (the relay needs the engine as resolver).
func NewEngine(
	reg *registry.AgentRegistry,
	queues *queue.Manager,
	sessions *session.Store,
	sender Sender,
	policies config.PolicyProvider,
	cfg *config.Config,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		registry:        reg,
		queues:          queues,
		sessions:        sessions,
		sender:          sender,
		policies:        policies,
		ringTimeout:     cfg.RingTimeout,
		wrapUpTimeout:   cfg.WrapUpTimeout,
		staleAfter:      2 * cfg.WSReadTimeout,
		publicCompanyID: cfg.PublicCompanyID,
		logger:          logger.With().Str("component", "router").Logger(),
	}
}

// SetRelay wires the signaling relay (constructed after the engine,
// since the relay resolves parties through it)
func (e *Engine) SetRelay(r *relay.Relay) {
	e.relay = r
}

// SetStore wires the archival collaborator
func (e *Engine) SetStore(store ArchiveStore) {
	e.store = store
}

// SignalingParties resolves a session's connection identities for the
// relay. Sessions are relayable from ringing onward, so offer/ICE
// exchange can start slightly before the formal accept.
func (e *Engine) SignalingParties(sessionID string) (visitorID, agentID string, ok bool) {
	sess, found := e.sessions.Get(sessionID)
	if !found {
		return "", "", false
	}
	switch sess.State() {
	case session.StateRinging, session.StateActive:
	default:
		return "", "", false
	}
	visitorID, agentID = sess.Parties()
	return visitorID, agentID, true
}

// OnRegisterAgent handles an agent registration from the gateway
func (e *Engine) OnRegisterAgent(msg *types.RegisterAgent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	agent := e.registry.Register(msg.CompanyID, msg.AgentID, msg.Username, msg.MaxConcurrentCalls)
	e.logger.Info().
		Str("agent_id", agent.AgentID).
		Str("company_id", agent.CompanyID).
		Int("max_calls", agent.MaxConcurrentCalls).
		Msg("agent registered")

	// A registering agent is immediately available: drain its queue
	e.drainForAgent(msg.AgentID)
}

// OnAgentStatus handles an availability change
func (e *Engine) OnAgentStatus(msg *types.AgentStatusChange) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.registry.SetAvailability(msg.AgentID, msg.Availability); err != nil {
		e.logger.Warn().Str("agent_id", msg.AgentID).Msg("status change for unknown agent ignored")
		return
	}
	e.logger.Debug().
		Str("agent_id", msg.AgentID).
		Str("availability", string(msg.Availability)).
		Msg("agent availability changed")

	if msg.Availability == types.AvailOnline {
		e.drainForAgent(msg.AgentID)
	}
}

// OnRouteContact handles a visitor's route request: match an agent or
// enqueue, and tell the visitor which happened.
func (e *Engine) OnRouteContact(msg *types.RouteContact) {
	e.mu.Lock()
	defer e.mu.Unlock()

	companyID := msg.CompanyID
	if companyID == "" {
		companyID = e.publicCompanyID
	}
	priority := msg.Priority
	if priority == "" {
		priority = types.PriorityNormal
	}
	callType := msg.CallType
	if callType == "" {
		callType = types.CallTypeChat
	}

	contact := &types.Contact{
		ContactID: uuid.New().String(),
		VisitorID: msg.VisitorID,
		CompanyID: companyID,
		PageURL:   msg.PageURL,
		CallType:  callType,
		Priority:  priority,
		CreatedAt: time.Now(),
	}

	sess := session.New(uuid.New().String(), contact)
	e.sessions.Add(sess)

	e.logger.Info().
		Str("session_id", sess.ID).
		Str("visitor_id", contact.VisitorID).
		Str("company_id", companyID).
		Str("call_type", string(callType)).
		Msg("contact received")

	e.route(sess)
}

// OnAcceptCall handles an agent accepting a ringing contact. Capacity
// is confirmed before the transition: a refused accept leaves the
// session ringing so it can be returned to the queue.
func (e *Engine) OnAcceptCall(msg *types.AcceptCall) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.sessions.Get(msg.SessionID)
	if !ok {
		e.notifyAgentError(msg.AgentID, msg.SessionID, "not_found")
		return
	}

	if sess.State() == session.StateRinging && sess.AgentID() == msg.AgentID {
		if err := e.registry.ConfirmHold(msg.AgentID); err != nil {
			e.logger.Warn().
				Err(err).
				Str("session_id", sess.ID).
				Str("agent_id", msg.AgentID).
				Msg("accept refused, requeueing contact")
			e.notifyAgentError(msg.AgentID, sess.ID, "no_capacity")
			e.requeueFront(sess)
			e.drainCompany(sess.Contact.CompanyID)
			return
		}
	}

	if err := sess.ToActive(msg.AgentID); err != nil {
		e.rejectIllegal(msg.AgentID, sess, err)
		return
	}

	metrics.Get().RecordAccept()
	e.logger.Info().
		Str("session_id", sess.ID).
		Str("agent_id", msg.AgentID).
		Msg("call accepted")

	e.emitCallStatus(sess)
}

// OnRejectCall handles an agent declining a ringing contact: the
// contact returns to the front of its priority class and another agent
// is tried. Rejecting does not change the agent's load.
func (e *Engine) OnRejectCall(msg *types.RejectCall) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.sessions.Get(msg.SessionID)
	if !ok {
		e.notifyAgentError(msg.AgentID, msg.SessionID, "not_found")
		return
	}
	if sess.State() != session.StateRinging || sess.AgentID() != msg.AgentID {
		e.rejectIllegal(msg.AgentID, sess, session.ErrInvalidTransition)
		return
	}

	metrics.Get().RecordReject()
	e.logger.Info().
		Str("session_id", sess.ID).
		Str("agent_id", msg.AgentID).
		Msg("call rejected")

	e.requeueFront(sess)
	e.drainCompany(sess.Contact.CompanyID)
}

// OnEndCall handles either party ending an active session
func (e *Engine) OnEndCall(msg *types.EndCall) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.sessions.Get(msg.SessionID)
	if !ok {
		e.logger.Debug().Str("session_id", msg.SessionID).Msg("end for unknown session ignored")
		return
	}

	agentID := sess.AgentID()
	if err := sess.ToEnded(); err != nil {
		if errors.Is(err, session.ErrDuplicateEvent) {
			return // second end-call is idempotent
		}
		e.logger.Debug().
			Str("session_id", sess.ID).
			Str("state", string(sess.State())).
			Msg("end rejected, session not active")
		return
	}

	if err := e.registry.DecrementLoad(agentID); err != nil {
		e.logger.Warn().Str("agent_id", agentID).Msg("load release for unknown agent")
	}
	if !sess.AcceptedAt.IsZero() {
		e.queues.RecordHandleTime(sess.Contact.CompanyID, sess.EndedAt.Sub(sess.AcceptedAt))
	}

	metrics.Get().RecordCallEnded()
	e.logger.Info().
		Str("session_id", sess.ID).
		Str("agent_id", agentID).
		Str("by", msg.By).
		Msg("call ended")

	e.emitCallStatus(sess)
	if e.relay != nil {
		e.relay.Release(sess.ID)
	}

	if sess.State() == session.StateWrapUp {
		// Voice: the agent stays out of rotation until disposition
		if err := e.registry.SetAvailability(agentID, types.AvailWrapUp); err == nil {
			e.logger.Debug().Str("agent_id", agentID).Msg("agent entered wrap-up")
		}
		return
	}

	e.archive(sess)
	e.drainForAgent(agentID)
}

// OnWrapUp completes a voice session's wrap-up with the agent's
// disposition, returning the agent to rotation.
func (e *Engine) OnWrapUp(msg *types.WrapUpDone) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.sessions.Get(msg.SessionID)
	if !ok {
		e.notifyAgentError(msg.AgentID, msg.SessionID, "not_found")
		return
	}
	if err := sess.CompleteWrapUp(msg.Disposition, msg.Notes); err != nil {
		e.rejectIllegal(msg.AgentID, sess, err)
		return
	}

	if err := e.registry.SetAvailability(msg.AgentID, types.AvailOnline); err != nil {
		e.logger.Warn().Str("agent_id", msg.AgentID).Msg("wrap-up completion for unknown agent")
	}

	e.logger.Info().
		Str("session_id", sess.ID).
		Str("agent_id", msg.AgentID).
		Str("disposition", msg.Disposition).
		Msg("wrap-up completed")

	e.archive(sess)
	e.drainForAgent(msg.AgentID)
}

// OnCancelContact handles a visitor abandoning a session
func (e *Engine) OnCancelContact(msg *types.CancelContact) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.sessions.Get(msg.SessionID)
	if !ok {
		e.logger.Debug().Str("session_id", msg.SessionID).Msg("cancel for unknown session ignored")
		return
	}
	e.abandon(sess)
}

// OnVisitorDisconnect resolves the visitor's live session, if any,
// as abandoned.
func (e *Engine) OnVisitorDisconnect(visitorID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sess, ok := e.sessions.ByVisitor(visitorID); ok {
		e.abandon(sess)
	}
}

// OnAgentDisconnect marks the agent offline and rescues any contacts
// it was being offered. Active sessions stay up: media is peer to peer
// and the agent may reconnect; the visitor's own end or abandon
// resolves them.
func (e *Engine) OnAgentDisconnect(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.registry.SetConnected(agentID, false); err != nil {
		return
	}
	e.logger.Info().Str("agent_id", agentID).Msg("agent disconnected")
	e.rescueRinging(agentID)
}

// OnAgentActivity refreshes an agent's liveness mark on pong traffic
// so a quiet but healthy console is not swept as stale
func (e *Engine) OnAgentActivity(agentID string) {
	e.registry.Touch(agentID)
}

// OnSignal relays a WebRTC signaling message between the parties
func (e *Engine) OnSignal(sig *types.WebRTCSignal) {
	// Relaying holds no engine state; the relay serializes itself.
	if e.relay != nil {
		e.relay.Forward(sig)
	}
}

// ForceEnd terminates a session server-side (admin surface)
func (e *Engine) ForceEnd(sessionID string) bool {
	sess, ok := e.sessions.Get(sessionID)
	if !ok {
		return false
	}
	switch sess.State() {
	case session.StateActive:
		e.OnEndCall(&types.EndCall{SessionID: sessionID, By: "admin"})
	case session.StateWrapUp:
		e.OnWrapUp(&types.WrapUpDone{SessionID: sessionID, AgentID: sess.AgentID(), Disposition: "forced"})
	default:
		e.mu.Lock()
		e.abandon(sess)
		e.mu.Unlock()
	}
	return true
}

// ActiveSessionsForAgent lists the live sessions an agent is handling
// (supervisor surface)
func (e *Engine) ActiveSessionsForAgent(agentID string) []*session.Session {
	return e.sessions.ActiveForAgent(agentID)
}

// WipeQueues abandons every waiting contact (admin surface)
func (e *Engine) WipeQueues() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := e.queues.Wipe()
	for _, entry := range removed {
		if sess, ok := e.sessions.Get(entry.SessionID); ok {
			if _, _, err := sess.ToAbandoned(); err == nil {
				e.emitCallStatus(sess)
				e.archive(sess)
			}
		}
	}
	return len(removed)
}

// abandon resolves a session as abandoned, releasing any hold or load.
// Caller holds the engine mutex.
func (e *Engine) abandon(sess *session.Session) {
	agentID, wasActive, err := sess.ToAbandoned()
	if err != nil {
		return // already terminal
	}

	if removed, updates := e.queues.RemoveIfPresent(sess.ID); removed {
		e.emitQueueUpdates(updates)
	}

	if agentID != "" {
		e.sendToAgent(agentID, types.ContactCancelled{
			Type:      "contact-cancelled",
			SessionID: sess.ID,
		})
		if wasActive {
			if err := e.registry.DecrementLoad(agentID); err != nil {
				e.logger.Warn().Str("agent_id", agentID).Msg("load release for unknown agent")
			}
		} else {
			// The session was ringing: drop its capacity reservation
			e.registry.ReleaseHold(agentID)
		}
	}

	metrics.Get().RecordAbandon()
	e.logger.Info().
		Str("session_id", sess.ID).
		Str("visitor_id", sess.Contact.VisitorID).
		Msg("contact abandoned")

	e.emitCallStatus(sess)
	if e.relay != nil {
		e.relay.Release(sess.ID)
	}
	e.archive(sess)

	if agentID != "" {
		e.drainForAgent(agentID)
	}
}

// archive persists a terminal session summary and drops it from the
// live store. Persistence failures are logged, never surfaced: the
// collaborator owns retries.
func (e *Engine) archive(sess *session.Session) {
	record := sess.Record()
	e.sessions.Remove(sess.ID)

	if e.store == nil {
		return
	}
	go func() {
		if err := e.store.SaveSessionRecord(record); err != nil {
			metrics.Get().RecordRecordError()
			e.logger.Error().Err(err).Str("session_id", record.SessionID).Msg("failed to archive session")
			return
		}
		metrics.Get().RecordRecordSaved()
	}()
}

// rejectIllegal converts a refused transition into a client notification
func (e *Engine) rejectIllegal(agentID string, sess *session.Session, err error) {
	reason := "invalid_transition"
	if errors.Is(err, session.ErrDuplicateEvent) {
		// Duplicate accept/end signals are tolerated silently
		return
	}
	e.logger.Debug().
		Str("session_id", sess.ID).
		Str("agent_id", agentID).
		Str("state", string(sess.State())).
		Msg("illegal transition rejected")
	e.notifyAgentError(agentID, sess.ID, reason)
}

func (e *Engine) notifyAgentError(agentID, sessionID, reason string) {
	e.sendToAgent(agentID, types.ServerError{
		Type:      "error",
		SessionID: sessionID,
		Reason:    reason,
	})
}

// emitCallStatus pushes the authoritative state to both parties
func (e *Engine) emitCallStatus(sess *session.Session) {
	visitorID, agentID := sess.Parties()
	state := sess.State()

	// Visitors never see wrap_up: for them the call is over
	visitorState := state
	if visitorState == session.StateWrapUp {
		visitorState = session.StateEnded
	}

	e.sendToVisitor(visitorID, types.CallStatus{
		Type:      "call-status",
		SessionID: sess.ID,
		State:     string(visitorState),
		Timestamp: time.Now(),
	})
	if agentID != "" {
		e.sendToAgent(agentID, types.CallStatus{
			Type:      "call-status",
			SessionID: sess.ID,
			State:     string(state),
			Timestamp: time.Now(),
		})
	}
}

func (e *Engine) emitQueueUpdates(updates []queue.Update) {
	for _, u := range updates {
		e.sendToVisitor(u.VisitorID, types.QueueUpdate{
			Type:            "queue-update",
			SessionID:       u.SessionID,
			Position:        u.Position,
			EstimateSeconds: u.EstimateSeconds,
		})
	}
}

func (e *Engine) sendToAgent(agentID string, msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to marshal agent message")
		return false
	}
	return e.sender.SendToAgent(agentID, data)
}

func (e *Engine) sendToVisitor(visitorID string, msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to marshal visitor message")
		return false
	}
	return e.sender.SendToVisitor(visitorID, data)
}
