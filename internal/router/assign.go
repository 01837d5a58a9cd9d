package router

import (
	"github.com/bridgedesk/backend/internal/metrics"
	"github.com/bridgedesk/backend/internal/queue"
	"github.com/bridgedesk/backend/internal/session"
	"github.com/bridgedesk/backend/internal/types"
)

// route matches a fresh contact to an agent or enqueues it. Caller
// holds the engine mutex.
func (e *Engine) route(sess *session.Session) {
	if e.tryAssign(sess) {
		metrics.Get().RecordContactRouted()
		return
	}

	if sess.State() == session.StateCreated || sess.State() == session.StateRinging {
		if err := sess.ToQueued(); err != nil {
			e.logger.Error().Err(err).Str("session_id", sess.ID).Msg("enqueue transition failed")
			return
		}
	}

	entry, updates := e.queues.Enqueue(sess.ID, sess.Contact)
	metrics.Get().RecordContactQueued()

	e.sendToVisitor(sess.Contact.VisitorID, types.CallRouted{
		Type:            "call-routed",
		SessionID:       sess.ID,
		Queued:          true,
		Position:        entry.Position,
		EstimateSeconds: e.queues.EstimateSeconds(sess.Contact.CompanyID, entry.Position),
	})
	e.emitQueueUpdates(updates)
}

// tryAssign offers the session to the best eligible agent, walking down
// the ranking when a chosen agent's connection turns out to be stale.
// Returns true once an agent is ringing.
func (e *Engine) tryAssign(sess *session.Session) bool {
	candidates := e.eligibleFor(sess)
	if len(candidates) == 0 {
		return false
	}

	for i := range candidates {
		agent := &candidates[i]
		if err := e.registry.AddHold(agent.AgentID); err != nil {
			continue
		}
		if err := sess.ToRinging(agent.AgentID); err != nil {
			e.logger.Error().Err(err).Str("session_id", sess.ID).Msg("ring transition failed")
			e.registry.ReleaseHold(agent.AgentID)
			return false
		}

		sent := e.sendToAgent(agent.AgentID, types.IncomingContact{
			Type:      "incoming-contact",
			SessionID: sess.ID,
			VisitorID: sess.Contact.VisitorID,
			PageURL:   sess.Contact.PageURL,
			CallType:  sess.Contact.CallType,
			Priority:  sess.Contact.Priority,
		})
		if !sent {
			// Stale connection: drop the hold and try the next ranked
			// agent instead of failing the contact.
			e.logger.Warn().
				Str("session_id", sess.ID).
				Str("agent_id", agent.AgentID).
				Msg("chosen agent unreachable, retrying next ranked")
			_ = sess.ToQueued()
			e.registry.ReleaseHold(agent.AgentID)
			_ = e.registry.SetConnected(agent.AgentID, false)
			continue
		}

		e.registry.MarkAssigned(agent.AgentID)
		e.logger.Info().
			Str("session_id", sess.ID).
			Str("agent_id", agent.AgentID).
			Msg("contact ringing")

		e.sendToVisitor(sess.Contact.VisitorID, types.CallRouted{
			Type:      "call-routed",
			SessionID: sess.ID,
			Queued:    false,
			AgentRef:  agent.Username,
		})
		e.emitCallStatus(sess)
		return true
	}
	return false
}

// eligibleFor ranks the eligible agents for a session's scope, minus
// the agents the contact has already skipped. When the skip set covers
// every eligible agent, it is cleared so the contact is re-eligible for
// them on the next attempt rather than starved.
func (e *Engine) eligibleFor(sess *session.Session) []types.AgentInfo {
	public := sess.Contact.CompanyID == e.publicCompanyID
	eligible := e.registry.ListEligible(sess.Contact.CompanyID, public)
	if len(eligible) == 0 {
		return nil
	}

	filtered := make([]types.AgentInfo, 0, len(eligible))
	for _, agent := range eligible {
		if !sess.Skipped(agent.AgentID) {
			filtered = append(filtered, agent)
		}
	}
	if len(filtered) == 0 {
		// One retry cycle: no other agent is idle, so the skipped
		// agents come back into play for the next attempt.
		sess.ClearSkips()
		return nil
	}
	return filtered
}

// requeueFront returns a rejected or timed-out contact to the front of
// its priority class, keeping its original wait clock and releasing the
// agent's ringing hold.
func (e *Engine) requeueFront(sess *session.Session) {
	heldBy := ""
	if sess.State() == session.StateRinging {
		heldBy = sess.AgentID()
	}

	if err := sess.ToQueued(); err != nil {
		e.logger.Error().Err(err).Str("session_id", sess.ID).Msg("requeue transition failed")
		return
	}
	if heldBy != "" {
		e.registry.ReleaseHold(heldBy)
	}

	entry := &queue.Entry{
		SessionID:  sess.ID,
		Contact:    sess.Contact,
		EnqueuedAt: sess.QueuedAt,
	}
	// The recompute covers the re-inserted entry, so its own position
	// update rides along with its neighbours'.
	e.emitQueueUpdates(e.queues.EnqueueFront(entry))
}

// drainForAgent pulls queued contacts toward a newly-freed agent until
// it is no longer eligible or the relevant queues are empty. The agent
// serves its company queue and, when its company accepts public
// routing, the public queue.
func (e *Engine) drainForAgent(agentID string) {
	for {
		agent, ok := e.registry.Get(agentID)
		if !ok || !agent.Eligible() {
			return
		}

		companyID := agent.CompanyID
		if e.queues.Len(companyID) == 0 {
			if !e.policies.Policy(companyID).AcceptPublic {
				return
			}
			companyID = e.publicCompanyID
			if e.queues.Len(companyID) == 0 {
				return
			}
		}

		if !e.drainOne(companyID) {
			return
		}
		metrics.Get().RecordQueueDrain()
	}
}

// drainCompany re-attempts routing for the head of one company queue
// until nothing more is assignable
func (e *Engine) drainCompany(companyID string) {
	for e.drainOne(companyID) {
	}
}

// drainOne dequeues the head entry and tries to assign it. On failure
// the entry goes back to the front with its position intact.
func (e *Engine) drainOne(companyID string) bool {
	entry, updates := e.queues.DequeueNext(companyID)
	if entry == nil {
		return false
	}

	sess, ok := e.sessions.Get(entry.SessionID)
	if !ok {
		// Session vanished (wipe or archive race): drop the entry
		e.emitQueueUpdates(updates)
		return true
	}

	if !e.tryAssign(sess) {
		e.queues.EnqueueFront(entry)
		return false
	}
	e.emitQueueUpdates(updates)
	return true
}

// rescueRinging requeues every contact soft-held on an agent that just
// vanished, then retries routing for their companies.
func (e *Engine) rescueRinging(agentID string) {
	for _, sess := range e.sessions.RingingForAgent(agentID) {
		e.logger.Info().
			Str("session_id", sess.ID).
			Str("agent_id", agentID).
			Msg("requeueing contact held by vanished agent")
		e.requeueFront(sess)
		e.drainCompany(sess.Contact.CompanyID)
	}
}
