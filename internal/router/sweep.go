package router

import (
	"context"
	"time"

	"github.com/bridgedesk/backend/internal/metrics"
	"github.com/bridgedesk/backend/internal/types"
)

// SweepLoop periodically resolves ring timeouts, lapsed wrap-ups, and
// stale agents, and re-attempts routing for queue heads as a safety net
// against missed agent-freed events.
func (e *Engine) SweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().Dur("interval", interval).Msg("sweep loop started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("sweep loop stopped")
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

// Sweep performs a single maintenance pass
func (e *Engine) Sweep() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sweepRingTimeouts()
	e.sweepWrapUps()
	e.sweepStaleAgents()

	// Safety net: retry the head of every non-empty queue
	for _, companyID := range e.queues.CompanyIDs() {
		e.drainCompany(companyID)
	}
}

// sweepRingTimeouts requeues contacts whose agent never answered. The
// non-responding agent is skipped for that contact's retry but stays
// eligible for new contacts; its load never changed.
func (e *Engine) sweepRingTimeouts() {
	for _, sess := range e.sessions.RingingLongerThan(e.ringTimeout) {
		agentID := sess.AgentID()

		metrics.Get().RecordRingTimeout()
		e.logger.Info().
			Str("session_id", sess.ID).
			Str("agent_id", agentID).
			Msg("ring timeout, requeueing contact")

		// Stop the agent UI from ringing a contact it can no longer take
		e.sendToAgent(agentID, types.ContactCancelled{
			Type:      "contact-cancelled",
			SessionID: sess.ID,
		})

		e.requeueFront(sess)
		e.drainCompany(sess.Contact.CompanyID)
	}
}

// sweepWrapUps force-completes wrap-ups that lapsed without a
// disposition so the agent is not stuck out of rotation.
func (e *Engine) sweepWrapUps() {
	for _, sess := range e.sessions.WrapUpLongerThan(e.wrapUpTimeout) {
		agentID := sess.AgentID()
		if err := sess.CompleteWrapUp("auto", ""); err != nil {
			continue
		}

		e.logger.Info().
			Str("session_id", sess.ID).
			Str("agent_id", agentID).
			Msg("wrap-up lapsed, returning agent to rotation")

		if err := e.registry.SetAvailability(agentID, types.AvailOnline); err == nil {
			e.archive(sess)
			e.drainForAgent(agentID)
		} else {
			e.archive(sess)
		}
	}
}

// sweepStaleAgents marks silent agents offline and rescues contacts
// they were being offered
func (e *Engine) sweepStaleAgents() {
	for _, agentID := range e.registry.MarkStale(e.staleAfter) {
		e.logger.Warn().Str("agent_id", agentID).Msg("agent went stale, marked offline")
		e.rescueRinging(agentID)
	}
}
