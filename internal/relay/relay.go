package relay

import (
	"encoding/json"
	"sync"

	"github.com/bridgedesk/backend/internal/metrics"
	"github.com/bridgedesk/backend/internal/types"
	"github.com/rs/zerolog"
)

// Party labels used in the signaling envelope's from field
const (
	PartyVisitor = types.PartyVisitor
	PartyAgent   = types.PartyAgent
)

// Sender delivers raw messages to connected parties
type Sender interface {
	SendToAgent(agentID string, message []byte) bool
	SendToVisitor(visitorID string, message []byte) bool
}

// SessionResolver maps a session id to its two connection identities.
// ok is false for unknown sessions and for sessions not yet ringing,
// which gates relaying on a live handshake window.
type SessionResolver interface {
	SignalingParties(sessionID string) (visitorID, agentID string, ok bool)
}

// sessionBuffers holds per-party readiness and buffered candidates for
// one session. A party is ready once it has sent its first signaling
// message; candidates destined to a not-yet-ready party are held in
// arrival order up to the configured bound, oldest discarded first.
type sessionBuffers struct {
	ready   map[string]bool
	pending map[string][][]byte // destination party -> buffered messages
}

// Relay forwards WebRTC offer/answer/ICE messages between the two
// parties of a session without inspecting payloads.
type Relay struct {
	sessions SessionResolver
	sender   Sender
	bufLimit int
	buffers  map[string]*sessionBuffers // sessionID -> buffers
	mu       sync.Mutex
	logger   zerolog.Logger
}

// NewRelay creates a signaling relay
func NewRelay(sessions SessionResolver, sender Sender, bufLimit int, logger zerolog.Logger) *Relay {
	if bufLimit <= 0 {
		bufLimit = 16
	}
	return &Relay{
		sessions: sessions,
		sender:   sender,
		bufLimit: bufLimit,
		buffers:  make(map[string]*sessionBuffers),
		logger:   logger.With().Str("component", "relay").Logger(),
	}
}

// Forward relays a signaling message to the session's other party.
// Loss is never propagated as a session-ending error: unknown sessions
// and unreachable counterparts are dropped with a warning.
func (r *Relay) Forward(sig *types.WebRTCSignal) {
	m := metrics.Get()

	visitorID, agentID, ok := r.sessions.SignalingParties(sig.SessionID)
	if !ok {
		r.logger.Warn().
			Str("session_id", sig.SessionID).
			Str("type", sig.Type).
			Msg("signal for unknown or not-yet-ringing session dropped")
		m.RecordRelayDropped()
		return
	}

	var target string
	switch sig.From {
	case PartyVisitor:
		target = PartyAgent
	case PartyAgent:
		target = PartyVisitor
	default:
		r.logger.Warn().
			Str("session_id", sig.SessionID).
			Str("from", sig.From).
			Msg("signal with unknown sender party dropped")
		m.RecordRelayDropped()
		return
	}

	data, err := json.Marshal(sig)
	if err != nil {
		r.logger.Error().Err(err).Str("session_id", sig.SessionID).Msg("failed to marshal signal")
		m.RecordRelayDropped()
		return
	}

	r.mu.Lock()
	buf := r.buffers[sig.SessionID]
	if buf == nil {
		buf = &sessionBuffers{
			ready:   make(map[string]bool),
			pending: make(map[string][][]byte),
		}
		r.buffers[sig.SessionID] = buf
	}

	// The sender's first message marks it ready; flush anything held
	// for it in arrival order.
	var flush [][]byte
	if !buf.ready[sig.From] {
		buf.ready[sig.From] = true
		flush = buf.pending[sig.From]
		delete(buf.pending, sig.From)
	}

	buffered := false
	if sig.Type == types.MsgWebRTCCandidate && !buf.ready[target] {
		queue := append(buf.pending[target], data)
		if len(queue) > r.bufLimit {
			queue = queue[len(queue)-r.bufLimit:]
		}
		buf.pending[target] = queue
		buffered = true
	}
	r.mu.Unlock()

	for _, held := range flush {
		if r.deliver(sig.From, visitorID, agentID, held) {
			m.RecordRelayForwarded()
		} else {
			m.RecordRelayDropped()
		}
	}

	if buffered {
		r.logger.Debug().
			Str("session_id", sig.SessionID).
			Str("target", target).
			Msg("candidate buffered, counterpart not ready")
		m.RecordRelayBuffered()
		return
	}

	if r.deliver(target, visitorID, agentID, data) {
		m.RecordRelayForwarded()
		return
	}

	r.logger.Warn().
		Str("session_id", sig.SessionID).
		Str("type", sig.Type).
		Str("target", target).
		Msg("counterpart unreachable, signal dropped")
	m.RecordRelayDropped()
}

// Release discards all buffers for a terminated session
func (r *Relay) Release(sessionID string) {
	r.mu.Lock()
	delete(r.buffers, sessionID)
	r.mu.Unlock()
}

// PendingCount returns the buffered candidate count destined to a party
func (r *Relay) PendingCount(sessionID, party string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.buffers[sessionID]
	if !ok {
		return 0
	}
	return len(buf.pending[party])
}

func (r *Relay) deliver(party, visitorID, agentID string, data []byte) bool {
	if party == PartyAgent {
		return agentID != "" && r.sender.SendToAgent(agentID, data)
	}
	return visitorID != "" && r.sender.SendToVisitor(visitorID, data)
}
