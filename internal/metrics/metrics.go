package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Metrics holds all engine counters
type Metrics struct {
	mu sync.RWMutex

	// Routing
	ContactsRoutedTotal  int64
	ContactsQueuedTotal  int64
	CallsAcceptedTotal   int64
	CallsRejectedTotal   int64
	RingTimeoutsTotal    int64
	CallsEndedTotal      int64
	ContactsAbandonedTotal int64
	QueueDrainsTotal     int64

	// Signaling relay
	RelayForwardedTotal int64
	RelayBufferedTotal  int64
	RelayDroppedTotal   int64

	// Gateway
	AgentConnectsTotal      int64
	AgentDisconnectsTotal   int64
	VisitorConnectsTotal    int64
	VisitorDisconnectsTotal int64
	activeAgents            int64
	activeVisitors          int64

	// Archival
	RecordsSavedTotal  int64
	RecordErrorsTotal  int64

	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{startTime: time.Now()}
	})
	return instance
}

func (m *Metrics) inc(counter *int64) {
	m.mu.Lock()
	*counter++
	m.mu.Unlock()
}

// RecordContactRouted counts a contact assigned straight to an agent
func (m *Metrics) RecordContactRouted() { m.inc(&m.ContactsRoutedTotal) }

// RecordContactQueued counts a contact that had to wait
func (m *Metrics) RecordContactQueued() { m.inc(&m.ContactsQueuedTotal) }

// RecordAccept counts a ringing contact accepted by its agent
func (m *Metrics) RecordAccept() { m.inc(&m.CallsAcceptedTotal) }

// RecordReject counts an agent reject
func (m *Metrics) RecordReject() { m.inc(&m.CallsRejectedTotal) }

// RecordRingTimeout counts a ring that lapsed with no answer
func (m *Metrics) RecordRingTimeout() { m.inc(&m.RingTimeoutsTotal) }

// RecordCallEnded counts a completed session
func (m *Metrics) RecordCallEnded() { m.inc(&m.CallsEndedTotal) }

// RecordAbandon counts a visitor that left before or during handling
func (m *Metrics) RecordAbandon() { m.inc(&m.ContactsAbandonedTotal) }

// RecordQueueDrain counts a queued contact picked up by a freed agent
func (m *Metrics) RecordQueueDrain() { m.inc(&m.QueueDrainsTotal) }

// RecordRelayForwarded counts a signaling message delivered
func (m *Metrics) RecordRelayForwarded() { m.inc(&m.RelayForwardedTotal) }

// RecordRelayBuffered counts an ICE candidate held for a late peer
func (m *Metrics) RecordRelayBuffered() { m.inc(&m.RelayBufferedTotal) }

// RecordRelayDropped counts a signaling message with no reachable peer
func (m *Metrics) RecordRelayDropped() { m.inc(&m.RelayDroppedTotal) }

// RecordRecordSaved counts an archived session summary
func (m *Metrics) RecordRecordSaved() { m.inc(&m.RecordsSavedTotal) }

// RecordRecordError counts a failed archival attempt
func (m *Metrics) RecordRecordError() { m.inc(&m.RecordErrorsTotal) }

// RecordAgentConnect tracks an agent gateway connection
func (m *Metrics) RecordAgentConnect() {
	m.mu.Lock()
	m.AgentConnectsTotal++
	m.activeAgents++
	m.mu.Unlock()
}

// RecordAgentDisconnect tracks an agent gateway disconnection
func (m *Metrics) RecordAgentDisconnect() {
	m.mu.Lock()
	m.AgentDisconnectsTotal++
	m.activeAgents--
	m.mu.Unlock()
}

// RecordVisitorConnect tracks a visitor gateway connection
func (m *Metrics) RecordVisitorConnect() {
	m.mu.Lock()
	m.VisitorConnectsTotal++
	m.activeVisitors++
	m.mu.Unlock()
}

// RecordVisitorDisconnect tracks a visitor gateway disconnection
func (m *Metrics) RecordVisitorDisconnect() {
	m.mu.Lock()
	m.VisitorDisconnectsTotal++
	m.activeVisitors--
	m.mu.Unlock()
}

// ActiveAgents returns the current agent connection count
func (m *Metrics) ActiveAgents() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeAgents
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		write := func(name string, value int64) {
			w.Write([]byte(name + " " + strconv.FormatInt(value, 10) + "\n"))
		}

		w.Write([]byte("bridgedesk_uptime_seconds " +
			strconv.FormatFloat(time.Since(m.startTime).Seconds(), 'f', 6, 64) + "\n"))

		write("bridgedesk_contacts_routed_total", m.ContactsRoutedTotal)
		write("bridgedesk_contacts_queued_total", m.ContactsQueuedTotal)
		write("bridgedesk_calls_accepted_total", m.CallsAcceptedTotal)
		write("bridgedesk_calls_rejected_total", m.CallsRejectedTotal)
		write("bridgedesk_ring_timeouts_total", m.RingTimeoutsTotal)
		write("bridgedesk_calls_ended_total", m.CallsEndedTotal)
		write("bridgedesk_contacts_abandoned_total", m.ContactsAbandonedTotal)
		write("bridgedesk_queue_drains_total", m.QueueDrainsTotal)

		write("bridgedesk_relay_forwarded_total", m.RelayForwardedTotal)
		write("bridgedesk_relay_buffered_total", m.RelayBufferedTotal)
		write("bridgedesk_relay_dropped_total", m.RelayDroppedTotal)

		write("bridgedesk_agent_connects_total", m.AgentConnectsTotal)
		write("bridgedesk_agent_disconnects_total", m.AgentDisconnectsTotal)
		write("bridgedesk_agent_active_connections", m.activeAgents)
		write("bridgedesk_visitor_connects_total", m.VisitorConnectsTotal)
		write("bridgedesk_visitor_disconnects_total", m.VisitorDisconnectsTotal)
		write("bridgedesk_visitor_active_connections", m.activeVisitors)

		write("bridgedesk_records_saved_total", m.RecordsSavedTotal)
		write("bridgedesk_record_errors_total", m.RecordErrorsTotal)
	}
}
