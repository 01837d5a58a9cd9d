package gateway

import (
	"context"
	"sync"

	"github.com/bridgedesk/backend/internal/metrics"
	"github.com/bridgedesk/backend/internal/types"
	"github.com/rs/zerolog"
)

// Dispatcher is the engine surface invoked by the gateway's dispatch
// loop. All methods are called from a single goroutine, so the engine
// sees a strictly ordered event stream.
type Dispatcher interface {
	OnRegisterAgent(*types.RegisterAgent)
	OnAgentStatus(*types.AgentStatusChange)
	OnRouteContact(*types.RouteContact)
	OnAcceptCall(*types.AcceptCall)
	OnRejectCall(*types.RejectCall)
	OnEndCall(*types.EndCall)
	OnCancelContact(*types.CancelContact)
	OnWrapUp(*types.WrapUpDone)
	OnSignal(*types.WebRTCSignal)
	OnAgentActivity(agentID string)
	OnAgentDisconnect(agentID string)
	OnVisitorDisconnect(visitorID string)
}

// event is one unit of work for the dispatch loop
type event struct {
	msg any // a *types.X message, or a lifecycle marker below
}

type agentConnected struct{ client *AgentClient }
type agentDisconnected struct{ client *AgentClient }
type visitorConnected struct{ client *VisitorClient }
type visitorDisconnected struct{ client *VisitorClient }
type agentActivity struct{ agentID string }

// Gateway is the engine's sole I/O surface: it owns the WebSocket
// connections of agents and visitors and funnels their messages into
// one dispatch loop.
type Gateway struct {
	agents   map[string]*AgentClient   // agentID -> client
	visitors map[string]*VisitorClient // visitorID -> client

	events     chan event
	dispatcher Dispatcher

	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewGateway creates a gateway. SetDispatcher must be called before Run.
func NewGateway(logger zerolog.Logger) *Gateway {
	return &Gateway{
		agents:   make(map[string]*AgentClient),
		visitors: make(map[string]*VisitorClient),
		events:   make(chan event, 256),
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
}

// SetDispatcher wires the engine (constructed after the gateway, since
// the engine sends through it)
func (g *Gateway) SetDispatcher(d Dispatcher) {
	g.dispatcher = d
}

// Run drives the dispatch loop until the context is cancelled
func (g *Gateway) Run(ctx context.Context) {
	g.logger.Info().Msg("gateway dispatch loop started")
	m := metrics.Get()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info().Msg("gateway dispatch loop stopped")
			return
		case ev := <-g.events:
			switch msg := ev.msg.(type) {
			case agentConnected:
				g.addAgent(msg.client)
				m.RecordAgentConnect()

			case agentDisconnected:
				if g.removeAgent(msg.client) {
					m.RecordAgentDisconnect()
					g.dispatcher.OnAgentDisconnect(msg.client.agentID)
				}

			case visitorConnected:
				g.addVisitor(msg.client)
				m.RecordVisitorConnect()

			case visitorDisconnected:
				if g.removeVisitor(msg.client) {
					m.RecordVisitorDisconnect()
					g.dispatcher.OnVisitorDisconnect(msg.client.visitorID)
				}

			case agentActivity:
				g.dispatcher.OnAgentActivity(msg.agentID)

			case *types.RegisterAgent:
				g.dispatcher.OnRegisterAgent(msg)
			case *types.AgentStatusChange:
				g.dispatcher.OnAgentStatus(msg)
			case *types.RouteContact:
				g.dispatcher.OnRouteContact(msg)
			case *types.AcceptCall:
				g.dispatcher.OnAcceptCall(msg)
			case *types.RejectCall:
				g.dispatcher.OnRejectCall(msg)
			case *types.EndCall:
				g.dispatcher.OnEndCall(msg)
			case *types.CancelContact:
				g.dispatcher.OnCancelContact(msg)
			case *types.WrapUpDone:
				g.dispatcher.OnWrapUp(msg)
			case *types.WebRTCSignal:
				g.dispatcher.OnSignal(msg)

			default:
				g.logger.Error().Msg("unhandled event type in dispatch loop")
			}
		}
	}
}

// push enqueues an event for the dispatch loop
func (g *Gateway) push(msg any) {
	g.events <- event{msg: msg}
}

// SendToAgent sends a message to a specific agent
func (g *Gateway) SendToAgent(agentID string, message []byte) bool {
	g.mu.RLock()
	client, ok := g.agents[agentID]
	g.mu.RUnlock()

	if !ok {
		return false
	}
	return client.safeSend(message)
}

// SendToVisitor sends a message to a specific visitor
func (g *Gateway) SendToVisitor(visitorID string, message []byte) bool {
	g.mu.RLock()
	client, ok := g.visitors[visitorID]
	g.mu.RUnlock()

	if !ok {
		return false
	}
	return client.safeSend(message)
}

// AgentCount returns the number of connected agent clients
func (g *Gateway) AgentCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.agents)
}

// VisitorCount returns the number of connected visitor clients
func (g *Gateway) VisitorCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.visitors)
}

func (g *Gateway) addAgent(client *AgentClient) {
	g.mu.Lock()
	// Replace a stale client with the same agentID (reconnect)
	if existing, ok := g.agents[client.agentID]; ok && existing != client {
		existing.Close()
	}
	g.agents[client.agentID] = client
	total := len(g.agents)
	g.mu.Unlock()

	g.logger.Debug().
		Str("agent_id", client.agentID).
		Int("total_agents", total).
		Msg("agent connected")
}

func (g *Gateway) removeAgent(client *AgentClient) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.agents[client.agentID]; ok && existing == client {
		delete(g.agents, client.agentID)
		client.Close()
		g.logger.Debug().
			Str("agent_id", client.agentID).
			Int("total_agents", len(g.agents)).
			Msg("agent disconnected")
		return true
	}
	return false
}

func (g *Gateway) addVisitor(client *VisitorClient) {
	g.mu.Lock()
	if existing, ok := g.visitors[client.visitorID]; ok && existing != client {
		existing.Close()
	}
	g.visitors[client.visitorID] = client
	total := len(g.visitors)
	g.mu.Unlock()

	g.logger.Debug().
		Str("visitor_id", client.visitorID).
		Int("total_visitors", total).
		Msg("visitor connected")
}

func (g *Gateway) removeVisitor(client *VisitorClient) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.visitors[client.visitorID]; ok && existing == client {
		delete(g.visitors, client.visitorID)
		client.Close()
		g.logger.Debug().
			Str("visitor_id", client.visitorID).
			Int("total_visitors", len(g.visitors)).
			Msg("visitor disconnected")
		return true
	}
	return false
}
