package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bridgedesk/backend/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ConnOptions holds connection tuning shared by agent and visitor clients
type ConnOptions struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings with this period (must be less than PongWait)
	PingPeriod time.Duration

	// Maximum message size allowed from the peer
	MaxMessageSize int64
}

// AgentClient represents a WebSocket connection from an agent console
type AgentClient struct {
	// Agent ID, set by the register-agent message
	agentID string

	// The gateway this client belongs to
	gateway *Gateway

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	opts   ConnOptions
	logger zerolog.Logger

	// done channel to signal client shutdown
	done chan struct{}

	// closeOnce ensures send channel is closed only once
	closeOnce sync.Once
}

// NewAgentClient creates a new AgentClient
func NewAgentClient(gateway *Gateway, conn *websocket.Conn, opts ConnOptions, logger zerolog.Logger) *AgentClient {
	return &AgentClient{
		gateway: gateway,
		conn:    conn,
		send:    make(chan []byte, 64),
		opts:    opts,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// readPump pumps messages from the websocket connection to the gateway
func (c *AgentClient) readPump() {
	defer func() {
		close(c.done)
		if c.agentID != "" {
			c.gateway.push(agentDisconnected{client: c})
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		if c.agentID != "" {
			c.gateway.push(agentActivity{agentID: c.agentID})
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Str("agent_id", c.agentID).Msg("agent websocket read error")
			}
			break
		}

		c.handleMessage(message)
	}
}

// handleMessage processes incoming messages from the agent
func (c *AgentClient) handleMessage(message []byte) {
	var msgType struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &msgType); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse message type")
		return
	}

	// The first register-agent binds the connection to an agent ID;
	// everything else is rejected until that happens.
	if c.agentID == "" && msgType.Type != types.MsgRegisterAgent {
		c.logger.Debug().Str("type", msgType.Type).Msg("message before registration")
		return
	}

	switch msgType.Type {
	case types.MsgRegisterAgent:
		var reg types.RegisterAgent
		if err := json.Unmarshal(message, &reg); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse register-agent message")
			return
		}
		if reg.AgentID == "" {
			c.logger.Debug().Msg("register-agent without agent_id")
			return
		}
		first := c.agentID == ""
		c.agentID = reg.AgentID
		c.logger = c.logger.With().Str("agent_id", c.agentID).Logger()
		if first {
			c.gateway.push(agentConnected{client: c})
		}
		c.gateway.push(&reg)

		ack := types.ServerAck{Type: "ack", AgentID: c.agentID}
		if data, err := json.Marshal(ack); err == nil {
			c.safeSend(data)
		}

	case types.MsgAgentStatus:
		var sc types.AgentStatusChange
		if err := json.Unmarshal(message, &sc); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse agent-status message")
			return
		}
		sc.AgentID = c.agentID
		c.gateway.push(&sc)

	case types.MsgAcceptCall:
		var ac types.AcceptCall
		if err := json.Unmarshal(message, &ac); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse accept-call message")
			return
		}
		ac.AgentID = c.agentID
		c.gateway.push(&ac)

	case types.MsgRejectCall:
		var rc types.RejectCall
		if err := json.Unmarshal(message, &rc); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse reject-call message")
			return
		}
		rc.AgentID = c.agentID
		c.gateway.push(&rc)

	case types.MsgEndCall:
		var ec types.EndCall
		if err := json.Unmarshal(message, &ec); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse end-call message")
			return
		}
		ec.By = types.PartyAgent
		c.gateway.push(&ec)

	case types.MsgWrapUp:
		var wu types.WrapUpDone
		if err := json.Unmarshal(message, &wu); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse wrap-up message")
			return
		}
		wu.AgentID = c.agentID
		c.gateway.push(&wu)

	case types.MsgWebRTCOffer, types.MsgWebRTCAnswer, types.MsgWebRTCCandidate:
		var sig types.WebRTCSignal
		if err := json.Unmarshal(message, &sig); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse signaling message")
			return
		}
		sig.From = types.PartyAgent
		c.gateway.push(&sig)

	default:
		c.logger.Debug().Str("type", msgType.Type).Msg("unknown message type")
	}
}

// writePump pumps messages from the gateway to the websocket connection
func (c *AgentClient) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *AgentClient) Start() {
	go c.writePump()
	go c.readPump()
}

// Close safely closes the client's send channel (idempotent)
func (c *AgentClient) Close() {
	c.closeOnce.Do(func() {
		defer func() {
			recover() // absorb panic if channel was already closed
		}()
		close(c.send)
	})
}

// safeSend attempts to send a message, recovering from panic if channel is closed
func (c *AgentClient) safeSend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}
