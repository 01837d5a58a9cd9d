package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bridgedesk/backend/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// VisitorClient represents a WebSocket connection from a website widget
type VisitorClient struct {
	// Visitor ID, taken from the query string or generated at upgrade
	visitorID string

	gateway *Gateway
	conn    *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	opts   ConnOptions
	logger zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewVisitorClient creates a new VisitorClient
func NewVisitorClient(gateway *Gateway, conn *websocket.Conn, visitorID string, opts ConnOptions, logger zerolog.Logger) *VisitorClient {
	return &VisitorClient{
		visitorID: visitorID,
		gateway:   gateway,
		conn:      conn,
		send:      make(chan []byte, 64),
		opts:      opts,
		logger:    logger.With().Str("visitor_id", visitorID).Logger(),
		done:      make(chan struct{}),
	}
}

// readPump pumps messages from the websocket connection to the gateway
func (c *VisitorClient) readPump() {
	defer func() {
		close(c.done)
		c.gateway.push(visitorDisconnected{client: c})
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Msg("visitor websocket read error")
			}
			break
		}

		c.handleMessage(message)
	}
}

// handleMessage processes incoming messages from the visitor
func (c *VisitorClient) handleMessage(message []byte) {
	var msgType struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &msgType); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse message type")
		return
	}

	switch msgType.Type {
	case types.MsgRouteContact:
		var rc types.RouteContact
		if err := json.Unmarshal(message, &rc); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse route-contact message")
			return
		}
		rc.VisitorID = c.visitorID
		c.gateway.push(&rc)

	case types.MsgEndCall:
		var ec types.EndCall
		if err := json.Unmarshal(message, &ec); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse end-call message")
			return
		}
		ec.By = types.PartyVisitor
		c.gateway.push(&ec)

	case types.MsgCancelContact:
		var cc types.CancelContact
		if err := json.Unmarshal(message, &cc); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse cancel-contact message")
			return
		}
		c.gateway.push(&cc)

	case types.MsgWebRTCOffer, types.MsgWebRTCAnswer, types.MsgWebRTCCandidate:
		var sig types.WebRTCSignal
		if err := json.Unmarshal(message, &sig); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse signaling message")
			return
		}
		sig.From = types.PartyVisitor
		c.gateway.push(&sig)

	default:
		c.logger.Debug().Str("type", msgType.Type).Msg("unknown message type")
	}
}

// writePump pumps messages from the gateway to the websocket connection
func (c *VisitorClient) writePump() {
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

// Start registers the client and starts its read and write pumps
func (c *VisitorClient) Start() {
	c.gateway.push(visitorConnected{client: c})

	go c.writePump()
	go c.readPump()

	// Tell the widget which visitor ID the server bound it to
	ack := types.ServerAck{Type: "ack", VisitorID: c.visitorID}
	if data, err := json.Marshal(ack); err == nil {
		c.safeSend(data)
	}
}

// Close safely closes the client's send channel (idempotent)
func (c *VisitorClient) Close() {
	c.closeOnce.Do(func() {
		defer func() {
			recover() // absorb panic if channel was already closed
		}()
		close(c.send)
	})
}

// safeSend attempts to send a message, recovering from panic if channel is closed
func (c *VisitorClient) safeSend(data []byte) (sent bool) {
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
