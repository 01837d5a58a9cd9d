package gateway

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// upgrader is the WebSocket upgrader shared by both endpoints.
// Origin policy is enforced by the CORS layer in front of the router.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket upgrade requests for agents and visitors
type Handler struct {
	gateway *Gateway
	opts    ConnOptions
	logger  zerolog.Logger
}

// NewHandler creates a new Handler
func NewHandler(gateway *Gateway, opts ConnOptions, logger zerolog.Logger) *Handler {
	return &Handler{
		gateway: gateway,
		opts:    opts,
		logger:  logger,
	}
}

// ServeAgent handles WebSocket upgrade requests from agent consoles.
// The connection is bound to an agent once it sends register-agent.
func (h *Handler) ServeAgent(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade agent connection")
		return
	}

	client := NewAgentClient(h.gateway, conn, h.opts, h.logger)
	client.Start()
}

// ServeVisitor handles WebSocket upgrade requests from website widgets.
// The visitor identity comes from the visitor_id query parameter so a
// reconnecting widget keeps its sessions; absent that, one is minted.
func (h *Handler) ServeVisitor(w http.ResponseWriter, r *http.Request) {
	visitorID := r.URL.Query().Get("visitor_id")
	if visitorID == "" {
		visitorID = uuid.New().String()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade visitor connection")
		return
	}

	client := NewVisitorClient(h.gateway, conn, visitorID, h.opts, h.logger)
	client.Start()
}
