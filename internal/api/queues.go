package api

import (
	"encoding/json"
	"net/http"

	"github.com/bridgedesk/backend/internal/queue"
	"github.com/bridgedesk/backend/internal/router"
	"github.com/rs/zerolog"
)

// QueueHandler exposes queue statistics and the admin wipe
type QueueHandler struct {
	queues *queue.Manager
	engine *router.Engine
	logger zerolog.Logger
}

// NewQueueHandler creates a new QueueHandler
func NewQueueHandler(queues *queue.Manager, engine *router.Engine, logger zerolog.Logger) *QueueHandler {
	return &QueueHandler{
		queues: queues,
		engine: engine,
		logger: logger.With().Str("component", "queue-api").Logger(),
	}
}

// HandleStats handles GET /api/queues/stats
func (h *QueueHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	snapshots := h.queues.Snapshots()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"queues": snapshots,
	})
}

// HandleWipe handles DELETE /api/queues/all. Every waiting contact is
// abandoned and its visitor notified.
func (h *QueueHandler) HandleWipe(w http.ResponseWriter, r *http.Request) {
	removed := h.engine.WipeQueues()

	h.logger.Info().Int("removed", removed).Msg("queues wiped")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"removed": removed})
}
