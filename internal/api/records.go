package api

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/bridgedesk/backend/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

var dateKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// RecordsHandler serves archived session records
type RecordsHandler struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewRecordsHandler creates a new RecordsHandler
func NewRecordsHandler(store storage.Store, logger zerolog.Logger) *RecordsHandler {
	return &RecordsHandler{
		store:  store,
		logger: logger.With().Str("component", "records").Logger(),
	}
}

// HandleByDate handles GET /api/records/{date}
func (h *RecordsHandler) HandleByDate(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if !dateKeyPattern.MatchString(date) {
		http.Error(w, `{"error":"date must be YYYY-MM-DD"}`, http.StatusBadRequest)
		return
	}

	records, err := h.store.GetSessionRecords(date)
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("failed to load session records")
		http.Error(w, `{"error":"storage error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"date":    date,
		"count":   len(records),
		"records": records,
	})
}

// HandleTruncate handles DELETE /api/records/all, wiping every archived
// session record. Admin-only, intended for test environments.
func (h *RecordsHandler) HandleTruncate(w http.ResponseWriter, r *http.Request) {
	if err := h.store.TruncateAll(); err != nil {
		h.logger.Error().Err(err).Msg("failed to truncate session records")
		http.Error(w, `{"error":"storage error"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info().Msg("session records truncated")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "truncated"})
}

// HandleAgentByDate handles GET /api/records/{date}/agents/{agentID}
func (h *RecordsHandler) HandleAgentByDate(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	agentID := chi.URLParam(r, "agentID")
	if !dateKeyPattern.MatchString(date) || agentID == "" {
		http.Error(w, `{"error":"date must be YYYY-MM-DD and agent id required"}`, http.StatusBadRequest)
		return
	}

	records, err := h.store.GetAgentSessionsByDate(agentID, date)
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Str("agent_id", agentID).Msg("failed to load agent sessions")
		http.Error(w, `{"error":"storage error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"date":    date,
		"agentId": agentID,
		"count":   len(records),
		"records": records,
	})
}
