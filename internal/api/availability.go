package api

import (
	"encoding/json"
	"net/http"

	"github.com/bridgedesk/backend/internal/registry"
	"github.com/bridgedesk/backend/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// AvailabilityHandler answers the pre-call availability probe used by
// website widgets before they offer a call button
type AvailabilityHandler struct {
	registry *registry.AgentRegistry
	logger   zerolog.Logger
}

// NewAvailabilityHandler creates a new AvailabilityHandler
func NewAvailabilityHandler(reg *registry.AgentRegistry, logger zerolog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{
		registry: reg,
		logger:   logger.With().Str("component", "availability").Logger(),
	}
}

// HandleAvailability handles GET /api/companies/{companyID}/availability
func (h *AvailabilityHandler) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	if companyID == "" {
		http.Error(w, `{"error":"company id required"}`, http.StatusBadRequest)
		return
	}

	online, eligible := h.registry.CountByCompany(companyID)

	snapshot := types.AvailabilitySnapshot{
		Type:          "availability-snapshot",
		CompanyID:     companyID,
		OnlineCount:   online,
		EligibleCount: eligible,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}
