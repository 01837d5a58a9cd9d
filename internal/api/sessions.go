package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bridgedesk/backend/internal/auth"
	"github.com/bridgedesk/backend/internal/router"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// SessionHandler exposes server-side session control for supervisors
type SessionHandler struct {
	engine *router.Engine
	logger zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(engine *router.Engine, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		engine: engine,
		logger: logger.With().Str("component", "session-api").Logger(),
	}
}

// RequireAdmin middleware — only admin role allowed
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok || !auth.HasRole(claims, "admin") {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSupervisorOrAdmin middleware — supervisor or admin role allowed
func RequireSupervisorOrAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok || (claims.Role != "admin" && claims.Role != "supervisor") {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"supervisor or admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleAgentSessions handles GET /api/agents/{agentID}/sessions,
// listing the live sessions an agent is currently handling
func (h *SessionHandler) HandleAgentSessions(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if agentID == "" {
		http.Error(w, `{"error":"agent id required"}`, http.StatusBadRequest)
		return
	}

	type liveSession struct {
		SessionID  string    `json:"sessionId"`
		VisitorID  string    `json:"visitorId"`
		CallType   string    `json:"callType"`
		State      string    `json:"state"`
		AcceptedAt time.Time `json:"acceptedAt"`
	}

	active := h.engine.ActiveSessionsForAgent(agentID)
	sessions := make([]liveSession, 0, len(active))
	for _, s := range active {
		sessions = append(sessions, liveSession{
			SessionID:  s.ID,
			VisitorID:  s.Contact.VisitorID,
			CallType:   string(s.Contact.CallType),
			State:      string(s.State()),
			AcceptedAt: s.AcceptedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"agentId":  agentID,
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// HandleForceEnd handles POST /api/sessions/{sessionID}/end
func (h *SessionHandler) HandleForceEnd(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, `{"error":"session id required"}`, http.StatusBadRequest)
		return
	}

	if !h.engine.ForceEnd(sessionID) {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}

	h.logger.Info().Str("session_id", sessionID).Msg("session force-ended")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ended"})
}
