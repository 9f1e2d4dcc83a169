package handler

import (
	"net/http"

	"github.com/alanyoungcy/chainbot/internal/feed"
	"github.com/alanyoungcy/chainbot/internal/service"
)

// StatusService reports the risk counters and the state of every source.
type StatusService interface {
	RiskState() service.RiskState
	SourceStatuses() []feed.SourceStatus
}

// StatusHandler serves the risk and source status endpoints.
type StatusHandler struct {
	status StatusService
	venue  string
}

// NewStatusHandler creates a StatusHandler. venue is reported alongside the
// risk state.
func NewStatusHandler(status StatusService, venue string) *StatusHandler {
	return &StatusHandler{status: status, venue: venue}
}

// GetRisk responds with today's trade count and P&L.
// GET /api/risk
func (h *StatusHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"venue": h.venue,
		"risk":  h.status.RiskState(),
	})
}

// GetSources responds with the supervisor's view of every source.
// GET /api/sources
func (h *StatusHandler) GetSources(w http.ResponseWriter, r *http.Request) {
	sources := h.status.SourceStatuses()
	if sources == nil {
		sources = []feed.SourceStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}
