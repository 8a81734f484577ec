package handler

import (
	"net/http"
)

// StatusFunc builds the status document served to the dashboard.
type StatusFunc func() any

// StatusHandler serves the runtime status: feed, live windows and workers.
type StatusHandler struct {
	status StatusFunc
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(status StatusFunc) *StatusHandler {
	return &StatusHandler{status: status}
}

// GetStatus responds with the current status document.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}
