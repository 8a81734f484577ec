package handler

import (
	"net/http"
	"time"
)

// FeedStatusFunc reports the market-data feed status and its last error.
type FeedStatusFunc func() (string, error)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	feed  FeedStatusFunc
	fatal string
}

// NewHealthHandler creates a HealthHandler. When the feed reports the fatal
// status the endpoint answers 503. feed may be nil.
func NewHealthHandler(feed FeedStatusFunc, fatalStatus string) *HealthHandler {
	return &HealthHandler{feed: feed, fatal: fatalStatus}
}

// HealthCheck responds with the process and feed health.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if h.feed != nil {
		status, err := h.feed()
		body["feed"] = status
		if err != nil {
			body["feed_error"] = err.Error()
		}
		if status == h.fatal {
			body["status"] = "fatal"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, body)
}
