package web

import (
	"encoding/json"
	"net/http"
	"time"
)

// StatusFunc assembles the current system snapshot served by
// GET /status. Called on every request; must be cheap and safe for
// concurrent use.
type StatusFunc func() map[string]interface{}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *Broadcaster
	Status      StatusFunc
}

// NewHandlers creates handlers with the given dependencies.
// If status is nil, GET /status returns 503 Service Unavailable.
func NewHandlers(broadcaster *Broadcaster, status StatusFunc) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Status:      status,
	}
}

// HandleStatus returns the current system snapshot as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Status == nil {
		http.Error(w, "status not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Status())
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
