package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultLogStreamTimeout = 600 * time.Second

// StreamLogs serves the long-lived log stream. The body is a text
// event stream of "{timestamp} {content}" lines flushed as timing data
// accrues in the pod.
func (h *Handler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	timeout := defaultLogStreamTimeout
	if t := r.URL.Query().Get("timeout"); t != "" {
		if seconds, err := strconv.ParseFloat(t, 64); err == nil && seconds > 0 {
			timeout = time.Duration(seconds * float64(time.Second))
		}
	}

	flusher, canFlush := w.(http.Flusher)
	flush := func() {}
	if canFlush {
		flush = flusher.Flush
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	if err := h.manager.StreamLogs(r.Context(), id, timeout, w, flush); err != nil {
		// Nothing has been written yet when StreamLogs fails; the
		// error body is still deliverable.
		writeError(w, err)
	}
}
