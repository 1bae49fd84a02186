package handler

import "net/http"

// Health is the liveness probe. When a storage client is configured it
// doubles as a readiness check on the object store, since no build or
// source download can succeed without it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.s3 != nil {
		if err := h.s3.Healthy(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  "object store unreachable",
			})
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
