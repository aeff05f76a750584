package handlers

import "net/http"

// Healthz reports liveness.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJson(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Readyz reports readiness. It fails while the database is unreachable.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		h.log.WarnContext(r.Context(), "readiness check failed", "error", err)
		httpError(w, "Database unavailable", http.StatusServiceUnavailable)
		return
	}
	respondJson(w, http.StatusOK, map[string]string{"status": "ready"})
}
