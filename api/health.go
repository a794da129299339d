package api

import "net/http"

// HealthResponse is the body of the liveness and readiness probes.
type HealthResponse struct {
	Status string `json:"status"`
}

// Health handles GET /health. It reports liveness only.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready handles GET /ready. It fails once shutdown has begun.
func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if !a.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "shutting_down"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ready"})
}
