package api

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok"}); err != nil {
		s.logger.Error("encode healthz response", "error", err)
	}
}

// handleReadyz proxies a single engine readiness probe: 200 when the engine
// answers healthy, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.pipeline.Ready(r.Context()) {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "engine unreachable"})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
