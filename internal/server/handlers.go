package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "quantlab",
	}
	status := http.StatusOK
	if err := s.container.ReportsDB.HealthCheck(ctx); err != nil {
		s.log.Error().Err(err).Msg("Database health check failed")
		response["status"] = "unhealthy"
		response["error"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}` + "\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
