package api

import (
	"context"
	"net/http"
	"time"
)

// handleTrafficChart returns the system-wide daily rx/tx series for the last
// `days` days (clamped to [1, 365]).
func (s *Server) handleTrafficChart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	days := parseDays(r)
	chart, err := s.stats.TrafficChart(ctx, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "chart": chart})
}
