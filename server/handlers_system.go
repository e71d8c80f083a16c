package server

import (
	"net/http"
	"time"

	"github.com/slatehq/slate/version"
)

// handleStatistics handles GET /api/statistics.
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	stats, err := s.sched.Statistics()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	uptime := int64(0)
	if started := s.sched.StartedAt(); !started.IsZero() {
		uptime = int64(time.Since(started).Seconds())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"scheduler_running": s.sched.Running(),
		"uptime_seconds":    uptime,
		"version":           version.Get().Version,
	})
}

// handleVersion handles GET /api/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, version.Get())
}
