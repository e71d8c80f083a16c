package server

import "net/http"

// routes builds the API mux. Every handler is method-switched internally;
// path parameters are parsed from the URL remainder.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/jobs/schedule", s.corsMiddleware(s.handleScheduleJob))
	mux.HandleFunc("/api/jobs/batch", s.corsMiddleware(s.handleScheduleBatch))
	mux.HandleFunc("/api/jobs", s.corsMiddleware(s.handleListJobs))
	mux.HandleFunc("/api/jobs/", s.corsMiddleware(s.handleJob))

	mux.HandleFunc("/api/recurring/create", s.corsMiddleware(s.handleCreateSchedule))
	mux.HandleFunc("/api/recurring", s.corsMiddleware(s.handleListSchedules))
	mux.HandleFunc("/api/recurring/", s.corsMiddleware(s.handleSchedule))

	mux.HandleFunc("/api/calendar/slots", s.corsMiddleware(s.handleReserveSlot))
	mux.HandleFunc("/api/calendar/day/", s.corsMiddleware(s.handleDayView))
	mux.HandleFunc("/api/calendar/week/", s.corsMiddleware(s.handleWeekView))
	mux.HandleFunc("/api/calendar/month/", s.corsMiddleware(s.handleMonthView))
	mux.HandleFunc("/api/calendar/suggestions", s.corsMiddleware(s.handleSuggestions))
	mux.HandleFunc("/api/calendar/conflicts", s.corsMiddleware(s.handleConflicts))

	mux.HandleFunc("/api/statistics", s.corsMiddleware(s.handleStatistics))
	mux.HandleFunc("/api/health", s.corsMiddleware(s.handleHealth))
	mux.HandleFunc("/api/version", s.corsMiddleware(s.handleVersion))

	mux.HandleFunc("/ws", s.handleWebSocket)

	return mux
}

// corsMiddleware adds CORS headers per the configured origin allowlist and
// short-circuits preflight requests.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
