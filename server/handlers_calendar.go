package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slatehq/slate/errors"
)

// handleReserveSlot handles POST /api/calendar/slots: a manual reservation
// not bound to any job.
func (s *Server) handleReserveSlot(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.getState() != ServerStateRunning {
		writeError(w, errors.ErrShuttingDown)
		return
	}

	var req struct {
		StartTime       time.Time `json:"start_time"`
		DurationSeconds int       `json:"duration_seconds"`
		Topic           string    `json:"topic,omitempty"`
	}
	if readJSON(w, r, &req) != nil {
		return
	}
	if req.StartTime.IsZero() {
		writeError(w, errors.NewValidationError("start_time", "start_time is required"))
		return
	}
	if req.DurationSeconds <= 0 {
		writeError(w, errors.NewValidationError("duration_seconds", "duration_seconds must be positive"))
		return
	}

	slot, err := s.cal.Reserve(req.StartTime, time.Duration(req.DurationSeconds)*time.Second, "", req.Topic)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Infow("Slot reserved via API", "slot_id", shortID(slot.ID))
	writeJSON(w, http.StatusCreated, slot)
}

// handleDayView handles GET /api/calendar/day/{yyyy-mm-dd}.
func (s *Server) handleDayView(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	day, err := parseDate(r.URL.Path, "/api/calendar/day/")
	if err != nil {
		writeError(w, err)
		return
	}
	slots := s.cal.DayView(day)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":  day.Format("2006-01-02"),
		"slots": slots,
		"count": len(slots),
	})
}

// handleWeekView handles GET /api/calendar/week/{yyyy-mm-dd}; the date may
// fall anywhere inside the wanted week.
func (s *Server) handleWeekView(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	day, err := parseDate(r.URL.Path, "/api/calendar/week/")
	if err != nil {
		writeError(w, err)
		return
	}
	slots := s.cal.WeekView(day)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"week_of": day.Format("2006-01-02"),
		"slots":   slots,
		"count":   len(slots),
	})
}

// handleMonthView handles GET /api/calendar/month/{yyyy-mm}.
func (s *Server) handleMonthView(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/calendar/month/"), "/")
	month, err := time.Parse("2006-01", raw)
	if err != nil {
		writeError(w, errors.NewValidationError("month", "month must be yyyy-mm, got %q", raw))
		return
	}
	slots := s.cal.MonthView(month.Year(), month.Month())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"month": raw,
		"slots": slots,
		"count": len(slots),
	})
}

// handleSuggestions handles GET /api/calendar/suggestions with optional
// count, from, horizon_days, and hours (comma-separated) parameters.
func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()

	count := 5
	if raw := q.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, errors.NewValidationError("count", "count must be a positive integer"))
			return
		}
		count = n
	}

	from := time.Now().UTC()
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, errors.NewValidationError("from", "from must be RFC3339, got %q", raw))
			return
		}
		from = t
	}

	horizon := 14
	if raw := q.Get("horizon_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, errors.NewValidationError("horizon_days", "horizon_days must be a positive integer"))
			return
		}
		horizon = n
	}

	var hours []int
	if raw := q.Get("hours"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			h, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || h < 0 || h > 23 {
				writeError(w, errors.NewValidationError("hours", "hours must be 0-23, got %q", part))
				return
			}
			hours = append(hours, h)
		}
	}

	suggestions := s.cal.Suggest(count, from, horizon, hours)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}

// handleConflicts handles GET /api/calendar/conflicts.
func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	conflicts := s.cal.Conflicts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}

func parseDate(urlPath, prefix string) (time.Time, error) {
	raw := strings.Trim(strings.TrimPrefix(urlPath, prefix), "/")
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.NewValidationError("date", "date must be yyyy-mm-dd, got %q", raw)
	}
	return day, nil
}
