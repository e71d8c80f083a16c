package server

import (
	"net/http"
	"time"

	"github.com/slatehq/slate/errors"
	"github.com/slatehq/slate/studio/recurring"
)

// scheduleRequest is the creation body for a recurring schedule. Pattern
// parameters are a union; only the fields for the named pattern are read.
type scheduleRequest struct {
	Name     string             `json:"name"`
	Pattern  string             `json:"pattern_type"`
	Template recurring.Template `json:"template"`

	FireHour        int    `json:"fire_hour"`
	FireMinute      int    `json:"fire_minute"`
	Weekdays        []int  `json:"weekdays,omitempty"`
	MonthDays       []int  `json:"days_of_month,omitempty"`
	IntervalSeconds int    `json:"interval_seconds,omitempty"`
	CronExpr        string `json:"cron_expression,omitempty"`

	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// handleCreateSchedule handles POST /api/recurring/create.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.getState() != ServerStateRunning {
		writeError(w, errors.ErrShuttingDown)
		return
	}

	var req scheduleRequest
	if readJSON(w, r, &req) != nil {
		return
	}

	kind, err := recurring.ParseKind(req.Pattern)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now().UTC()
	if req.StartDate != nil {
		start = req.StartDate.UTC()
	}

	var schedule *recurring.Schedule
	switch kind {
	case recurring.KindDaily:
		schedule, err = recurring.NewDaily(req.Name, req.Template, req.FireHour, req.FireMinute, start)
	case recurring.KindWeekly:
		schedule, err = recurring.NewWeekly(req.Name, req.Template, req.FireHour, req.FireMinute, req.Weekdays, start)
	case recurring.KindMonthly:
		schedule, err = recurring.NewMonthly(req.Name, req.Template, req.FireHour, req.FireMinute, req.MonthDays, start)
	case recurring.KindInterval:
		schedule, err = recurring.NewInterval(req.Name, req.Template,
			time.Duration(req.IntervalSeconds)*time.Second, start)
	case recurring.KindCron:
		schedule, err = recurring.NewCron(req.Name, req.Template, req.CronExpr, start)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if req.EndDate != nil {
		end := req.EndDate.UTC()
		schedule.EndDate = &end
	}

	if err := s.ticker.Create(schedule); err != nil {
		writeError(w, err)
		return
	}
	s.logger.Infow("Recurring schedule created",
		"schedule_id", shortID(schedule.ID),
		"name", schedule.Name,
		"pattern", schedule.Kind)
	writeJSON(w, http.StatusCreated, schedule)
}

// handleListSchedules handles GET /api/recurring.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	list, err := s.ticker.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": list, "count": len(list)})
}

// handleSchedule handles GET/DELETE /api/recurring/{id} and
// POST /api/recurring/{id}/{pause|resume}.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	parts := extractPathParts(r.URL.Path, "/api/recurring/")

	switch len(parts) {
	case 1:
		id := parts[0]
		switch r.Method {
		case http.MethodGet:
			schedule, err := s.ticker.Get(id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, schedule)
		case http.MethodDelete:
			if err := s.ticker.Delete(id); err != nil {
				writeError(w, err)
				return
			}
			s.logger.Infow("Recurring schedule deleted", "schedule_id", shortID(id))
			writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
		default:
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		}

	case 2:
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		id, action := parts[0], parts[1]

		var err error
		switch action {
		case "pause":
			err = s.ticker.Pause(id)
		case "resume":
			err = s.ticker.Resume(id)
		default:
			writeError(w, errors.NewNotFoundError("unknown schedule action %q", action))
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}

		schedule, err := s.ticker.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		s.logger.Infow("Schedule action applied", "schedule_id", shortID(id), "action", action)
		writeJSON(w, http.StatusOK, schedule)

	default:
		writeError(w, errors.NewNotFoundError("no such route"))
	}
}
