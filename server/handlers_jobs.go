package server

import (
	"net/http"
	"strconv"

	"github.com/slatehq/slate/errors"
	"github.com/slatehq/slate/studio/jobs"
	"github.com/slatehq/slate/studio/scheduler"
)

// handleScheduleJob handles POST /api/jobs/schedule.
func (s *Server) handleScheduleJob(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.getState() != ServerStateRunning {
		writeError(w, errors.ErrShuttingDown)
		return
	}

	var req scheduler.Request
	if readJSON(w, r, &req) != nil {
		return
	}

	jobID, err := s.sched.Schedule(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := s.sched.Get(jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Infow("Job scheduled via API", "job_id", shortID(jobID), "topic", req.Topic)
	writeJSON(w, http.StatusCreated, job)
}

// handleScheduleBatch handles POST /api/jobs/batch. Item failures are
// reported per item; the batch itself always succeeds.
func (s *Server) handleScheduleBatch(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.getState() != ServerStateRunning {
		writeError(w, errors.ErrShuttingDown)
		return
	}

	var req struct {
		Jobs []scheduler.Request `json:"jobs"`
	}
	if readJSON(w, r, &req) != nil {
		return
	}
	if len(req.Jobs) == 0 {
		writeError(w, errors.NewValidationError("jobs", "batch must contain at least one job"))
		return
	}

	results := s.sched.ScheduleBatch(r.Context(), req.Jobs)
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// handleListJobs handles GET /api/jobs?status=&limit=.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	var status *jobs.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		if !jobs.IsValidStatus(raw) {
			writeError(w, errors.NewValidationError("status", "unknown status %q", raw))
			return
		}
		st := jobs.Status(raw)
		status = &st
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, errors.NewValidationError("limit", "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	list, err := s.sched.List(status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": list, "count": len(list)})
}

// handleJob handles GET /api/jobs/{id} and
// POST /api/jobs/{id}/{cancel|pause|resume}.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	parts := extractPathParts(r.URL.Path, "/api/jobs/")

	switch len(parts) {
	case 1:
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		job, err := s.sched.Get(parts[0])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)

	case 2:
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		jobID, action := parts[0], parts[1]

		var err error
		switch action {
		case "cancel":
			err = s.sched.Cancel(jobID)
		case "pause":
			err = s.sched.Pause(jobID)
		case "resume":
			err = s.sched.Resume(jobID)
		default:
			writeError(w, errors.NewNotFoundError("unknown job action %q", action))
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}

		job, err := s.sched.Get(jobID)
		if err != nil {
			writeError(w, err)
			return
		}
		s.logger.Infow("Job action applied", "job_id", shortID(jobID), "action", action)
		writeJSON(w, http.StatusOK, job)

	default:
		writeError(w, errors.NewNotFoundError("no such route"))
	}
}
