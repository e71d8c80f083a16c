package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slatehq/slate/capability"
	slatetest "github.com/slatehq/slate/internal/testing"
	"github.com/slatehq/slate/studio/calendar"
	"github.com/slatehq/slate/studio/executor"
	"github.com/slatehq/slate/studio/jobs"
	"github.com/slatehq/slate/studio/recurring"
	"github.com/slatehq/slate/studio/scheduler"
)

type apiFixture struct {
	srv   *Server
	mux   http.Handler
	sched *scheduler.Scheduler
	queue *jobs.Queue
	cal   *calendar.Manager
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	db := slatetest.CreateTestDB(t)
	queue := jobs.NewQueue(jobs.NewStore(db))

	calCfg := calendar.DefaultConfig()
	calCfg.SlotBuffer = 0
	cal := calendar.NewManager(calCfg, calendar.NewStore(db), nil)
	require.NoError(t, cal.Load())

	exec := executor.New(executor.Config{MaxConcurrent: 2}, nil)
	sched := scheduler.New(queue, cal, exec, capability.NewSimulatedSet(),
		scheduler.Config{CheckInterval: time.Hour}, nil)
	ticker := recurring.NewTicker(recurring.NewStore(db), sched, recurring.TickerConfig{}, nil)

	srv := New(sched, ticker, cal, queue, Config{AllowedOrigins: []string{"*"}}, nil)
	srv.ctx, srv.cancel = context.WithCancel(context.Background())
	t.Cleanup(srv.cancel)

	return &apiFixture{srv: srv, mux: srv.routes(), sched: sched, queue: queue, cal: cal}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func scheduleBody(topic string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"topic":            topic,
		"duration_seconds": 300,
		"scheduled_at":     at.Format(time.RFC3339),
	}
}

func TestScheduleJobEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	at := time.Now().UTC().Add(time.Hour)

	rec := f.do(t, http.MethodPost, "/api/jobs/schedule", scheduleBody("api job", at))
	require.Equal(t, http.StatusCreated, rec.Code)

	var job jobs.Job
	decodeBody(t, rec, &job)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "api job", job.Topic)
	assert.Equal(t, jobs.StatusScheduled, job.Status)
}

func TestScheduleJobValidationError(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/jobs/schedule", map[string]interface{}{
		"topic":            "",
		"duration_seconds": 300,
		"scheduled_at":     time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "invalid request", resp.Error)
	assert.Equal(t, "topic", resp.Field)
}

func TestScheduleJobConflictMapsTo409(t *testing.T) {
	f := newAPIFixture(t)
	at := time.Now().UTC().Add(time.Hour)

	rec := f.do(t, http.MethodPost, "/api/jobs/schedule", scheduleBody("first", at))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/jobs/schedule", scheduleBody("second", at.Add(30*time.Minute)))
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp errorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "conflict", resp.Error)
}

func TestGetJobNotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/jobs/job_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsFiltersByStatus(t *testing.T) {
	f := newAPIFixture(t)
	at := time.Now().UTC().Add(time.Hour)

	rec := f.do(t, http.MethodPost, "/api/jobs/schedule", scheduleBody("one", at))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/jobs?status=scheduled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Jobs  []*jobs.Job `json:"jobs"`
		Count int         `json:"count"`
	}
	decodeBody(t, rec, &list)
	assert.Equal(t, 1, list.Count)

	rec = f.do(t, http.MethodGet, "/api/jobs?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &list)
	assert.Equal(t, 0, list.Count)

	rec = f.do(t, http.MethodGet, "/api/jobs?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobActions(t *testing.T) {
	f := newAPIFixture(t)
	at := time.Now().UTC().Add(time.Hour)

	rec := f.do(t, http.MethodPost, "/api/jobs/schedule", scheduleBody("actionable", at))
	require.Equal(t, http.StatusCreated, rec.Code)
	var job jobs.Job
	decodeBody(t, rec, &job)

	rec = f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &job)
	assert.Equal(t, jobs.StatusPaused, job.Status)

	rec = f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &job)
	assert.Equal(t, jobs.StatusScheduled, job.Status)

	rec = f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &job)
	assert.Equal(t, jobs.StatusCancelled, job.Status)

	rec = f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/detonate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleBatchEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	at := time.Now().UTC().Add(time.Hour)

	rec := f.do(t, http.MethodPost, "/api/jobs/batch", map[string]interface{}{
		"jobs": []map[string]interface{}{
			scheduleBody("batch ok", at),
			{"topic": "", "duration_seconds": 300, "scheduled_at": at.Add(12 * time.Hour).Format(time.RFC3339)},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []scheduler.BatchResult `json:"results"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Results, 2)
	assert.NotEmpty(t, resp.Results[0].JobID)
	assert.NotEmpty(t, resp.Results[1].Error)
}

func TestRecurringLifecycleEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/recurring/create", map[string]interface{}{
		"name":         "weekly roundup",
		"pattern_type": "weekly",
		"fire_hour":    10,
		"fire_minute":  0,
		"weekdays":     []int{1},
		"template": map[string]interface{}{
			"topic":            "Roundup for {date}",
			"duration_seconds": 300,
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var schedule recurring.Schedule
	decodeBody(t, rec, &schedule)
	assert.NotEmpty(t, schedule.ID)
	assert.Equal(t, recurring.KindWeekly, schedule.Kind)
	assert.True(t, schedule.Enabled)

	rec = f.do(t, http.MethodGet, "/api/recurring", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &list)
	assert.Equal(t, 1, list.Count)

	rec = f.do(t, http.MethodPost, "/api/recurring/"+schedule.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &schedule)
	assert.False(t, schedule.Enabled)

	rec = f.do(t, http.MethodPost, "/api/recurring/"+schedule.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &schedule)
	assert.True(t, schedule.Enabled)

	rec = f.do(t, http.MethodDelete, "/api/recurring/"+schedule.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/recurring/"+schedule.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecurringCreateRejectsUnknownPattern(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/recurring/create", map[string]interface{}{
		"name":         "bad",
		"pattern_type": "fortnightly",
		"template":     map[string]interface{}{"topic": "t"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "pattern", resp.Field)
}

func TestCalendarEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	at := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)

	rec := f.do(t, http.MethodPost, "/api/calendar/slots", map[string]interface{}{
		"start_time":       at.Format(time.RFC3339),
		"duration_seconds": 600,
		"topic":            "manual hold",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var slot calendar.Slot
	decodeBody(t, rec, &slot)
	assert.Equal(t, calendar.SlotReserved, slot.Status)

	rec = f.do(t, http.MethodGet, "/api/calendar/day/"+at.Format("2006-01-02"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &view)
	assert.Equal(t, 1, view.Count)

	rec = f.do(t, http.MethodGet, "/api/calendar/week/"+at.Format("2006-01-02"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/calendar/month/"+at.Format("2006-01"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &view)
	assert.Equal(t, 1, view.Count)

	rec = f.do(t, http.MethodGet, "/api/calendar/day/not-a-date", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/calendar/conflicts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSuggestionsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/calendar/suggestions?count=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Suggestions []time.Time `json:"suggestions"`
		Count       int         `json:"count"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, 3, resp.Count)
	for i := 1; i < len(resp.Suggestions); i++ {
		assert.True(t, resp.Suggestions[i].After(resp.Suggestions[i-1]))
	}

	rec = f.do(t, http.MethodGet, "/api/calendar/suggestions?hours=25", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndVersionEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status           string `json:"status"`
		SchedulerRunning bool   `json:"scheduler_running"`
	}
	decodeBody(t, rec, &health)
	assert.Equal(t, "ok", health.Status)
	assert.False(t, health.SchedulerRunning)

	rec = f.do(t, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_version")
}

func TestStatisticsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	at := time.Now().UTC().Add(time.Hour)

	rec := f.do(t, http.MethodPost, "/api/jobs/schedule", scheduleBody("counted", at))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		TotalJobs int `json:"total_jobs"`
	}
	decodeBody(t, rec, &stats)
	assert.Equal(t, 1, stats.TotalJobs)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/jobs/schedule", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDrainingRejectsNewWork(t *testing.T) {
	f := newAPIFixture(t)
	f.srv.setState(ServerStateDraining)

	rec := f.do(t, http.MethodPost, "/api/jobs/schedule",
		scheduleBody("late", time.Now().UTC().Add(time.Hour)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Reads stay available while draining.
	rec = f.do(t, http.MethodGet, "/api/jobs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/jobs", nil)
	req.Header.Set("Origin", "http://studio.local")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://studio.local", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestBroadcastJobEventFrames(t *testing.T) {
	f := newAPIFixture(t)
	srv := f.srv

	client := &Client{server: srv, send: make(chan interface{}, clientSendBuffer), id: "test-client"}
	srv.mu.Lock()
	srv.clients[client] = true
	srv.mu.Unlock()
	go srv.runBroadcastWorker()

	job, err := jobs.NewJob("broadcast", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	job.DurationSeconds = 300

	srv.broadcastJobEvent(jobs.Event{Kind: jobs.EventCreated, Job: job})
	frame := receiveFrame(t, client.send)
	created, ok := frame.(jobFrame)
	require.True(t, ok, "expected jobFrame, got %T", frame)
	assert.Equal(t, "job_created", created.Type)

	// First routine update passes the limiter, the immediate second is paced.
	srv.broadcastJobEvent(jobs.Event{Kind: jobs.EventUpdated, Job: job})
	frame = receiveFrame(t, client.send)
	update, ok := frame.(jobUpdateFrame)
	require.True(t, ok, "expected jobUpdateFrame, got %T", frame)
	assert.Equal(t, "job_update", update.Type)
	assert.Equal(t, job.ID, update.JobID)

	srv.broadcastJobEvent(jobs.Event{Kind: jobs.EventUpdated, Job: job})
	select {
	case frame := <-client.send:
		t.Fatalf("expected paced update to be suppressed, got %T", frame)
	case <-time.After(50 * time.Millisecond):
	}

	// A terminal transition bypasses the limiter.
	job.Start()
	job.BeginAttempt()
	job.Complete(&jobs.Result{VideoID: "vid"})
	srv.broadcastJobEvent(jobs.Event{Kind: jobs.EventUpdated, Job: job})
	frame = receiveFrame(t, client.send)
	update, ok = frame.(jobUpdateFrame)
	require.True(t, ok, "expected jobUpdateFrame, got %T", frame)
	assert.Equal(t, jobs.StatusCompleted, update.Status)
}

func receiveFrame(t *testing.T, ch chan interface{}) interface{} {
	t.Helper()
	select {
	case frame := <-ch:
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestErrorResponseShape(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/jobs/schedule", map[string]interface{}{
		"topic":            "x",
		"duration_seconds": 1,
		"scheduled_at":     time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var raw map[string]interface{}
	decodeBody(t, rec, &raw)
	assert.Contains(t, raw, "error")
	assert.Contains(t, raw, "detail")
	assert.Equal(t, "duration_seconds", raw["field"])
	detail := fmt.Sprintf("%v", raw["detail"])
	assert.True(t, strings.Contains(detail, "duration"))
}
