// Package scheduler orchestrates content production: it validates job
// requests, reserves calendar slots, persists jobs, dispatches them to the
// executor when their due time arrives, and drives each job through the
// script, assemble, and upload stages.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/slatehq/slate/capability"
	"github.com/slatehq/slate/errors"
	"github.com/slatehq/slate/studio/calendar"
	"github.com/slatehq/slate/studio/executor"
	"github.com/slatehq/slate/studio/jobs"
	"github.com/slatehq/slate/studio/recurring"
)

// Production duration bounds, in seconds.
const (
	MinDurationSeconds = 60
	MaxDurationSeconds = 3600
)

// DefaultGraceWindow is how far in the past a requested scheduled_at may lie
// before validation rejects it. Covers clock skew and slow clients.
const DefaultGraceWindow = 5 * time.Minute

// maintenanceInterval paces the retention sweep.
const maintenanceInterval = time.Hour

// Config sets dispatcher behaviour and the retry policy applied to every
// pipeline execution.
type Config struct {
	CheckInterval time.Duration   // dispatcher scan period
	GraceWindow   time.Duration   // 0 = DefaultGraceWindow
	Policy        executor.Policy // retry/timeout policy per job
	Retention     time.Duration   // terminal jobs older than this are swept; 0 disables
	Location      *time.Location  // local time for logs; nil = UTC
}

// Request describes one job to produce. ScheduledAt is when production must
// start; PublishAt, when set, is forwarded to the uploader.
type Request struct {
	Topic           string     `json:"topic"`
	Style           string     `json:"style,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	Tags            []string   `json:"tags,omitempty"`
	Category        string     `json:"category,omitempty"`
	Privacy         string     `json:"privacy,omitempty"`
	Priority        int        `json:"priority,omitempty"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	PublishAt       *time.Time `json:"publish_at,omitempty"`
	ScheduleID      string     `json:"schedule_id,omitempty"`
}

// BatchResult reports one item of a batch submission.
type BatchResult struct {
	JobID string `json:"job_id,omitempty"`
	Error string `json:"error,omitempty"`
}

// Scheduler is the orchestration core. All job writes funnel through the
// queue; the calendar manager owns slots; the executor owns attempts.
type Scheduler struct {
	queue  *jobs.Queue
	cal    *calendar.Manager
	exec   *executor.Executor
	caps   *capability.Set
	cfg    Config
	logger *zap.SugaredLogger

	checkInterval atomic.Int64 // nanoseconds; hot-reloadable
	running       atomic.Bool
	startedAt     time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. Call Start to begin dispatching.
func New(queue *jobs.Queue, cal *calendar.Manager, exec *executor.Executor, caps *capability.Set, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Scheduler{
		queue:  queue,
		cal:    cal,
		exec:   exec,
		caps:   caps,
		cfg:    cfg,
		logger: logger,
	}
	s.checkInterval.Store(int64(cfg.CheckInterval))
	return s
}

// Start recovers persisted state and launches the dispatch loop. Jobs left
// RUNNING by a previous process fail with "interrupted": external
// capabilities have side effects, so a half-done pipeline is never resumed.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.NewConflictError("scheduler already running")
	}

	interrupted, err := s.queue.MarkInterrupted()
	if err != nil {
		s.running.Store(false)
		return errors.Wrap(err, "startup recovery failed")
	}
	if interrupted > 0 {
		s.logger.Warnw("Failed jobs interrupted by previous shutdown", "count", interrupted)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startedAt = time.Now().UTC()

	s.wg.Add(1)
	go s.dispatchLoop()
	if s.cfg.Retention > 0 {
		s.wg.Add(1)
		go s.maintenanceLoop()
	}

	s.logger.Infow("Scheduler started",
		"check_interval", s.CheckInterval().String(),
		"max_concurrent", s.exec.Capacity())
	return nil
}

// Stop halts dispatching and waits for the loops to exit. In-flight
// executions keep running until their context (derived from the Start ctx)
// is cancelled by the caller.
func (s *Scheduler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Infow("Scheduler stopped")
}

// Running reports whether the dispatch loop is live.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// StartedAt returns when the scheduler started, zero before the first Start.
func (s *Scheduler) StartedAt() time.Time {
	return s.startedAt
}

// CheckInterval returns the current dispatcher scan period.
func (s *Scheduler) CheckInterval() time.Duration {
	return time.Duration(s.checkInterval.Load())
}

// SetCheckInterval changes the dispatcher scan period. Takes effect on the
// next scan; used by config hot reload.
func (s *Scheduler) SetCheckInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	if old := time.Duration(s.checkInterval.Swap(int64(d))); old != d {
		s.logger.Infow("Dispatcher check interval changed", "from", old.String(), "to", d.String())
	}
}

// Schedule validates a request, reserves a calendar slot, and persists the
// job as SCHEDULED. Reservation and persistence form one compound operation:
// if the job cannot be persisted, the slot is released again.
func (s *Scheduler) Schedule(ctx context.Context, req Request) (string, error) {
	if err := s.validate(req); err != nil {
		return "", err
	}

	job, err := jobs.NewJob(req.Topic, req.ScheduledAt.UTC())
	if err != nil {
		return "", err
	}
	job.Style = req.Style
	job.DurationSeconds = req.DurationSeconds
	job.Tags = req.Tags
	job.Category = req.Category
	job.Privacy = req.Privacy
	job.Priority = req.Priority
	job.ScheduleID = req.ScheduleID
	job.MaxAttempts = s.cfg.Policy.MaxAttempts()
	if req.PublishAt != nil {
		at := req.PublishAt.UTC()
		job.PublishAt = &at
	}

	duration := time.Duration(req.DurationSeconds) * time.Second
	// Reserved without the job id: the jobs row does not exist yet and the
	// slot store enforces the reference. The binding lands after persist.
	slot, err := s.cal.Reserve(req.ScheduledAt, duration, "", req.Topic)
	if err != nil {
		return "", err
	}

	job.MarkScheduled()
	if err := s.queue.Create(job); err != nil {
		if relErr := s.cal.Release(slot.ID); relErr != nil {
			s.logger.Errorw("Failed to release slot after persist failure",
				"slot_id", slot.ID, "error", relErr)
		}
		return "", errors.Wrap(err, "failed to persist job")
	}
	if err := s.cal.Bind(slot.ID, job.ID); err != nil {
		s.logger.Errorw("Failed to bind slot to job",
			"slot_id", slot.ID, "job_id", job.ID, "error", err)
	}

	s.logger.Infow("Job scheduled",
		"job_id", job.ID,
		"topic", job.Topic,
		"scheduled_at", job.ScheduledAt.Format(time.RFC3339),
		"slot_id", slot.ID)
	return job.ID, nil
}

// ScheduleBatch processes requests in order. A rejected item does not stop
// the rest; the result list is parallel to the input.
func (s *Scheduler) ScheduleBatch(ctx context.Context, reqs []Request) []BatchResult {
	results := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		jobID, err := s.Schedule(ctx, req)
		if err != nil {
			results[i] = BatchResult{Error: err.Error()}
			continue
		}
		results[i] = BatchResult{JobID: jobID}
	}
	return results
}

// Submit implements recurring.JobSubmitter: recurring fires enter through
// the same validation and compound reserve+persist as API requests.
func (s *Scheduler) Submit(ctx context.Context, req recurring.JobRequest) (string, error) {
	return s.Schedule(ctx, Request{
		Topic:           req.Topic,
		Style:           req.Style,
		DurationSeconds: req.DurationSeconds,
		Tags:            req.Tags,
		Category:        req.Category,
		Privacy:         req.Privacy,
		Priority:        req.Priority,
		ScheduledAt:     req.ScheduledAt,
		ScheduleID:      req.ScheduleID,
	})
}

// Get returns a job by id.
func (s *Scheduler) Get(jobID string) (*jobs.Job, error) {
	return s.queue.Get(jobID)
}

// List returns jobs newest first, optionally filtered by status.
func (s *Scheduler) List(status *jobs.Status, limit int) ([]*jobs.Job, error) {
	return s.queue.List(status, limit)
}

// Cancel cancels a job. Idempotent on already-cancelled jobs; a conflict on
// other terminal states. A RUNNING job is signalled through the executor and
// finalised by the execution goroutine when the operation yields.
func (s *Scheduler) Cancel(jobID string) error {
	job, err := s.queue.Get(jobID)
	if err != nil {
		return err
	}

	if job.Status == jobs.StatusRunning {
		err := s.exec.Cancel(jobID)
		if err == nil {
			s.logger.Infow("Cancellation signalled to running job", "job_id", jobID)
			return nil
		}
		if !errors.IsNotFoundError(err) {
			return err
		}
		// No live execution behind the RUNNING row: either it settled
		// between the read and the signal, or the row is stale (claimed
		// before the executor registered, or a finaliser write failed).
		// One re-read, then cancel whatever state is actually there.
		if job, err = s.queue.Get(jobID); err != nil {
			return err
		}
	}

	switch job.Status {
	case jobs.StatusCancelled:
		return nil
	case jobs.StatusCompleted, jobs.StatusFailed:
		return errors.NewConflictError("job %s is %s and cannot be cancelled", jobID, job.Status)
	}

	job.Cancel()
	if err := s.queue.SaveEvent(job, jobs.EventCancelled); err != nil {
		return err
	}
	s.releaseSlot(jobID)
	s.logger.Infow("Job cancelled", "job_id", jobID)
	return nil
}

// Pause freezes due-time evaluation for a pending or scheduled job.
func (s *Scheduler) Pause(jobID string) error {
	job, err := s.queue.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status == jobs.StatusPaused {
		return nil
	}
	if !job.CanPause() {
		return errors.NewConflictError("job %s is %s and cannot be paused", jobID, job.Status)
	}
	job.Pause()
	if err := s.queue.SaveEvent(job, jobs.EventPaused); err != nil {
		return err
	}
	s.logger.Infow("Job paused", "job_id", jobID)
	return nil
}

// Resume returns a paused job to SCHEDULED. A due time already in the past
// is picked up by the next dispatch scan.
func (s *Scheduler) Resume(jobID string) error {
	job, err := s.queue.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status == jobs.StatusScheduled {
		return nil
	}
	if job.Status != jobs.StatusPaused {
		return errors.NewConflictError("job %s is %s, not paused", jobID, job.Status)
	}
	job.Resume()
	if err := s.queue.SaveEvent(job, jobs.EventResumed); err != nil {
		return err
	}
	s.logger.Infow("Job resumed", "job_id", jobID)
	return nil
}

// validate applies request-level checks before any state changes.
func (s *Scheduler) validate(req Request) error {
	if req.Topic == "" {
		return errors.NewValidationError("topic", "topic must not be empty")
	}
	if req.DurationSeconds < MinDurationSeconds || req.DurationSeconds > MaxDurationSeconds {
		return errors.NewValidationError("duration_seconds",
			"duration must be %d-%d seconds, got %d",
			MinDurationSeconds, MaxDurationSeconds, req.DurationSeconds)
	}
	if req.ScheduledAt.IsZero() {
		return errors.NewValidationError("scheduled_at", "scheduled_at is required")
	}
	if req.ScheduledAt.Before(time.Now().Add(-s.cfg.GraceWindow)) {
		return errors.NewValidationError("scheduled_at",
			"scheduled_at %s is in the past", req.ScheduledAt.Format(time.RFC3339))
	}
	// A publish time in the past is left to the uploader, which publishes
	// immediately; only ordering against the production start is enforced.
	if req.PublishAt != nil && req.PublishAt.Before(req.ScheduledAt) {
		return errors.NewValidationError("publish_at",
			"publish_at must not precede scheduled_at")
	}
	return nil
}

// releaseSlot frees the calendar slot bound to a job, if any. Missing slots
// are normal for jobs whose slot was already released.
func (s *Scheduler) releaseSlot(jobID string) {
	slot, err := s.cal.SlotForJob(jobID)
	if err != nil {
		return
	}
	if err := s.cal.Release(slot.ID); err != nil {
		s.logger.Errorw("Failed to release slot", "slot_id", slot.ID, "job_id", jobID, "error", err)
	}
}

// completeSlot marks the slot bound to a job as completed.
func (s *Scheduler) completeSlot(jobID string) {
	slot, err := s.cal.SlotForJob(jobID)
	if err != nil {
		return
	}
	if err := s.cal.CompleteSlot(slot.ID); err != nil {
		s.logger.Errorw("Failed to complete slot", "slot_id", slot.ID, "job_id", jobID, "error", err)
	}
}
