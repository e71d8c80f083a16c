package scheduler

import (
	"context"
	"time"

	"github.com/slatehq/slate/errors"
	"github.com/slatehq/slate/studio/executor"
	"github.com/slatehq/slate/studio/jobs"
)

// dispatchLoop scans for due jobs every check interval. The interval is
// re-read each cycle so hot reload takes effect without a restart.
func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()

	for {
		timer := time.NewTimer(s.CheckInterval())
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := s.DispatchDue(s.ctx, time.Now().UTC()); err != nil {
				s.logger.Warnw("Dispatch scan failed", "error", err)
			}
		}
	}
}

// DispatchDue claims scheduled jobs whose due time has arrived, up to the
// executor's free capacity, and launches their pipelines. Taking now as a
// parameter keeps the scan deterministic under test.
func (s *Scheduler) DispatchDue(ctx context.Context, now time.Time) error {
	free := s.exec.Capacity() - s.exec.ActiveCount() - s.exec.QueuedCount()
	if free <= 0 {
		return nil
	}

	due, err := s.queue.Due(now, free)
	if err != nil {
		return errors.Wrap(err, "failed to scan due jobs")
	}

	for _, job := range due {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job.Start()
		if err := s.queue.Save(job); err != nil {
			s.logger.Errorw("Failed to mark job running", "job_id", job.ID, "error", err)
			continue
		}
		s.logger.Infow("Dispatching job",
			"job_id", job.ID,
			"topic", job.Topic,
			"scheduled_at", job.ScheduledAt.Format(time.RFC3339),
			"overdue", now.Sub(job.ScheduledAt).Round(time.Second).String())

		s.wg.Add(1)
		go func(job *jobs.Job) {
			defer s.wg.Done()
			s.execute(ctx, job)
		}(job)
	}
	return nil
}

// execute runs the full pipeline for one job under the executor's retry
// policy and finalises the job from the terminal result. All job writes
// funnel through the pipelineRun lock; finalising closes the run, so an
// attempt goroutine abandoned past its grace window cannot touch the job
// afterwards.
func (s *Scheduler) execute(ctx context.Context, job *jobs.Job) {
	run := newPipelineRun(s.queue, job, s.logger)
	result := s.exec.Execute(ctx, executor.Task{
		JobID:     job.ID,
		Operation: s.pipeline(run),
		Policy:    s.cfg.Policy,
	})

	switch result.State {
	case executor.StateCompleted:
		artifacts, _ := result.Value.(*jobs.Result)
		run.finalise(func(job *jobs.Job) {
			job.Complete(artifacts)
			if err := s.queue.Save(job); err != nil {
				s.logger.Errorw("Failed to persist completed job", "job_id", job.ID, "error", err)
			}
		})
		s.completeSlot(job.ID)
		s.logger.Infow("Job completed",
			"job_id", job.ID,
			"attempts", result.Attempts,
			"video_id", videoID(artifacts))

	case executor.StateCancelled:
		run.finalise(func(job *jobs.Job) {
			job.Cancel()
			if job.Stage == jobs.StageUpload {
				// The uploader was interrupted mid-flight and is not assumed
				// idempotent; the remote side may hold a partial upload.
				job.ErrorMessage = "cancelled during upload; a partial upload may exist remotely"
			}
			if err := s.queue.SaveEvent(job, jobs.EventCancelled); err != nil {
				s.logger.Errorw("Failed to persist cancelled job", "job_id", job.ID, "error", err)
			}
		})
		s.releaseSlot(job.ID)
		s.logger.Infow("Job cancelled during execution",
			"job_id", job.ID,
			"stage", job.Stage,
			"attempts", result.Attempts)

	case executor.StateTimedOut:
		run.finalise(func(job *jobs.Job) {
			job.Fail(errors.Wrapf(result.Err, "timed out after %d attempts", result.Attempts))
			if err := s.queue.Save(job); err != nil {
				s.logger.Errorw("Failed to persist timed-out job", "job_id", job.ID, "error", err)
			}
		})
		s.releaseSlot(job.ID)
		s.logger.Warnw("Job timed out", "job_id", job.ID, "attempts", result.Attempts)

	default: // executor.StateFailed
		run.finalise(func(job *jobs.Job) {
			job.Fail(result.Err)
			if err := s.queue.Save(job); err != nil {
				s.logger.Errorw("Failed to persist failed job", "job_id", job.ID, "error", err)
			}
		})
		s.releaseSlot(job.ID)
		s.logger.Warnw("Job failed",
			"job_id", job.ID,
			"attempts", result.Attempts,
			"error", result.Err)
	}
}

// maintenanceLoop sweeps terminal jobs and stale slots past retention.
func (s *Scheduler) maintenanceLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.queue.Cleanup(s.cfg.Retention)
			if err != nil {
				s.logger.Warnw("Job retention sweep failed", "error", err)
			} else if swept > 0 {
				s.logger.Infow("Swept old jobs", "count", swept, "retention", s.cfg.Retention.String())
			}
			slots, err := s.cal.Cleanup(s.cfg.Retention)
			if err != nil {
				s.logger.Warnw("Slot retention sweep failed", "error", err)
			} else if slots > 0 {
				s.logger.Infow("Swept old slots", "count", slots)
			}
		}
	}
}

func videoID(result *jobs.Result) string {
	if result == nil {
		return ""
	}
	return result.VideoID
}
