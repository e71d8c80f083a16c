package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/slatehq/slate/capability"
	"github.com/slatehq/slate/errors"
	"github.com/slatehq/slate/studio/executor"
	"github.com/slatehq/slate/studio/jobs"
)

// Progress milestones per pipeline stage. Capability progress (0-100) is
// mapped into the owning stage's band.
const (
	progressScriptDone = 33
	progressAssembleTo = 66
	progressUploadTo   = 100
)

// progressCoalesceWindow bounds how often routine progress updates are
// persisted and broadcast, per job.
const progressCoalesceWindow = 500 * time.Millisecond

// pipeline returns the executor operation that runs all three stages for a
// job. Every attempt re-runs every stage: the core does not assume any
// capability is idempotent, so nothing short of COMPLETED is reused. The
// run serialises all job writes; request fields (topic, style, tags, ...)
// are read unsynchronised because nothing mutates them after scheduling.
func (s *Scheduler) pipeline(run *pipelineRun) executor.Operation {
	return func(ctx context.Context, attempt int, _ executor.ProgressFunc) (interface{}, error) {
		job := run.job
		run.begin(attempt)
		run.stage(attempt, jobs.StageScript)

		script, err := s.caps.Script.Generate(ctx, capability.ScriptRequest{
			Topic:           job.Topic,
			Style:           job.Style,
			DurationSeconds: job.DurationSeconds,
			Tags:            job.Tags,
		})
		if err != nil {
			return nil, errors.Wrap(err, "script stage")
		}
		run.progress(attempt, progressScriptDone)

		run.stage(attempt, jobs.StageAssemble)
		artifact, err := s.caps.Assembler.Assemble(ctx, script, capability.AssembleOptions{},
			mapProgress(run, attempt, progressScriptDone, progressAssembleTo))
		if err != nil {
			return nil, errors.Wrap(err, "assemble stage")
		}
		run.progress(attempt, progressAssembleTo)

		run.stage(attempt, jobs.StageUpload)
		receipt, err := s.caps.Uploader.Upload(ctx, artifact, capability.UploadMetadata{
			Title:     script.Title,
			Tags:      job.Tags,
			Category:  job.Category,
			Privacy:   job.Privacy,
			PublishAt: job.PublishAt,
		}, mapProgress(run, attempt, progressAssembleTo, progressUploadTo))
		if err != nil {
			return nil, errors.Wrap(err, "upload stage")
		}

		return &jobs.Result{
			ScriptTitle:     script.Title,
			ScriptWordCount: script.WordCount,
			VideoPath:       artifact.Path,
			VideoID:         receipt.VideoID,
			VideoURL:        receipt.URL,
		}, nil
	}
}

// mapProgress scales a capability's 0-100 reports into [from, to].
func mapProgress(run *pipelineRun, attempt, from, to int) capability.ProgressFunc {
	return func(percent int) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		run.progress(attempt, from+percent*(to-from)/100)
	}
}

// pipelineRun owns every write to a job while it executes. A timed-out
// attempt can outlive its grace window and keep reporting from the
// abandoned goroutine; each write names its attempt, and writes from any
// attempt other than the live one — or arriving after the run is finalised
// — are dropped. Routine progress is coalesced to a >=1% delta and at most
// one persisted write per half second; stage transitions always flush.
type pipelineRun struct {
	queue  *jobs.Queue
	job    *jobs.Job
	logger *zap.SugaredLogger

	mu        sync.Mutex
	attempt   int
	finalised bool
	lastSent  int
	lastAt    time.Time
}

func newPipelineRun(queue *jobs.Queue, job *jobs.Job, logger *zap.SugaredLogger) *pipelineRun {
	return &pipelineRun{queue: queue, job: job, logger: logger, lastSent: -1}
}

// begin installs attempt as the live writer and resets per-attempt state.
func (r *pipelineRun) begin(attempt int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalised {
		return
	}
	r.attempt = attempt
	r.job.BeginAttempt()
	r.lastSent = -1
	r.lastAt = time.Time{}
}

// live reports whether attempt may still write. Callers hold r.mu.
func (r *pipelineRun) live(attempt int) bool {
	return !r.finalised && attempt == r.attempt
}

// progress raises the job's progress. Downward and sub-1% moves are
// swallowed; writes inside the coalesce window are deferred to the next
// report or the next stage flush.
func (r *pipelineRun) progress(attempt, percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live(attempt) {
		return
	}

	r.job.UpdateProgress(percent)
	now := time.Now()
	if r.job.ProgressPercent-r.lastSent < 1 || now.Sub(r.lastAt) < progressCoalesceWindow {
		return
	}
	r.flushLocked(now)
}

// stage records a stage transition and flushes unconditionally.
func (r *pipelineRun) stage(attempt int, stage jobs.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live(attempt) {
		return
	}

	r.job.SetStage(stage)
	r.flushLocked(time.Now())
}

// finalise closes the run to attempt writes and applies the terminal
// mutation under the same lock, so an abandoned goroutine can neither
// interleave with it nor resurrect progress on a job already terminal.
func (r *pipelineRun) finalise(fn func(job *jobs.Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalised = true
	fn(r.job)
}

func (r *pipelineRun) flushLocked(now time.Time) {
	if err := r.queue.Save(r.job); err != nil && r.logger != nil {
		r.logger.Warnw("Failed to persist progress update",
			"job_id", r.job.ID,
			"progress", r.job.ProgressPercent,
			"error", err)
	}
	r.lastSent = r.job.ProgressPercent
	r.lastAt = now
}
