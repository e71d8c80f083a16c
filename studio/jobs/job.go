// Package jobs provides the content production job model: the status and
// stage state machine, SQLite persistence, and the change-event queue the
// rest of the system subscribes to.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/slatehq/slate/errors"
	"github.com/slatehq/slate/internal/ids"
)

// Status represents the current state of a job
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusScheduled, StatusRunning, StatusPaused,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is final. Terminal jobs are immutable
// except for retention cleanup.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Stage tracks where in the production pipeline a running job is.
type Stage string

const (
	StageQueued   Stage = "queued"
	StageScript   Stage = "script"
	StageAssemble Stage = "assemble"
	StageUpload   Stage = "upload"
	StageDone     Stage = "done"
	StageError    Stage = "error"
)

// IsValidStage returns true if the stage string is a valid Stage
func IsValidStage(s string) bool {
	switch Stage(s) {
	case StageQueued, StageScript, StageAssemble, StageUpload, StageDone, StageError:
		return true
	default:
		return false
	}
}

// Result references the artifacts a completed job produced.
type Result struct {
	ScriptTitle     string `json:"script_title,omitempty"`
	ScriptWordCount int    `json:"script_word_count,omitempty"`
	VideoPath       string `json:"video_path,omitempty"`
	VideoID         string `json:"video_id,omitempty"`
	VideoURL        string `json:"video_url,omitempty"`
}

// Job represents one piece of content to produce and publish.
type Job struct {
	ID              string     `json:"id"`
	Topic           string     `json:"topic"`
	Style           string     `json:"style,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	Tags            []string   `json:"tags,omitempty"`
	Category        string     `json:"category,omitempty"`
	Privacy         string     `json:"privacy,omitempty"`
	Priority        int        `json:"priority,omitempty"`
	Status          Status     `json:"status"`
	Stage           Stage      `json:"stage"`
	ProgressPercent int        `json:"progress_percent"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	PublishAt       *time.Time `json:"publish_at,omitempty"`
	AttemptCount    int        `json:"attempt_count"`
	MaxAttempts     int        `json:"max_attempts"`
	NextRetryAt     *time.Time `json:"next_retry_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	Result          *Result    `json:"result,omitempty"`
	ScheduleID      string     `json:"schedule_id,omitempty"` // recurring schedule that materialised this job
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a PENDING job for a topic due at scheduledAt. Production
// parameters beyond the topic are set on the returned struct before the job
// is persisted.
func NewJob(topic string, scheduledAt time.Time) (*Job, error) {
	if topic == "" {
		return nil, errors.New("topic cannot be empty")
	}

	jobID, err := ids.NewJobID()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate job id")
	}

	now := time.Now().UTC()
	return &Job{
		ID:          jobID,
		Topic:       topic,
		Status:      StatusPending,
		Stage:       StageQueued,
		ScheduledAt: scheduledAt,
		MaxAttempts: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// MarkScheduled moves a pending job to SCHEDULED (persisted with a due time).
func (j *Job) MarkScheduled() {
	j.Status = StatusScheduled
	j.UpdatedAt = time.Now().UTC()
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now().UTC()
	j.Status = StatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
}

// BeginAttempt resets per-attempt state. Progress starts from zero on every
// attempt; completed stages are re-executed.
func (j *Job) BeginAttempt() {
	j.AttemptCount++
	j.ProgressPercent = 0
	j.Stage = StageQueued
	j.NextRetryAt = nil
	j.UpdatedAt = time.Now().UTC()
}

// SetStage records the pipeline stage the job has entered.
func (j *Job) SetStage(stage Stage) {
	j.Stage = stage
	j.UpdatedAt = time.Now().UTC()
}

// UpdateProgress raises progress_percent. Values below the current progress
// are ignored: progress is monotonic within an attempt (BeginAttempt resets
// it).
func (j *Job) UpdateProgress(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent <= j.ProgressPercent {
		return
	}
	j.ProgressPercent = percent
	j.UpdatedAt = time.Now().UTC()
}

// ScheduleRetry records when the next attempt becomes due. The job stays
// RUNNING while the executor waits out the delay.
func (j *Job) ScheduleRetry(at time.Time) {
	j.NextRetryAt = &at
	j.UpdatedAt = time.Now().UTC()
}

// Complete marks the job as completed with its artifacts.
func (j *Job) Complete(result *Result) {
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.Stage = StageDone
	j.ProgressPercent = 100
	j.Result = result
	j.NextRetryAt = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as failed with the last cause.
func (j *Job) Fail(err error) {
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.Stage = StageError
	j.ErrorMessage = err.Error()
	j.NextRetryAt = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Cancel marks the job as cancelled. No error_message is recorded; callers
// with context worth keeping (a possibly-partial upload) set it explicitly.
func (j *Job) Cancel() {
	now := time.Now().UTC()
	j.Status = StatusCancelled
	j.NextRetryAt = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Pause freezes due-time evaluation for the job.
func (j *Job) Pause() {
	j.Status = StatusPaused
	j.UpdatedAt = time.Now().UTC()
}

// Resume returns a paused job to SCHEDULED with its original due time. A due
// time already in the past is picked up by the next dispatch scan.
func (j *Job) Resume() {
	j.Status = StatusScheduled
	j.UpdatedAt = time.Now().UTC()
}

// CanCancel reports whether cancel is valid in the current status.
func (j *Job) CanCancel() bool {
	return !j.Status.Terminal()
}

// CanPause reports whether pause is valid in the current status. Running
// jobs cannot pause; cancel is the only way to stop them.
func (j *Job) CanPause() bool {
	return j.Status == StatusPending || j.Status == StatusScheduled
}

// MarshalResult converts a Result to its stored JSON form.
func MarshalResult(result *Result) (string, error) {
	if result == nil {
		return "", nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal result")
	}
	return string(data), nil
}

// UnmarshalResult converts stored JSON to a Result.
func UnmarshalResult(data string) (*Result, error) {
	if data == "" {
		return nil, nil
	}
	var result Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal result")
	}
	return &result, nil
}

// MarshalTags converts a tag list to its stored JSON form.
func MarshalTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal tags")
	}
	return string(data), nil
}

// UnmarshalTags converts stored JSON to a tag list.
func UnmarshalTags(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(data), &tags); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal tags")
	}
	return tags, nil
}
