package jobs

import (
	"database/sql"
	"time"

	"github.com/slatehq/slate/errors"
)

// Store provides SQL persistence for jobs.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// CreateJob inserts a new job.
func (s *Store) CreateJob(job *Job) error {
	tags, err := MarshalTags(job.Tags)
	if err != nil {
		return err
	}
	result, err := MarshalResult(job.Result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (id, topic, style, duration_seconds, tags, category, privacy, priority,
			status, stage, progress_percent, scheduled_at, publish_at, attempt_count, max_attempts,
			next_retry_at, error_message, result, schedule_id, created_at, updated_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		job.ID, job.Topic, job.Style, job.DurationSeconds, nullString(tags),
		job.Category, job.Privacy, job.Priority,
		job.Status, job.Stage, job.ProgressPercent,
		job.ScheduledAt, nullTime(job.PublishAt),
		job.AttemptCount, job.MaxAttempts, nullTime(job.NextRetryAt),
		nullString(job.ErrorMessage), nullString(result), nullString(job.ScheduleID),
		job.CreatedAt, job.UpdatedAt, nullTime(job.StartedAt), nullTime(job.CompletedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create job %s", job.ID)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(jobID string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns + ` FROM jobs WHERE id = ?`

	job, err := ScanJobFromRow(s.db.QueryRow(query, jobID))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("job not found: %s", jobID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", jobID)
	}
	return job, nil
}

// UpdateJob persists the current state of a job.
func (s *Store) UpdateJob(job *Job) error {
	tags, err := MarshalTags(job.Tags)
	if err != nil {
		return err
	}
	result, err := MarshalResult(job.Result)
	if err != nil {
		return err
	}

	query := `
		UPDATE jobs
		SET topic = ?, style = ?, duration_seconds = ?, tags = ?, category = ?, privacy = ?,
			priority = ?, status = ?, stage = ?, progress_percent = ?, scheduled_at = ?,
			publish_at = ?, attempt_count = ?, max_attempts = ?, next_retry_at = ?,
			error_message = ?, result = ?, schedule_id = ?, updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`
	res, err := s.db.Exec(query,
		job.Topic, job.Style, job.DurationSeconds, nullString(tags),
		job.Category, job.Privacy, job.Priority,
		job.Status, job.Stage, job.ProgressPercent,
		job.ScheduledAt, nullTime(job.PublishAt),
		job.AttemptCount, job.MaxAttempts, nullTime(job.NextRetryAt),
		nullString(job.ErrorMessage), nullString(result), nullString(job.ScheduleID),
		job.UpdatedAt, nullTime(job.StartedAt), nullTime(job.CompletedAt),
		job.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}
	if affected == 0 {
		return errors.NewNotFoundError("job not found: %s", job.ID)
	}
	return nil
}

// ListJobs retrieves jobs newest-first, optionally filtered by status.
// A limit of 0 returns all matching jobs.
func (s *Store) ListJobs(status *Status, limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns + ` FROM jobs`
	args := []interface{}{}

	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer func() { _ = rows.Close() }()

	return scanJobs(rows)
}

// ListDue retrieves scheduled jobs whose due time has arrived, ordered by
// due time then priority (higher first). Paused jobs have status 'paused'
// and never match.
func (s *Store) ListDue(now time.Time, limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns + ` FROM jobs
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC, priority DESC`
	args := []interface{}{StatusScheduled, now.UTC()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due jobs")
	}
	defer func() { _ = rows.Close() }()

	return scanJobs(rows)
}

// ListBySchedule retrieves jobs materialised from a recurring schedule,
// newest-first.
func (s *Store) ListBySchedule(scheduleID string, limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns + ` FROM jobs
		WHERE schedule_id = ? ORDER BY created_at DESC`
	args := []interface{}{scheduleID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list jobs for schedule %s", scheduleID)
	}
	defer func() { _ = rows.Close() }()

	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := ScanJobFromRows(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate jobs")
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs in each status.
func (s *Store) CountByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate job counts")
	}
	return counts, nil
}

// MarkInterrupted fails all jobs left in RUNNING by a previous process.
// Called once at startup before the dispatch loop begins.
func (s *Store) MarkInterrupted() (int, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE jobs
		SET status = ?, stage = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE status = ?`,
		StatusFailed, StageError, "interrupted", now, now, StatusRunning,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to mark interrupted jobs")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to check interrupted result")
	}
	return int(affected), nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(jobID string) error {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return errors.Wrapf(err, "failed to delete job %s", jobID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check delete result")
	}
	if affected == 0 {
		return errors.NewNotFoundError("job not found: %s", jobID)
	}
	return nil
}

// CleanupOldJobs deletes terminal jobs whose completion is older than the
// cutoff. Returns the number of jobs removed.
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.Exec(`
		DELETE FROM jobs
		WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		StatusCompleted, StatusFailed, StatusCancelled, cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to check cleanup result")
	}
	return int(affected), nil
}
