package jobs

import (
	"database/sql"

	"github.com/slatehq/slate/errors"
)

// JobScanArgs holds the nullable intermediates used when scanning a job row.
// Call GetJobScanTargets to get scan destinations, then ProcessJobScanArgs
// to copy the nullable values onto the job.
type JobScanArgs struct {
	Tags        sql.NullString
	PublishAt   sql.NullTime
	NextRetryAt sql.NullTime
	ErrorMsg    sql.NullString
	Result      sql.NullString
	ScheduleID  sql.NullString
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// GetJobScanTargets returns scan destinations for a job row in the column
// order of StandardJobSelectColumns.
func (args *JobScanArgs) GetJobScanTargets(job *Job) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Topic,
		&job.Style,
		&job.DurationSeconds,
		&args.Tags,
		&job.Category,
		&job.Privacy,
		&job.Priority,
		&job.Status,
		&job.Stage,
		&job.ProgressPercent,
		&job.ScheduledAt,
		&args.PublishAt,
		&job.AttemptCount,
		&job.MaxAttempts,
		&args.NextRetryAt,
		&args.ErrorMsg,
		&args.Result,
		&args.ScheduleID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&args.StartedAt,
		&args.CompletedAt,
	}
}

// ProcessJobScanArgs copies scanned nullable values onto the job.
func (args *JobScanArgs) ProcessJobScanArgs(job *Job) error {
	if args.Tags.Valid && args.Tags.String != "" {
		tags, err := UnmarshalTags(args.Tags.String)
		if err != nil {
			return errors.Wrapf(err, "failed to decode tags for job %s", job.ID)
		}
		job.Tags = tags
	}
	if args.PublishAt.Valid {
		t := args.PublishAt.Time
		job.PublishAt = &t
	}
	if args.NextRetryAt.Valid {
		t := args.NextRetryAt.Time
		job.NextRetryAt = &t
	}
	if args.ErrorMsg.Valid {
		job.ErrorMessage = args.ErrorMsg.String
	}
	if args.Result.Valid && args.Result.String != "" {
		result, err := UnmarshalResult(args.Result.String)
		if err != nil {
			return errors.Wrapf(err, "failed to decode result for job %s", job.ID)
		}
		job.Result = result
	}
	if args.ScheduleID.Valid {
		job.ScheduleID = args.ScheduleID.String
	}
	if args.StartedAt.Valid {
		t := args.StartedAt.Time
		job.StartedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time
		job.CompletedAt = &t
	}
	return nil
}

// ScanJobFromRow scans a single job from a QueryRow result.
func ScanJobFromRow(row *sql.Row) (*Job, error) {
	var job Job
	var args JobScanArgs

	if err := row.Scan(args.GetJobScanTargets(&job)...); err != nil {
		return nil, err
	}
	if err := args.ProcessJobScanArgs(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ScanJobFromRows scans the current row of a Query result into a job.
func ScanJobFromRows(rows *sql.Rows) (*Job, error) {
	var job Job
	var args JobScanArgs

	if err := rows.Scan(args.GetJobScanTargets(&job)...); err != nil {
		return nil, err
	}
	if err := args.ProcessJobScanArgs(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// StandardJobSelectColumns is the column list matching GetJobScanTargets.
const StandardJobSelectColumns = `id, topic, style, duration_seconds, tags, category, privacy, priority,
	status, stage, progress_percent, scheduled_at, publish_at, attempt_count, max_attempts,
	next_retry_at, error_message, result, schedule_id, created_at, updated_at, started_at, completed_at`
