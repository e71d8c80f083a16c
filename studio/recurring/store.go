package recurring

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/slatehq/slate/errors"
)

// Store provides SQL persistence for recurring schedules.
type Store struct {
	db *sql.DB
}

// NewStore creates a schedule store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const scheduleColumns = `id, name, pattern_type, fire_hour, fire_minute, weekdays, days_of_month, interval_seconds, cron_expression, template, enabled, start_date, end_date, next_fire_at, last_fired_at, last_job_id, run_count, created_at, updated_at`

// CreateSchedule inserts a new schedule.
func (s *Store) CreateSchedule(schedule *Schedule) error {
	weekdays, err := encodeDays(schedule.Weekdays)
	if err != nil {
		return errors.Wrapf(err, "failed to encode weekdays for schedule %s", schedule.ID)
	}
	monthDays, err := encodeDays(schedule.MonthDays)
	if err != nil {
		return errors.Wrapf(err, "failed to encode month days for schedule %s", schedule.ID)
	}
	template, err := json.Marshal(schedule.Template)
	if err != nil {
		return errors.Wrapf(err, "failed to encode template for schedule %s", schedule.ID)
	}

	clocked := schedule.Kind == KindDaily || schedule.Kind == KindWeekly || schedule.Kind == KindMonthly
	_, err = s.db.Exec(`
		INSERT INTO recurring_schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		schedule.ID, schedule.Name, schedule.Kind,
		nullInt(schedule.FireHour, clocked), nullInt(schedule.FireMinute, clocked),
		weekdays, monthDays,
		nullInt(schedule.IntervalSeconds, schedule.Kind == KindInterval),
		nullString(schedule.CronExpr),
		string(template), schedule.Enabled, schedule.StartDate,
		nullTime(schedule.EndDate), nullTime(schedule.NextFireAt),
		nullTime(schedule.LastFiredAt), nullString(schedule.LastJobID),
		schedule.RunCount, schedule.CreatedAt, schedule.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create schedule %s", schedule.ID)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Store) GetSchedule(scheduleID string) (*Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM recurring_schedules WHERE id = ?`, scheduleID)
	schedule, err := scanSchedule(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("schedule not found: %s", scheduleID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get schedule %s", scheduleID)
	}
	return schedule, nil
}

// ListSchedules retrieves all schedules, oldest first.
func (s *Store) ListSchedules() ([]*Schedule, error) {
	rows, err := s.db.Query(`SELECT ` + scheduleColumns + ` FROM recurring_schedules ORDER BY created_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list schedules")
	}
	return collectSchedules(rows)
}

// ListEnabled retrieves enabled schedules ordered by next fire time.
func (s *Store) ListEnabled() ([]*Schedule, error) {
	rows, err := s.db.Query(`SELECT ` + scheduleColumns + ` FROM recurring_schedules WHERE enabled = 1 ORDER BY next_fire_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list enabled schedules")
	}
	return collectSchedules(rows)
}

// ListDue retrieves enabled schedules whose next fire time has arrived.
func (s *Store) ListDue(now time.Time) ([]*Schedule, error) {
	rows, err := s.db.Query(`
		SELECT `+scheduleColumns+` FROM recurring_schedules
		WHERE enabled = 1 AND next_fire_at IS NOT NULL AND next_fire_at <= ?
		ORDER BY next_fire_at ASC`, now.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due schedules")
	}
	return collectSchedules(rows)
}

// NextScheduled returns the enabled schedule that fires soonest, or nil when
// none are pending.
func (s *Store) NextScheduled() (*Schedule, error) {
	row := s.db.QueryRow(`
		SELECT ` + scheduleColumns + ` FROM recurring_schedules
		WHERE enabled = 1 AND next_fire_at IS NOT NULL
		ORDER BY next_fire_at ASC LIMIT 1`)
	schedule, err := scanSchedule(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get next scheduled fire")
	}
	return schedule, nil
}

// SetEnabled flips a schedule's enabled flag and rewrites its next fire
// time. Pass nil to clear the fire time (paused or ended schedules).
func (s *Store) SetEnabled(scheduleID string, enabled bool, next *time.Time) error {
	res, err := s.db.Exec(`
		UPDATE recurring_schedules
		SET enabled = ?, next_fire_at = ?, updated_at = ?
		WHERE id = ?`,
		enabled, nullTime(next), time.Now().UTC(), scheduleID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update schedule %s", scheduleID)
	}
	return requireRow(res, scheduleID)
}

// UpdateAfterFire records a completed fire: bookkeeping plus the advanced
// fire time. A nil next disables the schedule (end date reached).
func (s *Store) UpdateAfterFire(scheduleID string, firedAt time.Time, jobID string, next *time.Time) error {
	res, err := s.db.Exec(`
		UPDATE recurring_schedules
		SET last_fired_at = ?, last_job_id = ?, run_count = run_count + 1,
		    next_fire_at = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		firedAt.UTC(), nullString(jobID), nullTime(next), next != nil,
		time.Now().UTC(), scheduleID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record fire for schedule %s", scheduleID)
	}
	return requireRow(res, scheduleID)
}

// DeleteSchedule removes a schedule permanently.
func (s *Store) DeleteSchedule(scheduleID string) error {
	res, err := s.db.Exec(`DELETE FROM recurring_schedules WHERE id = ?`, scheduleID)
	if err != nil {
		return errors.Wrapf(err, "failed to delete schedule %s", scheduleID)
	}
	return requireRow(res, scheduleID)
}

func requireRow(res sql.Result, scheduleID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check schedule update result")
	}
	if affected == 0 {
		return errors.NewNotFoundError("schedule not found: %s", scheduleID)
	}
	return nil
}

func collectSchedules(rows *sql.Rows) ([]*Schedule, error) {
	defer func() { _ = rows.Close() }()

	var schedules []*Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate schedules")
	}
	return schedules, nil
}

func scanSchedule(scan func(dest ...interface{}) error) (*Schedule, error) {
	var (
		schedule   Schedule
		fireHour   sql.NullInt64
		fireMinute sql.NullInt64
		weekdays   sql.NullString
		monthDays  sql.NullString
		interval   sql.NullInt64
		cronExpr   sql.NullString
		template   string
		endDate    sql.NullTime
		nextFire   sql.NullTime
		lastFired  sql.NullTime
		lastJobID  sql.NullString
	)
	if err := scan(
		&schedule.ID, &schedule.Name, &schedule.Kind,
		&fireHour, &fireMinute, &weekdays, &monthDays, &interval, &cronExpr,
		&template, &schedule.Enabled, &schedule.StartDate,
		&endDate, &nextFire, &lastFired, &lastJobID,
		&schedule.RunCount, &schedule.CreatedAt, &schedule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if fireHour.Valid {
		schedule.FireHour = int(fireHour.Int64)
	}
	if fireMinute.Valid {
		schedule.FireMinute = int(fireMinute.Int64)
	}
	if interval.Valid {
		schedule.IntervalSeconds = int(interval.Int64)
	}
	if cronExpr.Valid {
		schedule.CronExpr = cronExpr.String
	}
	if lastJobID.Valid {
		schedule.LastJobID = lastJobID.String
	}
	if endDate.Valid {
		t := endDate.Time
		schedule.EndDate = &t
	}
	if nextFire.Valid {
		t := nextFire.Time
		schedule.NextFireAt = &t
	}
	if lastFired.Valid {
		t := lastFired.Time
		schedule.LastFiredAt = &t
	}

	var err error
	if schedule.Weekdays, err = decodeDays(weekdays); err != nil {
		return nil, errors.Wrapf(err, "failed to decode weekdays for schedule %s", schedule.ID)
	}
	if schedule.MonthDays, err = decodeDays(monthDays); err != nil {
		return nil, errors.Wrapf(err, "failed to decode month days for schedule %s", schedule.ID)
	}
	if err := json.Unmarshal([]byte(template), &schedule.Template); err != nil {
		return nil, errors.Wrapf(err, "failed to decode template for schedule %s", schedule.ID)
	}
	return &schedule, nil
}

func encodeDays(days []int) (sql.NullString, error) {
	if len(days) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(days)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeDays(raw sql.NullString) ([]int, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var days []int
	if err := json.Unmarshal([]byte(raw.String), &days); err != nil {
		return nil, err
	}
	return days, nil
}

func nullInt(v int, used bool) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: used}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
