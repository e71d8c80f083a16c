// Package recurring materialises concrete jobs from schedule patterns.
//
// A Schedule owns a firing pattern (daily, weekly, monthly, interval, or
// cron), a job template with substitution tokens, and fire bookkeeping. The
// Ticker evaluates enabled schedules and hands each materialised job to a
// JobSubmitter. Fires missed while the process was down are never
// back-filled; only the next future fire is honoured.
package recurring

import (
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/slatehq/slate/errors"
	"github.com/slatehq/slate/internal/ids"
)

// Kind names a firing pattern.
type Kind string

const (
	KindDaily    Kind = "daily"
	KindWeekly   Kind = "weekly"
	KindMonthly  Kind = "monthly"
	KindInterval Kind = "interval"
	KindCron     Kind = "cron"
)

// ParseKind validates a pattern name received from the API.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDaily, KindWeekly, KindMonthly, KindInterval, KindCron:
		return Kind(s), nil
	}
	return "", errors.NewValidationError("pattern", "unknown pattern type %q", s)
}

// cronParser accepts only the classic 5-field grammar. Descriptors such as
// @hourly and @every are rejected at creation time.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Template is the job blueprint a schedule stamps out at each fire. Topic
// may carry substitution tokens; see RenderTemplate.
type Template struct {
	Topic           string   `json:"topic"`
	Style           string   `json:"style,omitempty"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Category        string   `json:"category,omitempty"`
	Privacy         string   `json:"privacy,omitempty"`
	Priority        int      `json:"priority,omitempty"`
}

// Schedule is a recurring production pattern. Pattern parameters live in
// dedicated fields per kind; the rest stay at their zero value.
type Schedule struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"pattern_type"`

	FireHour        int    `json:"fire_hour,omitempty"`     // daily, weekly, monthly
	FireMinute      int    `json:"fire_minute,omitempty"`   // daily, weekly, monthly
	Weekdays        []int  `json:"weekdays,omitempty"`      // weekly; 0 = Sunday
	MonthDays       []int  `json:"days_of_month,omitempty"` // monthly; 1-31
	IntervalSeconds int    `json:"interval_seconds,omitempty"`
	CronExpr        string `json:"cron_expression,omitempty"`

	Template  Template   `json:"template"`
	Enabled   bool       `json:"enabled"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	NextFireAt  *time.Time `json:"next_fire_at,omitempty"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	LastJobID   string     `json:"last_job_id,omitempty"`
	RunCount    int        `json:"run_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDaily creates a schedule firing at hour:minute every day.
func NewDaily(name string, tmpl Template, hour, minute int, start time.Time) (*Schedule, error) {
	if err := validateClock(hour, minute); err != nil {
		return nil, err
	}
	s, err := newSchedule(name, KindDaily, tmpl, start)
	if err != nil {
		return nil, err
	}
	s.FireHour, s.FireMinute = hour, minute
	return s, nil
}

// NewWeekly creates a schedule firing at hour:minute on the given weekdays
// (0 = Sunday, 6 = Saturday).
func NewWeekly(name string, tmpl Template, hour, minute int, weekdays []int, start time.Time) (*Schedule, error) {
	if err := validateClock(hour, minute); err != nil {
		return nil, err
	}
	days, err := normaliseDays(weekdays, 0, 6, "weekdays")
	if err != nil {
		return nil, err
	}
	s, err := newSchedule(name, KindWeekly, tmpl, start)
	if err != nil {
		return nil, err
	}
	s.FireHour, s.FireMinute, s.Weekdays = hour, minute, days
	return s, nil
}

// NewMonthly creates a schedule firing at hour:minute on the given days of
// month (1-31). Days a month does not have (the 31st in April) are skipped
// for that month, not moved.
func NewMonthly(name string, tmpl Template, hour, minute int, monthDays []int, start time.Time) (*Schedule, error) {
	if err := validateClock(hour, minute); err != nil {
		return nil, err
	}
	days, err := normaliseDays(monthDays, 1, 31, "days_of_month")
	if err != nil {
		return nil, err
	}
	s, err := newSchedule(name, KindMonthly, tmpl, start)
	if err != nil {
		return nil, err
	}
	s.FireHour, s.FireMinute, s.MonthDays = hour, minute, days
	return s, nil
}

// NewInterval creates a schedule firing every interval, phase-locked to the
// start date.
func NewInterval(name string, tmpl Template, every time.Duration, start time.Time) (*Schedule, error) {
	if every < time.Second {
		return nil, errors.NewValidationError("interval", "interval must be at least 1s, got %s", every)
	}
	s, err := newSchedule(name, KindInterval, tmpl, start)
	if err != nil {
		return nil, err
	}
	s.IntervalSeconds = int(every / time.Second)
	return s, nil
}

// NewCron creates a schedule firing per a standard 5-field cron expression,
// evaluated in the ticker's timezone. The expression is parsed here so
// malformed input is rejected at creation, not at fire time.
func NewCron(name string, tmpl Template, expr string, start time.Time) (*Schedule, error) {
	if _, err := cronParser.Parse(expr); err != nil {
		return nil, errors.NewValidationError("cron_expression", "invalid cron expression %q: %v", expr, err)
	}
	s, err := newSchedule(name, KindCron, tmpl, start)
	if err != nil {
		return nil, err
	}
	s.CronExpr = expr
	return s, nil
}

func newSchedule(name string, kind Kind, tmpl Template, start time.Time) (*Schedule, error) {
	if name == "" {
		return nil, errors.NewValidationError("name", "schedule name must not be empty")
	}
	if tmpl.Topic == "" {
		return nil, errors.NewValidationError("topic", "schedule template topic must not be empty")
	}
	id, err := ids.NewScheduleID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Schedule{
		ID:        id,
		Name:      name,
		Kind:      kind,
		Template:  tmpl,
		Enabled:   true,
		StartDate: start.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func validateClock(hour, minute int) error {
	if hour < 0 || hour > 23 {
		return errors.NewValidationError("hour", "fire hour must be 0-23, got %d", hour)
	}
	if minute < 0 || minute > 59 {
		return errors.NewValidationError("minute", "fire minute must be 0-59, got %d", minute)
	}
	return nil
}

// normaliseDays deduplicates and sorts a day set, rejecting values outside
// [min, max].
func normaliseDays(days []int, min, max int, field string) ([]int, error) {
	if len(days) == 0 {
		return nil, errors.NewValidationError(field, "%s must not be empty", field)
	}
	seen := make(map[int]struct{}, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d < min || d > max {
			return nil, errors.NewValidationError(field, "%s values must be %d-%d, got %d", field, min, max, d)
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Ints(out)
	return out, nil
}
