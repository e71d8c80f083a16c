package recurring

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slatehq/slate/errors"
)

func utc(day, hour, minute int) time.Time {
	return time.Date(2030, time.January, day, hour, minute, 0, 0, time.UTC)
}

var topicOnly = Template{Topic: "topic"}

func TestNextFire_Daily(t *testing.T) {
	s, err := NewDaily("daily", topicOnly, 10, 0, utc(1, 0, 0))
	require.NoError(t, err)

	next, ok := s.NextFire(utc(1, 9, 0), time.UTC)
	require.True(t, ok)
	assert.True(t, next.Equal(utc(1, 10, 0)))

	// Asking at the fire time itself advances to the next day.
	next, ok = s.NextFire(utc(1, 10, 0), time.UTC)
	require.True(t, ok)
	assert.True(t, next.Equal(utc(2, 10, 0)))
}

func TestNextFire_BeforeStartDate(t *testing.T) {
	s, err := NewDaily("daily", topicOnly, 10, 0, utc(5, 0, 0))
	require.NoError(t, err)

	next, ok := s.NextFire(utc(1, 0, 0), time.UTC)
	require.True(t, ok)
	assert.True(t, next.Equal(utc(5, 10, 0)), "no fires exist before the start date")
}

func TestNextFire_DailyTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s, err := NewDaily("daily", topicOnly, 10, 0, utc(1, 0, 0))
	require.NoError(t, err)

	// 10:00 in New York is 15:00 UTC in January.
	next, ok := s.NextFire(utc(1, 0, 0), ny)
	require.True(t, ok)
	assert.True(t, next.Equal(utc(1, 15, 0)))
}

func TestNextFire_Weekly(t *testing.T) {
	// 2030-01-01 is a Tuesday; the first Monday after it is January 7.
	s, err := NewWeekly("weekly", topicOnly, 10, 0, []int{int(time.Monday)}, utc(1, 0, 0))
	require.NoError(t, err)

	next, ok := s.NextFire(utc(1, 0, 0), time.UTC)
	require.True(t, ok)
	assert.True(t, next.Equal(utc(7, 10, 0)))

	next, ok = s.NextFire(next, time.UTC)
	require.True(t, ok)
	assert.True(t, next.Equal(utc(14, 10, 0)))
}

func TestNextFire_WeeklySundayIsZero(t *testing.T) {
	s, err := NewWeekly("weekly", topicOnly, 10, 0, []int{0}, utc(1, 0, 0))
	require.NoError(t, err)

	next, ok := s.NextFire(utc(1, 0, 0), time.UTC)
	require.True(t, ok)
	assert.True(t, next.Equal(utc(6, 10, 0)), "January 6 2030 is a Sunday")
}

func TestNextFire_WeeklyMultipleDays(t *testing.T) {
	s, err := NewWeekly("weekly", topicOnly, 10, 0, []int{int(time.Monday), int(time.Thursday)}, utc(1, 0, 0))
	require.NoError(t, err)

	next, ok := s.NextFire(utc(1, 0, 0), time.UTC)
	require.True(t, ok)
	assert.True(t, next.Equal(utc(3, 10, 0)), "Thursday January 3 comes first")

	next, ok = s.NextFire(next, time.UTC)
	require.True(t, ok)
	assert.True(t, next.Equal(utc(7, 10, 0)))
}

func TestNextFire_MonthlySkipsShortMonths(t *testing.T) {
	s, err := NewMonthly("monthly", topicOnly, 12, 0, []int{31}, utc(1, 0, 0))
	require.NoError(t, err)

	// February has no 31st; the fire moves to March 31, not March 3.
	next, ok := s.NextFire(time.Date(2030, time.January, 31, 12, 0, 0, 0, time.UTC), time.UTC)
	require.True(t, ok)
	assert.True(t, next.Equal(time.Date(2030, time.March, 31, 12, 0, 0, 0, time.UTC)))
}

func TestNextFire_MonthlyMultipleDays(t *testing.T) {
	s, err := NewMonthly("monthly", topicOnly, 12, 0, []int{1, 15}, utc(1, 0, 0))
	require.NoError(t, err)

	next, ok := s.NextFire(utc(1, 12, 0), time.UTC)
	require.True(t, ok)
	assert.True(t, next.Equal(utc(15, 12, 0)))

	next, ok = s.NextFire(utc(20, 0, 0), time.UTC)
	require.True(t, ok)
	assert.True(t, next.Equal(time.Date(2030, time.February, 1, 12, 0, 0, 0, time.UTC)))
}

func TestNextFire_IntervalPhaseLocked(t *testing.T) {
	s, err := NewInterval("interval", topicOnly, time.Hour, utc(1, 0, 0))
	require.NoError(t, err)

	// A future start date is itself the first fire.
	next, ok := s.NextFire(time.Date(2029, time.December, 31, 23, 0, 0, 0, time.UTC), time.UTC)
	require.True(t, ok)
	assert.True(t, next.Equal(utc(1, 0, 0)))

	next, ok = s.NextFire(utc(1, 0, 0), time.UTC)
	require.True(t, ok)
	assert.True(t, next.Equal(utc(1, 1, 0)))

	// The phase stays locked to the start regardless of when we ask.
	next, ok = s.NextFire(utc(1, 1, 30), time.UTC)
	require.True(t, ok)
	assert.True(t, next.Equal(utc(1, 2, 0)))
}

func TestNextFire_Cron(t *testing.T) {
	s, err := NewCron("cron", topicOnly, "*/15 * * * *", utc(1, 0, 0))
	require.NoError(t, err)

	next, ok := s.NextFire(utc(1, 10, 7), time.UTC)
	require.True(t, ok)
	assert.True(t, next.Equal(utc(1, 10, 15)))
}

func TestNextFire_CronTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s, err := NewCron("cron", topicOnly, "0 10 * * *", utc(1, 0, 0))
	require.NoError(t, err)

	next, ok := s.NextFire(utc(1, 0, 0), ny)
	require.True(t, ok)
	assert.True(t, next.Equal(utc(1, 15, 0)))
}

func TestNextFire_EndDate(t *testing.T) {
	s, err := NewDaily("daily", topicOnly, 10, 0, utc(1, 0, 0))
	require.NoError(t, err)
	end := utc(3, 0, 0)
	s.EndDate = &end

	next, ok := s.NextFire(utc(1, 12, 0), time.UTC)
	require.True(t, ok)
	assert.True(t, next.Equal(utc(2, 10, 0)))

	_, ok = s.NextFire(utc(2, 10, 0), time.UTC)
	assert.False(t, ok, "fires at or past the end date do not exist")
}

func TestParseKind(t *testing.T) {
	for _, kind := range []string{"daily", "weekly", "monthly", "interval", "cron"} {
		got, err := ParseKind(kind)
		require.NoError(t, err)
		assert.Equal(t, Kind(kind), got)
	}

	_, err := ParseKind("hourly")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestScheduleValidation(t *testing.T) {
	start := utc(1, 0, 0)
	tests := []struct {
		name      string
		build     func() (*Schedule, error)
		wantField string
	}{
		{"empty name", func() (*Schedule, error) { return NewDaily("", topicOnly, 10, 0, start) }, "name"},
		{"empty topic", func() (*Schedule, error) { return NewDaily("x", Template{}, 10, 0, start) }, "topic"},
		{"hour too large", func() (*Schedule, error) { return NewDaily("x", topicOnly, 24, 0, start) }, "hour"},
		{"negative minute", func() (*Schedule, error) { return NewDaily("x", topicOnly, 10, -1, start) }, "minute"},
		{"no weekdays", func() (*Schedule, error) { return NewWeekly("x", topicOnly, 10, 0, nil, start) }, "weekdays"},
		{"weekday out of range", func() (*Schedule, error) { return NewWeekly("x", topicOnly, 10, 0, []int{7}, start) }, "weekdays"},
		{"no month days", func() (*Schedule, error) { return NewMonthly("x", topicOnly, 10, 0, nil, start) }, "days_of_month"},
		{"month day zero", func() (*Schedule, error) { return NewMonthly("x", topicOnly, 10, 0, []int{0}, start) }, "days_of_month"},
		{"interval too short", func() (*Schedule, error) { return NewInterval("x", topicOnly, 500*time.Millisecond, start) }, "interval"},
		{"malformed cron", func() (*Schedule, error) { return NewCron("x", topicOnly, "not a cron", start) }, "cron_expression"},
		{"cron descriptor rejected", func() (*Schedule, error) { return NewCron("x", topicOnly, "@hourly", start) }, "cron_expression"},
		{"cron every rejected", func() (*Schedule, error) { return NewCron("x", topicOnly, "@every 5m", start) }, "cron_expression"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			require.Error(t, err)
			assert.True(t, errors.IsInvalidRequestError(err))
			assert.Equal(t, tt.wantField, errors.ValidationField(err))
		})
	}
}

func TestWeekdaysNormalised(t *testing.T) {
	s, err := NewWeekly("x", topicOnly, 10, 0, []int{3, 1, 3, 5}, utc(1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 5}, s.Weekdays)
}

func TestRenderTemplate(t *testing.T) {
	fireAt := time.Date(2030, time.January, 6, 10, 5, 0, 0, time.UTC)

	got := RenderTemplate("News {date} {time} {weekday} w{week} {year}-{month}-{day}", fireAt)
	assert.Equal(t, "News 2030-01-06 10:05 Sunday w1 2030-01-06", got)

	got = RenderTemplate("run-{timestamp}", fireAt)
	assert.Equal(t, "run-"+strconv.FormatInt(fireAt.Unix(), 10), got)

	assert.Equal(t, "no tokens here", RenderTemplate("no tokens here", fireAt))
	assert.Equal(t, "{nope} stays", RenderTemplate("{nope} stays", fireAt))
}
