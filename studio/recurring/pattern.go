package recurring

import (
	"strconv"
	"strings"
	"time"
)

// NextFire returns the first fire time strictly after the given instant,
// honouring the schedule's start and end dates. Pattern clocks are read in
// loc; the result is UTC. ok is false when the schedule will never fire
// again.
func (s *Schedule) NextFire(after time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	// Fires before the start date do not exist.
	if floor := s.StartDate.Add(-time.Nanosecond); after.Before(floor) {
		after = floor
	}

	var next time.Time
	switch s.Kind {
	case KindDaily:
		next = s.nextClockDay(after, loc, func(time.Time) bool { return true })
	case KindWeekly:
		next = s.nextClockDay(after, loc, s.onWeekday)
	case KindMonthly:
		next = s.nextMonthly(after, loc)
	case KindInterval:
		next = s.nextInterval(after)
	case KindCron:
		next = s.nextCron(after, loc)
	}
	if next.IsZero() {
		return time.Time{}, false
	}
	if s.EndDate != nil && !next.Before(*s.EndDate) {
		return time.Time{}, false
	}
	return next.UTC(), true
}

// nextClockDay walks local dates from after's date until dayOK accepts one
// whose fire clock lands strictly after the reference instant. Eight days
// cover a full weekday cycle plus the partial first day.
func (s *Schedule) nextClockDay(after time.Time, loc *time.Location, dayOK func(time.Time) bool) time.Time {
	local := after.In(loc)
	for i := 0; i < 8; i++ {
		day := local.AddDate(0, 0, i)
		if !dayOK(day) {
			continue
		}
		candidate := time.Date(day.Year(), day.Month(), day.Day(), s.FireHour, s.FireMinute, 0, 0, loc)
		if candidate.After(after) {
			return candidate
		}
	}
	return time.Time{}
}

func (s *Schedule) onWeekday(day time.Time) bool {
	wd := int(day.Weekday())
	for _, d := range s.Weekdays {
		if d == wd {
			return true
		}
	}
	return false
}

// nextMonthly scans forward month by month. time.Date normalises the 31st
// of a short month into the next month; such candidates are skipped.
func (s *Schedule) nextMonthly(after time.Time, loc *time.Location) time.Time {
	local := after.In(loc)
	year, month := local.Year(), local.Month()
	for i := 0; i < 48; i++ {
		for _, day := range s.MonthDays {
			candidate := time.Date(year, month, day, s.FireHour, s.FireMinute, 0, 0, loc)
			if candidate.Month() != month {
				continue
			}
			if candidate.After(after) {
				return candidate
			}
		}
		if month == time.December {
			year, month = year+1, time.January
		} else {
			month++
		}
	}
	return time.Time{}
}

// nextInterval is phase-locked to the start date: fire times are
// start + k·interval, so restarts never drift the phase.
func (s *Schedule) nextInterval(after time.Time) time.Time {
	if s.IntervalSeconds <= 0 {
		return time.Time{}
	}
	every := time.Duration(s.IntervalSeconds) * time.Second
	if after.Before(s.StartDate) {
		return s.StartDate
	}
	intervals := int64(after.Sub(s.StartDate)/every) + 1
	return s.StartDate.Add(time.Duration(intervals) * every)
}

// nextCron evaluates the 5-field expression in loc. The expression was
// validated at creation; a corrupt row simply never fires.
func (s *Schedule) nextCron(after time.Time, loc *time.Location) time.Time {
	sched, err := cronParser.Parse(s.CronExpr)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(after.In(loc))
}

// RenderTemplate substitutes fire-time tokens into a topic template:
//
//	{date}      2030-01-06
//	{time}      10:00
//	{weekday}   Sunday
//	{week}      ISO week number
//	{timestamp} unix seconds
//	{year} {month} {day}
//
// The fire time must already be in the scheduler's timezone.
func RenderTemplate(template string, fireAt time.Time) string {
	if !strings.Contains(template, "{") {
		return template
	}
	_, week := fireAt.ISOWeek()
	return strings.NewReplacer(
		"{date}", fireAt.Format("2006-01-02"),
		"{time}", fireAt.Format("15:04"),
		"{weekday}", fireAt.Weekday().String(),
		"{week}", strconv.Itoa(week),
		"{timestamp}", strconv.FormatInt(fireAt.Unix(), 10),
		"{year}", fireAt.Format("2006"),
		"{month}", fireAt.Format("01"),
		"{day}", fireAt.Format("02"),
	).Replace(template)
}
