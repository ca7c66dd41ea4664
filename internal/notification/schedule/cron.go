// Package schedule decides which notification definitions are due and which
// time window a scheduled run covers.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"enrollment-notifier/internal/common/dateparse"
	apperrors "enrollment-notifier/internal/common/errors"

	"github.com/robfig/cron/v3"
)

// lookbacks bound the search for the previous firing; the cron library gives
// up on Next after five years, so the last window matches that.
var lookbacks = []time.Duration{
	time.Hour,
	24 * time.Hour,
	32 * 24 * time.Hour,
	366 * 24 * time.Hour,
	5 * 366 * 24 * time.Hour,
}

var descriptorFields = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

// DateRange is an inclusive time window.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Parse reads a five-field cron expression or a calendar descriptor such as
// @daily. Interval descriptors (@every) are rejected.
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, apperrors.NewScheduleInvalidError(expr, fmt.Errorf("empty schedule"))
	}
	if strings.HasPrefix(expr, "@every") {
		return nil, apperrors.NewScheduleInvalidError(expr, fmt.Errorf("interval schedules are not supported"))
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, apperrors.NewScheduleInvalidError(expr, err)
	}
	return sched, nil
}

// IsDue reports whether expr fires in now's minute. Seconds are ignored and
// an unparsable expression is never due.
func IsDue(expr string, now time.Time) bool {
	sched, err := Parse(expr)
	if err != nil {
		return false
	}
	minute := now.Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Second)).Equal(minute)
}

// PreviousRun returns the latest firing strictly before now's minute.
func PreviousRun(expr string, now time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	target := now.Truncate(time.Minute)

	for _, window := range lookbacks {
		var prev time.Time
		next := sched.Next(target.Add(-window).Add(-time.Second))
		for !next.IsZero() && next.Before(target) {
			prev = next
			next = sched.Next(next)
		}
		if !prev.IsZero() {
			return prev, nil
		}
	}
	return time.Time{}, fmt.Errorf("no previous run found for %q", expr)
}

// Interval infers the cadence of expr from its first wildcard field:
// minute, hour, day of month, then month. Anything else is treated as daily.
func Interval(expr string) func(time.Time) time.Time {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) == 1 {
		if std, ok := descriptorFields[strings.ToLower(fields[0])]; ok {
			fields = strings.Fields(std)
		}
	}

	if len(fields) == 5 {
		switch {
		case fields[0] == "*":
			return func(t time.Time) time.Time { return t.Add(-time.Minute) }
		case fields[1] == "*":
			return func(t time.Time) time.Time { return t.Add(-time.Hour) }
		case fields[2] == "*":
			return func(t time.Time) time.Time { return t.AddDate(0, 0, -1) }
		case fields[3] == "*":
			return func(t time.Time) time.Time { return t.AddDate(0, -1, 0) }
		}
	}
	return func(t time.Time) time.Time { return t.AddDate(0, 0, -1) }
}

// CalculateDateRange returns [PreviousRun - interval, now]. When the
// expression cannot be evaluated the range is [start of yesterday, now].
func CalculateDateRange(expr string, now time.Time) DateRange {
	prev, err := PreviousRun(expr, now)
	if err != nil {
		return DefaultDateRange(now)
	}
	return DateRange{From: Interval(expr)(prev), To: now}
}

func DefaultDateRange(now time.Time) DateRange {
	return DateRange{From: dateparse.StartOfDay(now.AddDate(0, 0, -1)), To: now}
}
