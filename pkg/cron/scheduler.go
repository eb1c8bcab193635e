package cron

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrNoNextRun is returned for a one-shot schedule whose time has passed.
var ErrNoNextRun = errors.New("schedule has no future run")

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CalculateNextRun returns the first run strictly after now, in Unix
// milliseconds.
func CalculateNextRun(schedule Schedule, now time.Time) (int64, error) {
	switch schedule.Kind {
	case ScheduleKindAt:
		return calculateAtSchedule(schedule, now)
	case ScheduleKindCron:
		return calculateCronSchedule(schedule, now)
	default:
		return 0, fmt.Errorf("unknown schedule kind: %s", schedule.Kind)
	}
}

// Validate checks the schedule without regard to the current time.
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleKindAt:
		_, err := parseAt(s)
		return err
	case ScheduleKindCron:
		if _, err := location(s.TZ); err != nil {
			return err
		}
		_, err := parseExpr(s.Expr)
		return err
	default:
		return fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}
}

func calculateAtSchedule(schedule Schedule, now time.Time) (int64, error) {
	t, err := parseAt(schedule)
	if err != nil {
		return 0, err
	}
	if !t.After(now) {
		return 0, ErrNoNextRun
	}
	return t.UnixMilli(), nil
}

func parseAt(schedule Schedule) (time.Time, error) {
	if schedule.At == "" {
		return time.Time{}, fmt.Errorf("'at' schedule requires 'at' field")
	}
	t, err := time.Parse(time.RFC3339, schedule.At)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	return t, nil
}

func calculateCronSchedule(schedule Schedule, now time.Time) (int64, error) {
	sched, err := parseExpr(schedule.Expr)
	if err != nil {
		return 0, err
	}
	loc, err := location(schedule.TZ)
	if err != nil {
		return 0, err
	}
	return sched.Next(now.In(loc)).UnixMilli(), nil
}

func parseExpr(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("'cron' schedule requires 'expr' field")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return sched, nil
}

func location(tz string) (*time.Location, error) {
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	return loc, nil
}
