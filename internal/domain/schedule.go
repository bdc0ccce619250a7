package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ScheduleType string

const (
	EveryMinutes ScheduleType = "Every X minutes"
	EveryHours   ScheduleType = "Every X hours"
	DailyAt      ScheduleType = "Daily at specific time"
)

const dailyLayout = "15:04"

// ParseScheduleType accepts the full type names and the short forms
// "minutes", "hours" and "daily".
func ParseScheduleType(s string) (ScheduleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case strings.ToLower(string(EveryMinutes)), "minutes":
		return EveryMinutes, nil
	case strings.ToLower(string(EveryHours)), "hours":
		return EveryHours, nil
	case strings.ToLower(string(DailyAt)), "daily":
		return DailyAt, nil
	default:
		return "", fmt.Errorf("%w: unknown schedule type %q", ErrConfiguration, s)
	}
}

type Schedule struct {
	Type  ScheduleType
	Value string
}

func (s Schedule) String() string {
	return fmt.Sprintf("%s (%s)", s.Type, s.Value)
}

// Interval returns the period of an interval schedule.
func (s Schedule) Interval() (time.Duration, error) {
	var unit time.Duration
	switch s.Type {
	case EveryMinutes:
		unit = time.Minute
	case EveryHours:
		unit = time.Hour
	default:
		return 0, fmt.Errorf("%w: %q is not an interval schedule", ErrConfiguration, s.Type)
	}

	n, err := strconv.Atoi(strings.TrimSpace(s.Value))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: invalid interval %q", ErrConfiguration, s.Value)
	}
	return time.Duration(n) * unit, nil
}

// TimeOfDay returns the hour and minute of a daily schedule.
func (s Schedule) TimeOfDay() (int, int, error) {
	if s.Type != DailyAt {
		return 0, 0, fmt.Errorf("%w: %q is not a daily schedule", ErrConfiguration, s.Type)
	}
	t, err := time.Parse(dailyLayout, strings.TrimSpace(s.Value))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid time of day %q", ErrConfiguration, s.Value)
	}
	return t.Hour(), t.Minute(), nil
}

func (s Schedule) Validate() error {
	switch s.Type {
	case EveryMinutes, EveryHours:
		_, err := s.Interval()
		return err
	case DailyAt:
		_, _, err := s.TimeOfDay()
		return err
	default:
		return fmt.Errorf("%w: unknown schedule type %q", ErrConfiguration, s.Type)
	}
}

// NextRun computes the next run after now. The second result is false when
// the schedule cannot be parsed; such a job never runs automatically.
func NextRun(s Schedule, now time.Time) (time.Time, bool) {
	switch s.Type {
	case EveryMinutes, EveryHours:
		d, err := s.Interval()
		if err != nil {
			return time.Time{}, false
		}
		return now.Add(d), true
	case DailyAt:
		h, m, err := s.TimeOfDay()
		if err != nil {
			return time.Time{}, false
		}
		next := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, true
	default:
		return time.Time{}, false
	}
}

// IsDue decides whether a job should be dispatched at now.
func IsDue(job Job, now time.Time) bool {
	if job.Running {
		return false
	}
	if _, ok := NextRun(job.Schedule, now); !ok {
		return false
	}

	if job.NextRun != nil && !job.NextRun.After(now) {
		return true
	}
	// A job that never completed waits for its recomputed next_run after
	// a failure instead of retrying on every poll.
	if job.LastRun == nil {
		return job.NextRun == nil
	}

	switch job.Schedule.Type {
	case EveryMinutes, EveryHours:
		d, _ := job.Schedule.Interval()
		return now.Sub(*job.LastRun) >= d
	case DailyAt:
		h, m, _ := job.Schedule.TimeOfDay()
		scheduled := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
		return !now.Before(scheduled) && startOfDay(job.LastRun.In(now.Location())).Before(startOfDay(now))
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
