package domain

import (
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNextRun(t *testing.T) {
	Convey("Given the schedule calculator", t, func() {
		day := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

		Convey("When the schedule is daily at 14:00", func() {
			s := Schedule{Type: DailyAt, Value: "14:00"}

			Convey("It should run today when now is 13:00", func() {
				next, ok := NextRun(s, day.Add(13*time.Hour))
				So(ok, ShouldBeTrue)
				So(next, ShouldEqual, day.Add(14*time.Hour))
			})

			Convey("It should roll to tomorrow when now is 15:00", func() {
				next, ok := NextRun(s, day.Add(15*time.Hour))
				So(ok, ShouldBeTrue)
				So(next, ShouldEqual, day.AddDate(0, 0, 1).Add(14*time.Hour))
			})

			Convey("It should roll to tomorrow when now is exactly 14:00", func() {
				next, ok := NextRun(s, day.Add(14*time.Hour))
				So(ok, ShouldBeTrue)
				So(next, ShouldEqual, day.AddDate(0, 0, 1).Add(14*time.Hour))
			})
		})

		Convey("When the schedule is an interval", func() {
			now := day.Add(9 * time.Hour)

			Convey("It should add minutes", func() {
				next, ok := NextRun(Schedule{Type: EveryMinutes, Value: "30"}, now)
				So(ok, ShouldBeTrue)
				So(next, ShouldEqual, now.Add(30*time.Minute))
			})

			Convey("It should add hours", func() {
				next, ok := NextRun(Schedule{Type: EveryHours, Value: "6"}, now)
				So(ok, ShouldBeTrue)
				So(next, ShouldEqual, now.Add(6*time.Hour))
			})
		})

		Convey("When the schedule cannot be parsed", func() {
			for _, s := range []Schedule{
				{Type: EveryMinutes, Value: "abc"},
				{Type: EveryHours, Value: "0"},
				{Type: DailyAt, Value: "25:99"},
				{Type: "Weekly", Value: "1"},
			} {
				_, ok := NextRun(s, day)
				So(ok, ShouldBeFalse)
				So(errors.Is(s.Validate(), ErrConfiguration), ShouldBeTrue)
			}
		})
	})
}

func TestIsDue(t *testing.T) {
	Convey("Given a job", t, func() {
		now := time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)
		ago := func(d time.Duration) *time.Time { v := now.Add(-d); return &v }

		job := Job{ID: 1, Schedule: Schedule{Type: EveryMinutes, Value: "10"}}

		Convey("It should be due on its first run", func() {
			So(IsDue(job, now), ShouldBeTrue)
		})

		Convey("It should wait for next_run after a failed first run", func() {
			later := now.Add(5 * time.Minute)
			job.NextRun = &later
			So(IsDue(job, now), ShouldBeFalse)
		})

		Convey("It should never be due while running", func() {
			job.Running = true
			So(IsDue(job, now), ShouldBeFalse)
		})

		Convey("It should be due when next_run has passed", func() {
			job.LastRun = ago(time.Minute)
			job.NextRun = ago(time.Second)
			So(IsDue(job, now), ShouldBeTrue)
		})

		Convey("It should follow the interval since last_run", func() {
			job.LastRun = ago(5 * time.Minute)
			So(IsDue(job, now), ShouldBeFalse)

			job.LastRun = ago(10 * time.Minute)
			So(IsDue(job, now), ShouldBeTrue)
		})

		Convey("When the schedule is daily", func() {
			job.Schedule = Schedule{Type: DailyAt, Value: "14:00"}

			Convey("It should be due after the time if it last ran yesterday", func() {
				job.LastRun = ago(24 * time.Hour)
				So(IsDue(job, now), ShouldBeTrue)
			})

			Convey("It should not be due twice on the same day", func() {
				job.LastRun = ago(30 * time.Minute)
				So(IsDue(job, now), ShouldBeFalse)
			})

			Convey("It should not be due before the time", func() {
				job.LastRun = ago(24 * time.Hour)
				So(IsDue(job, now.Add(-2*time.Hour)), ShouldBeFalse)
			})
		})

		Convey("It should never be due with an invalid schedule", func() {
			job.Schedule = Schedule{Type: EveryHours, Value: "-1"}
			So(IsDue(job, now), ShouldBeFalse)
		})
	})
}

func TestParsers(t *testing.T) {
	Convey("Given the enum parsers", t, func() {
		Convey("It should parse job kinds case-insensitively", func() {
			k, err := ParseJobKind("incremental")
			So(err, ShouldBeNil)
			So(k, ShouldEqual, JobKindIncremental)

			_, err = ParseJobKind("Mirror")
			So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
		})

		Convey("It should accept short schedule names", func() {
			st, err := ParseScheduleType("daily")
			So(err, ShouldBeNil)
			So(st, ShouldEqual, DailyAt)
		})

		Convey("It should reject unknown retention types", func() {
			_, err := ParseRetentionType("keep_forever")
			So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
		})
	})
}
