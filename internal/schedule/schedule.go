package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tracklab/podium/internal/database/models"
)

// cronParser accepts standard 5-field expressions, an optional leading
// seconds field, and @descriptors like @hourly.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Spec is a validated schedule extracted from a ScheduledTask row. Build one
// with FromTask; a zero Spec is not usable.
type Spec struct {
	Type  models.ScheduleType
	Every time.Duration // interval tasks
	At    time.Time     // one-time tasks
	Cron  cron.Schedule // cron tasks, already parsed
}

// FromTask validates a task's schedule definition and returns a Spec for it.
// This is the single place cron expressions are parsed, so a Spec that exists
// can always compute next runs without erroring.
func FromTask(t *models.ScheduledTask) (Spec, error) {
	if err := t.ValidateSchedule(); err != nil {
		return Spec{}, err
	}

	spec := Spec{Type: t.ScheduleType}
	switch t.ScheduleType {
	case models.ScheduleInterval:
		spec.Every = time.Duration(t.IntervalSeconds) * time.Second
	case models.ScheduleCron:
		sched, err := ParseCron(t.CronExpr)
		if err != nil {
			return Spec{}, fmt.Errorf("task %q: %w", t.Name, err)
		}
		spec.Cron = sched
	case models.ScheduleOneTime:
		spec.At = t.ScheduledAt.UTC()
	}
	return spec, nil
}

// ParseCron parses a cron expression with the shared parser.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// NextRun computes the next execution time after now, in UTC. ok is false
// when the schedule has no further occurrence (a one-time schedule whose
// moment has passed); the caller is expected to deactivate the task.
func NextRun(s Spec, now time.Time) (next time.Time, ok bool) {
	now = now.UTC()
	switch s.Type {
	case models.ScheduleInterval:
		return now.Add(s.Every), true
	case models.ScheduleCron:
		// robfig schedules are strictly after the reference time, so a
		// task can never be rescheduled for the instant it just ran at.
		return s.Cron.Next(now), true
	case models.ScheduleOneTime:
		if s.At.After(now) {
			return s.At, true
		}
		return time.Time{}, false
	}
	return time.Time{}, false
}
