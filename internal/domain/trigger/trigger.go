// Package trigger computes firing instants for job schedules: six-field
// cron expressions evaluated in their declared IANA zone, fixed intervals,
// and one-time dates. For a fixed (schedule, now, tz database) the output
// is deterministic.
//
// Returned instants carry the schedule's location, so callers get both
// renderings from one value: format it for the wall clock, call UTC() for
// logs and storage.
package trigger

import (
	"errors"
	"fmt"
	"time"

	"github.com/jobmill/jobmill/internal/domain/jobdef"
)

// Trigger computes firing instants for one compiled schedule.
type Trigger interface {
	// Next returns the first firing instant strictly after now, or false
	// when the schedule is exhausted.
	Next(now time.Time) (time.Time, bool)
}

// Compile turns a schedule block into a Trigger. An error means the
// schedule can never fire and the job must stay out of the active set.
func Compile(sched *jobdef.Schedule) (Trigger, error) {
	if sched == nil {
		return nil, errors.New("schedule is required")
	}
	loc, err := sched.Location()
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", sched.Timezone, err)
	}

	switch sched.Type {
	case jobdef.ScheduleTypeCron:
		expr := sched.CronExpr()
		if expr == "" {
			return nil, errors.New("cron schedule requires an expression")
		}
		spec, err := parseCron(expr)
		if err != nil {
			return nil, err
		}
		return &cronTrigger{spec: spec, loc: loc}, nil

	case jobdef.ScheduleTypeInterval:
		if sched.Interval == nil {
			return nil, errors.New("interval schedule requires an interval block")
		}
		delta := sched.Interval.Duration()
		if delta < time.Second {
			return nil, fmt.Errorf("interval must be at least 1 second, got %s", delta)
		}
		return intervalTrigger{delta: delta, loc: loc}, nil

	case jobdef.ScheduleTypeDate:
		at, err := ParseRunDate(sched.RunDate, loc)
		if err != nil {
			return nil, err
		}
		return onceTrigger{at: at}, nil

	default:
		return nil, fmt.Errorf("unknown schedule type %q", sched.Type)
	}
}

// NextFireTime compiles and evaluates a schedule in one call.
func NextFireTime(sched *jobdef.Schedule, now time.Time) (time.Time, bool, error) {
	trig, err := Compile(sched)
	if err != nil {
		return time.Time{}, false, err
	}
	at, ok := trig.Next(now)
	return at, ok, nil
}

// intervalTrigger fires a fixed delta after the reference instant.
type intervalTrigger struct {
	delta time.Duration
	loc   *time.Location
}

func (i intervalTrigger) Next(now time.Time) (time.Time, bool) {
	return now.In(i.loc).Add(i.delta), true
}

// onceTrigger fires at a single instant, then is exhausted.
type onceTrigger struct {
	at time.Time
}

func (o onceTrigger) Next(now time.Time) (time.Time, bool) {
	if o.at.After(now) {
		return o.at, true
	}
	return time.Time{}, false
}

// runDateLayouts are the accepted run_date forms. Layouts without an
// offset are read in the schedule's zone.
var runDateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseRunDate parses a one-time schedule's run_date. RFC 3339 instants
// keep their own offset; zoneless forms are interpreted in loc.
func ParseRunDate(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("date schedule requires run_date")
	}
	if at, err := time.Parse(time.RFC3339, raw); err == nil {
		return at.In(loc), nil
	}
	for _, layout := range runDateLayouts {
		if at, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return at, nil
		}
	}
	return time.Time{}, fmt.Errorf("run_date %q is not a recognized ISO-8601 instant", raw)
}
