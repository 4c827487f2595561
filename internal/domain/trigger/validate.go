package trigger

import (
	"fmt"
	"time"

	"github.com/jobmill/jobmill/internal/domain/jobdef"
	"github.com/jobmill/jobmill/internal/domain/model"
)

const (
	// onceGraceWindow is how far in the past a one-time schedule may sit
	// and still be saved with a warning instead of rejected outright.
	onceGraceWindow = time.Minute
	// minRecommendedInterval flags intervals tight enough to load the
	// scheduler noticeably.
	minRecommendedInterval = time.Minute
)

// Validate grades a schedule block against the reference instant now.
// A nil schedule passes: the job is manual-only.
func Validate(sched *jobdef.Schedule, now time.Time) *model.ValidationReport {
	report := model.NewValidationReport()
	if sched == nil {
		return report
	}

	loc, locErr := sched.Location()
	if locErr != nil {
		report.Fail("schedule.timezone", fmt.Sprintf("unknown timezone %q", sched.Timezone))
		loc = time.UTC
	}

	switch sched.Type {
	case jobdef.ScheduleTypeCron:
		validateCron(report, sched, loc, locErr == nil, now)
	case jobdef.ScheduleTypeInterval:
		validateInterval(report, sched)
	case jobdef.ScheduleTypeDate:
		validateOnce(report, sched, loc, now)
	default:
		report.Fail("schedule.type", fmt.Sprintf("unknown schedule type %q", sched.Type))
	}
	return report
}

func validateCron(report *model.ValidationReport, sched *jobdef.Schedule, loc *time.Location, locKnown bool, now time.Time) {
	expr := sched.CronExpr()
	if expr == "" {
		report.Fail("schedule.expression", "cron schedule requires a six-field expression (second minute hour day month day_of_week)")
		return
	}
	if _, err := parseCron(expr); err != nil {
		report.Fail("schedule.expression", err.Error())
		return
	}
	if locKnown && zoneObservesDST(loc, now) {
		report.Warn("schedule.timezone",
			fmt.Sprintf("%s observes daylight saving time; fires near transitions shift to wall-clock rules", loc))
	}
}

func validateInterval(report *model.ValidationReport, sched *jobdef.Schedule) {
	if sched.Interval == nil {
		report.Fail("schedule.interval", "interval schedule requires an interval block")
		return
	}
	negative := false
	for _, c := range []struct {
		name  string
		value int
	}{
		{"days", sched.Interval.Days},
		{"hours", sched.Interval.Hours},
		{"minutes", sched.Interval.Minutes},
		{"seconds", sched.Interval.Seconds},
	} {
		if c.value < 0 {
			report.Fail("schedule.interval."+c.name, c.name+" must not be negative")
			negative = true
		}
	}
	if negative {
		return
	}
	delta := sched.Interval.Duration()
	if delta <= 0 {
		report.Fail("schedule.interval", "interval must be greater than zero")
		return
	}
	if delta < minRecommendedInterval {
		report.Warn("schedule.interval",
			fmt.Sprintf("interval %s is under a minute; expect noticeable scheduler load", delta))
	}
}

func validateOnce(report *model.ValidationReport, sched *jobdef.Schedule, loc *time.Location, now time.Time) {
	at, err := ParseRunDate(sched.RunDate, loc)
	if err != nil {
		report.Fail("schedule.run_date", err.Error())
		return
	}
	past := now.Sub(at)
	switch {
	case past > onceGraceWindow:
		report.Fail("schedule.run_date", fmt.Sprintf("run_date %s is in the past", sched.RunDate))
	case past > 0:
		report.Warn("schedule.run_date", "run_date just passed; the job will not fire unless re-dated")
	}
}

// zoneObservesDST probes roughly the next year of monthly samples for an
// offset change.
func zoneObservesDST(loc *time.Location, now time.Time) bool {
	_, base := now.In(loc).Zone()
	for i := 1; i <= 13; i++ {
		if _, off := now.AddDate(0, i, 0).In(loc).Zone(); off != base {
			return true
		}
	}
	return false
}
