package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobmill/jobmill/internal/domain/jobdef"
	"github.com/jobmill/jobmill/internal/domain/model"
)

var validateNow = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

func TestValidate_NilScheduleIsManualOnly(t *testing.T) {
	report := Validate(nil, validateNow)
	assert.Equal(t, model.ValidationPassed, report.Status)
}

func TestValidate_CronPassed(t *testing.T) {
	report := Validate(cronSched("0 0 3 * * *", "UTC"), validateNow)
	assert.Equal(t, model.ValidationPassed, report.Status)

	report = Validate(cronSched("*/2 * * * * *", ""), validateNow)
	assert.Equal(t, model.ValidationPassed, report.Status, "empty timezone defaults to UTC")
}

func TestValidate_CronFailures(t *testing.T) {
	tests := []struct {
		name  string
		sched *jobdef.Schedule
		field string
	}{
		{"five fields", cronSched("0 3 * * *", "UTC"), "schedule.expression"},
		{"out of range", cronSched("99 * * * * *", "UTC"), "schedule.expression"},
		{"garbage", cronSched("every tuesday", "UTC"), "schedule.expression"},
		{"missing expression", cronSched("", "UTC"), "schedule.expression"},
		{"unknown timezone", cronSched("0 * * * * *", "Mars/Olympus_Mons"), "schedule.timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Validate(tt.sched, validateNow)
			require.Equal(t, model.ValidationFailed, report.Status)
			var fields []string
			for _, c := range report.Checks {
				if c.Level == model.ValidationFailed {
					fields = append(fields, c.Field)
				}
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidate_CronDSTZoneWarns(t *testing.T) {
	report := Validate(cronSched("0 0 3 * * *", "America/Chicago"), validateNow)
	assert.Equal(t, model.ValidationWarning, report.Status)
	require.NotEmpty(t, report.Checks)
	assert.Equal(t, "schedule.timezone", report.Checks[0].Field)
}

func TestValidate_Interval(t *testing.T) {
	sched := func(i *jobdef.Interval) *jobdef.Schedule {
		return &jobdef.Schedule{Type: jobdef.ScheduleTypeInterval, Interval: i}
	}

	report := Validate(sched(&jobdef.Interval{Minutes: 5}), validateNow)
	assert.Equal(t, model.ValidationPassed, report.Status)

	report = Validate(sched(&jobdef.Interval{}), validateNow)
	assert.Equal(t, model.ValidationFailed, report.Status, "zero interval")

	report = Validate(sched(&jobdef.Interval{Seconds: -10}), validateNow)
	assert.Equal(t, model.ValidationFailed, report.Status)

	report = Validate(sched(&jobdef.Interval{Days: -1, Hours: 25}), validateNow)
	require.Equal(t, model.ValidationFailed, report.Status, "negative component fails even when the sum is positive")
	assert.Equal(t, "schedule.interval.days", report.Checks[0].Field)

	report = Validate(sched(nil), validateNow)
	assert.Equal(t, model.ValidationFailed, report.Status, "missing block")

	report = Validate(sched(&jobdef.Interval{Seconds: 30}), validateNow)
	assert.Equal(t, model.ValidationWarning, report.Status, "sub-minute interval warns")
}

func TestValidate_Once(t *testing.T) {
	sched := func(runDate string) *jobdef.Schedule {
		return &jobdef.Schedule{Type: jobdef.ScheduleTypeDate, RunDate: runDate}
	}

	report := Validate(sched("2026-12-24T06:00:00Z"), validateNow)
	assert.Equal(t, model.ValidationPassed, report.Status)

	report = Validate(sched("2026-01-01T00:00:00Z"), validateNow)
	assert.Equal(t, model.ValidationFailed, report.Status, "well past due")

	report = Validate(sched(validateNow.Add(-30*time.Second).Format(time.RFC3339)), validateNow)
	assert.Equal(t, model.ValidationWarning, report.Status, "near past within the grace window")

	report = Validate(sched("not-a-date"), validateNow)
	assert.Equal(t, model.ValidationFailed, report.Status)

	report = Validate(sched(""), validateNow)
	assert.Equal(t, model.ValidationFailed, report.Status)
}

func TestValidate_UnknownType(t *testing.T) {
	report := Validate(&jobdef.Schedule{Type: "weekly"}, validateNow)
	assert.Equal(t, model.ValidationFailed, report.Status)
}

func TestZoneObservesDST(t *testing.T) {
	assert.False(t, zoneObservesDST(time.UTC, validateNow))

	chi := chicago(t)
	assert.True(t, zoneObservesDST(chi, validateNow))
}
