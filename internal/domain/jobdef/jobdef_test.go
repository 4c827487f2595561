package jobdef

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobmill/jobmill/internal/domain/model"
)

const powershellYAML = `
name: nightly-report
type: PowerShell
description: builds the nightly report
inlineScript: |
  Write-Host "HELLO"
executionPolicy: Bypass
parameters:
  - name: Env
    value: prod
workingDirectory: C:\jobs
schedule:
  type: cron
  expression: "0 0 3 * * 1"
  timezone: America/Chicago
timeout: 120
max_retries: 2
retry_delay: 30
`

func TestParse_PowerShell(t *testing.T) {
	doc, err := Parse(powershellYAML)
	require.NoError(t, err)

	assert.Equal(t, "nightly-report", doc.Name)
	assert.Equal(t, model.JobTypePowerShell, doc.Type, "type casing is normalized")
	assert.Contains(t, doc.InlineScript, "HELLO")
	assert.Equal(t, "Bypass", doc.ExecutionPolicy)
	assert.Equal(t, `C:\jobs`, doc.WorkingDirectory)
	require.Len(t, doc.Parameters, 1)
	assert.Equal(t, Parameter{Name: "Env", Value: "prod"}, doc.Parameters[0])

	require.NotNil(t, doc.Schedule)
	assert.Equal(t, ScheduleTypeCron, doc.Schedule.Type)
	assert.Equal(t, "0 0 3 * * 1", doc.Schedule.CronExpr())
	assert.Equal(t, "America/Chicago", doc.Schedule.Timezone)

	assert.Equal(t, 120, doc.TimeoutSeconds())
	assert.Equal(t, 2, doc.MaxRetries)
	assert.Equal(t, 30, doc.RetryDelay)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse("name: [unclosed")
	require.Error(t, err)

	_, err = Parse("\tname: tabs are not yaml")
	require.Error(t, err)
}

func TestParse_EmptyDocument(t *testing.T) {
	doc, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, model.JobType(""), doc.Type)
	assert.Equal(t, model.JobTypeUnknown, doc.Summarize().JobType)
}

func TestParse_UnknownKeysPreserved(t *testing.T) {
	doc, err := Parse("name: x\ntype: sql\nquery: SELECT 1\nowner_team: data-eng\n")
	require.NoError(t, err)
	assert.Equal(t, "data-eng", doc.Extra["owner_team"])

	rendered, err := doc.Render()
	require.NoError(t, err)
	assert.Contains(t, rendered, "owner_team: data-eng")
}

func TestRender_Deterministic(t *testing.T) {
	doc, err := Parse(powershellYAML)
	require.NoError(t, err)

	first, err := doc.Render()
	require.NoError(t, err)

	reparsed, err := Parse(first)
	require.NoError(t, err)
	second, err := reparsed.Render()
	require.NoError(t, err)

	assert.Equal(t, first, second, "render/parse/render must be a fixed point")
	assert.Less(t, strings.Index(first, "name:"), strings.Index(first, "type:"),
		"key order is fixed by the document layout")
}

func TestRender_FlatFieldRebuild(t *testing.T) {
	doc, err := Parse(powershellYAML)
	require.NoError(t, err)

	doc.Timeout = 600
	doc.Schedule.Expression = "0 30 6 * * *"

	rendered, err := doc.Render()
	require.NoError(t, err)

	updated, err := Parse(rendered)
	require.NoError(t, err)
	assert.Equal(t, 600, updated.Timeout)
	assert.Equal(t, "0 30 6 * * *", updated.Schedule.CronExpr())
	assert.Equal(t, "America/Chicago", updated.Schedule.Timezone, "untouched fields survive")
}

func TestSchedule_CronExpr_AliasPrecedence(t *testing.T) {
	s := &Schedule{Cron: "0 * * * * *"}
	assert.Equal(t, "0 * * * * *", s.CronExpr())

	s.Expression = "30 * * * * *"
	assert.Equal(t, "30 * * * * *", s.CronExpr(), "expression wins over cron")

	var nilSched *Schedule
	assert.Equal(t, "", nilSched.CronExpr())
}

func TestSchedule_Location(t *testing.T) {
	loc, err := (&Schedule{Timezone: "America/Chicago"}).Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Chicago", loc.String())

	loc, err = (&Schedule{}).Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = (&Schedule{Timezone: "Mars/Olympus_Mons"}).Location()
	assert.Error(t, err)
}

func TestInterval_Duration(t *testing.T) {
	i := Interval{Days: 1, Hours: 2, Minutes: 3, Seconds: 4}
	assert.Equal(t, 26*time.Hour+3*time.Minute+4*time.Second, i.Duration())
	assert.Equal(t, time.Duration(0), Interval{}.Duration())
}

func TestDocument_Defaults(t *testing.T) {
	doc := &Document{}
	assert.Equal(t, DefaultTimeoutSeconds, doc.TimeoutSeconds())
	assert.Equal(t, DefaultMaxRows, doc.EffectiveMaxRows())
	assert.Equal(t, DefaultExecutionPolicy, doc.EffectiveExecutionPolicy())
	assert.Equal(t, model.DefaultAgentPool, doc.Pool())

	doc.Timeout = 45
	doc.MaxRows = 10
	doc.ExecutionPolicy = "Bypass"
	doc.AgentPool = "windows-dc1"
	assert.Equal(t, 45, doc.TimeoutSeconds())
	assert.Equal(t, 10, doc.EffectiveMaxRows())
	assert.Equal(t, "Bypass", doc.EffectiveExecutionPolicy())
	assert.Equal(t, "windows-dc1", doc.Pool())
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want Summary
	}{
		{
			name: "cron",
			yaml: "type: powershell\ninlineScript: x\nschedule: {type: cron, expression: '0 0 3 * * 1', timezone: UTC}\n",
			want: Summary{
				JobType:         model.JobTypePowerShell,
				ScheduleType:    "cron",
				ScheduleSummary: "0 0 3 * * 1",
				Timezone:        "UTC",
				TimeoutSeconds:  300,
			},
		},
		{
			name: "interval",
			yaml: "type: sql\nquery: SELECT 1\nschedule: {type: interval, interval: {minutes: 90}}\ntimeout: 60\n",
			want: Summary{
				JobType:         model.JobTypeSQL,
				ScheduleType:    "interval",
				ScheduleSummary: "every 1h30m0s",
				TimeoutSeconds:  60,
			},
		},
		{
			name: "date",
			yaml: "type: agent_job\nsteps: [{action: cmd, command: dir}]\nschedule: {type: date, run_date: '2026-12-24T06:00:00Z'}\nmax_retries: 1\n",
			want: Summary{
				JobType:         model.JobTypeAgent,
				ScheduleType:    "date",
				ScheduleSummary: "once at 2026-12-24T06:00:00Z",
				TimeoutSeconds:  300,
				MaxRetries:      1,
			},
		},
		{
			name: "unschedulable manual job",
			yaml: "type: powershell\ninlineScript: x\n",
			want: Summary{JobType: model.JobTypePowerShell, TimeoutSeconds: 300},
		},
		{
			name: "unrecognized type flattens to unknown",
			yaml: "type: bash\n",
			want: Summary{JobType: model.JobTypeUnknown, TimeoutSeconds: 300},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse(tt.yaml)
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.Summarize())
		})
	}
}

func TestUnknownSummary(t *testing.T) {
	s := UnknownSummary()
	assert.Equal(t, model.JobTypeUnknown, s.JobType)
	assert.Equal(t, DefaultTimeoutSeconds, s.TimeoutSeconds)
}
