package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobmill/jobmill/internal/domain/model"
	"github.com/jobmill/jobmill/internal/domain/scheduler"
)

func planJob(id, yaml string) *model.Job {
	return &model.Job{ID: id, Name: "job-" + id, YAML: yaml}
}

func TestBuildEntryCron(t *testing.T) {
	t.Parallel()

	job := planJob("j1", `
type: powershell
inlineScript: Write-Output hi
schedule:
  type: cron
  expression: "0 0 12 * * *"
`)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	entry, err := scheduler.BuildEntry(job, now)

	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "j1", entry.JobID)
	assert.Equal(t, "job-j1", entry.JobName)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), entry.FireAt.UTC())
}

func TestBuildEntryInterval(t *testing.T) {
	t.Parallel()

	job := planJob("j2", `
type: sql
query: SELECT 1
connection: local
schedule:
  type: interval
  interval:
    seconds: 30
`)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	entry, err := scheduler.BuildEntry(job, now)

	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, now.Add(30*time.Second), entry.FireAt.UTC())
}

func TestBuildEntryFutureDate(t *testing.T) {
	t.Parallel()

	job := planJob("j3", `
type: powershell
inlineScript: Write-Output hi
schedule:
  type: date
  run_date: "2026-06-01T08:00:00Z"
`)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	entry, err := scheduler.BuildEntry(job, now)

	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC), entry.FireAt.UTC())
}

func TestBuildEntryPastDateNotScheduled(t *testing.T) {
	t.Parallel()

	job := planJob("j4", `
type: powershell
inlineScript: Write-Output hi
schedule:
  type: date
  run_date: "2020-01-01T00:00:00Z"
`)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	entry, err := scheduler.BuildEntry(job, now)

	assert.ErrorIs(t, err, scheduler.ErrNotScheduled)
	assert.Nil(t, entry)
}

func TestBuildEntryNoScheduleBlock(t *testing.T) {
	t.Parallel()

	job := planJob("j5", `
type: powershell
inlineScript: Write-Output hi
`)

	entry, err := scheduler.BuildEntry(job, time.Now())

	assert.ErrorIs(t, err, scheduler.ErrNotScheduled)
	assert.Nil(t, entry)
}

func TestBuildEntryMalformedYAML(t *testing.T) {
	t.Parallel()

	job := planJob("j6", "type: [powershell")

	entry, err := scheduler.BuildEntry(job, time.Now())

	require.Error(t, err)
	assert.NotErrorIs(t, err, scheduler.ErrNotScheduled)
	assert.Nil(t, entry)
}

func TestBuildEntryBadCronExpression(t *testing.T) {
	t.Parallel()

	job := planJob("j7", `
type: powershell
inlineScript: Write-Output hi
schedule:
  type: cron
  expression: "not a cron"
`)

	entry, err := scheduler.BuildEntry(job, time.Now())

	require.Error(t, err)
	assert.NotErrorIs(t, err, scheduler.ErrNotScheduled)
	assert.Nil(t, entry)
}

func TestRescheduleAdvancesInterval(t *testing.T) {
	t.Parallel()

	job := planJob("j8", `
type: sql
query: SELECT 1
connection: local
schedule:
  type: interval
  interval:
    minutes: 5
`)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entry, err := scheduler.BuildEntry(job, now)
	require.NoError(t, err)

	fired := entry.FireAt
	ok := entry.Reschedule(fired)

	require.True(t, ok)
	assert.Equal(t, fired.Add(5*time.Minute), entry.FireAt)
}

func TestRescheduleExhaustsOnceDate(t *testing.T) {
	t.Parallel()

	job := planJob("j9", `
type: powershell
inlineScript: Write-Output hi
schedule:
  type: date
  run_date: "2026-06-01T08:00:00Z"
`)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entry, err := scheduler.BuildEntry(job, now)
	require.NoError(t, err)

	ok := entry.Reschedule(entry.FireAt)

	assert.False(t, ok)
}

func TestFireQueueOrdersByFireTime(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	q := scheduler.NewFireQueue()
	q.Push(&scheduler.Entry{JobID: "c", FireAt: base.Add(3 * time.Minute)})
	q.Push(&scheduler.Entry{JobID: "a", FireAt: base.Add(1 * time.Minute)})
	q.Push(&scheduler.Entry{JobID: "b", FireAt: base.Add(2 * time.Minute)})

	require.Equal(t, 3, q.Len())
	assert.Equal(t, "a", q.Pop().JobID)
	assert.Equal(t, "b", q.Pop().JobID)
	assert.Equal(t, "c", q.Pop().JobID)
	assert.Equal(t, 0, q.Len())
}

func TestFireQueueTieBreaksOnJobID(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	q := scheduler.NewFireQueue()
	q.Push(&scheduler.Entry{JobID: "zeta", FireAt: at})
	q.Push(&scheduler.Entry{JobID: "alpha", FireAt: at})
	q.Push(&scheduler.Entry{JobID: "mid", FireAt: at})

	assert.Equal(t, "alpha", q.Pop().JobID)
	assert.Equal(t, "mid", q.Pop().JobID)
	assert.Equal(t, "zeta", q.Pop().JobID)
}

func TestFireQueuePeekDoesNotRemove(t *testing.T) {
	t.Parallel()

	q := scheduler.NewFireQueue()
	q.Push(&scheduler.Entry{JobID: "only", FireAt: time.Now()})

	assert.Equal(t, "only", q.Peek().JobID)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, "only", q.Pop().JobID)
}

func TestFireQueueEmpty(t *testing.T) {
	t.Parallel()

	q := scheduler.NewFireQueue()

	assert.Nil(t, q.Peek())
	assert.Nil(t, q.Pop())
}
