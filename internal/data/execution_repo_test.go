package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/domain/model"
	apperrors "github.com/jobmill/jobmill/internal/errors"
	"github.com/jobmill/jobmill/internal/testutil"
)

func startTestExecution(t *testing.T, repo *ExecutionRepo, jobID, jobName string) *model.Execution {
	t.Helper()
	ex, err := repo.Start(context.Background(), model.StartExecutionParams{
		JobID:      jobID,
		JobName:    jobName,
		Mode:       model.ExecutionModeManual,
		ExecutedBy: "testutil",
		MaxRetries: 2,
	})
	require.NoError(t, err)
	return ex
}

func TestExecutionRepo_Start_Finish(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := NewExecutionRepoWithTimeProvider(db, tp)

		jobID := uuid.NewString()
		ex, err := repo.Start(ctx, model.StartExecutionParams{
			JobID:      jobID,
			JobName:    "nightly-report",
			Mode:       model.ExecutionModeScheduled,
			ExecutedBy: "scheduler",
			Timezone:   "America/Chicago",
			MaxRetries: 3,
			Metadata:   json.RawMessage(`{"trigger":"cron"}`),
		})
		require.NoError(t, err)
		require.NotEmpty(t, ex.ID)
		assert.Equal(t, model.ExecutionStatusRunning, ex.Status)
		assert.Equal(t, jobID, ex.JobID)
		assert.Equal(t, "nightly-report", ex.JobName)
		assert.Equal(t, model.ExecutionModeScheduled, ex.ExecutionMode)
		assert.Equal(t, "America/Chicago", ex.Timezone)
		assert.Equal(t, 0, ex.RetryCount)
		assert.Equal(t, 3, ex.MaxRetries)
		assert.Nil(t, ex.EndTime)
		assert.Nil(t, ex.DurationSeconds)

		// terminal write 90 seconds later
		tp.AddTime(90 * time.Second)
		rc := 0
		fin, err := repo.Finish(ctx, model.FinishExecutionParams{
			ExecutionID: ex.ID,
			Status:      model.ExecutionStatusSuccess,
			OutputLog:   "HELLO",
			ReturnCode:  &rc,
			Metadata:    json.RawMessage(`{"rows":12}`),
		})
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionStatusSuccess, fin.Status)
		require.NotNil(t, fin.EndTime)
		require.NotNil(t, fin.DurationSeconds)
		assert.InDelta(t, 90.0, *fin.DurationSeconds, 0.001)
		assert.Equal(t, "HELLO", fin.OutputLog)
		require.NotNil(t, fin.ReturnCode)
		assert.Equal(t, 0, *fin.ReturnCode)

		// metadata merged, not replaced
		var meta map[string]any
		require.NoError(t, json.Unmarshal(fin.Metadata, &meta))
		assert.Equal(t, "cron", meta["trigger"])
		assert.EqualValues(t, 12, meta["rows"])
	})
}

func TestExecutionRepo_Finish_AlreadyTerminal(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewExecutionRepo(db)

		ex := startTestExecution(t, repo, uuid.NewString(), "one-shot")

		first, err := repo.Finish(ctx, model.FinishExecutionParams{
			ExecutionID:  ex.ID,
			Status:       model.ExecutionStatusFailed,
			ErrorMessage: "boom",
		})
		require.NoError(t, err)

		// the second terminal write must not land
		_, err = repo.Finish(ctx, model.FinishExecutionParams{
			ExecutionID: ex.ID,
			Status:      model.ExecutionStatusSuccess,
			OutputLog:   "should never be stored",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))

		got, err := repo.GetByID(ctx, ex.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionStatusFailed, got.Status)
		assert.Equal(t, "boom", got.ErrorMessage)
		assert.Empty(t, got.OutputLog)
		require.NotNil(t, got.EndTime)
		assert.Equal(t, first.EndTime.UTC(), got.EndTime.UTC())
	})
}

func TestExecutionRepo_Finish_Errors(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewExecutionRepo(db)

		// unknown execution
		_, err := repo.Finish(ctx, model.FinishExecutionParams{
			ExecutionID: uuid.NewString(),
			Status:      model.ExecutionStatusSuccess,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))

		// non-terminal status
		ex := startTestExecution(t, repo, uuid.NewString(), "still-running")
		_, err = repo.Finish(ctx, model.FinishExecutionParams{
			ExecutionID: ex.ID,
			Status:      model.ExecutionStatusRunning,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestExecutionRepo_List_Filters(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := NewExecutionRepoWithTimeProvider(db, tp)

		jobA := uuid.NewString()
		jobB := uuid.NewString()

		older := startTestExecution(t, repo, jobA, "job-a")
		tp.AddTime(time.Minute)
		newer := startTestExecution(t, repo, jobA, "job-a")
		tp.AddTime(time.Minute)
		other := startTestExecution(t, repo, jobB, "job-b")

		_, err := repo.Finish(ctx, model.FinishExecutionParams{
			ExecutionID: older.ID,
			Status:      model.ExecutionStatusSuccess,
		})
		require.NoError(t, err)

		// newest first, scoped to one job
		lst, err := repo.List(ctx, &model.ExecutionListOptions{JobID: jobA})
		require.NoError(t, err)
		require.Len(t, lst, 2)
		assert.Equal(t, newer.ID, lst[0].ID)
		assert.Equal(t, older.ID, lst[1].ID)

		// status filter
		lst, err = repo.List(ctx, &model.ExecutionListOptions{JobID: jobA, Status: model.ExecutionStatusSuccess})
		require.NoError(t, err)
		require.Len(t, lst, 1)
		assert.Equal(t, older.ID, lst[0].ID)

		// limit
		lst, err = repo.List(ctx, &model.ExecutionListOptions{Limit: 1})
		require.NoError(t, err)
		require.Len(t, lst, 1)
		assert.Equal(t, other.ID, lst[0].ID)

		// invalid status filter
		_, err = repo.List(ctx, &model.ExecutionListOptions{Status: model.ExecutionStatus("bogus")})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestExecutionRepo_CountLive(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewExecutionRepo(db)

		jobID := uuid.NewString()
		n, err := repo.CountLive(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		ex := startTestExecution(t, repo, jobID, "guarded")
		n, err = repo.CountLive(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = repo.Finish(ctx, model.FinishExecutionParams{
			ExecutionID: ex.ID,
			Status:      model.ExecutionStatusCancelled,
		})
		require.NoError(t, err)

		n, err = repo.CountLive(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestExecutionRepo_Transition(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewExecutionRepo(db)

		ex := startTestExecution(t, repo, uuid.NewString(), "agent-handoff")

		// running -> queued with a metadata patch
		moved, err := repo.Transition(ctx, core.TransitionExecutionParams{
			ExecutionID:   ex.ID,
			From:          model.ExecutionStatusRunning,
			To:            model.ExecutionStatusQueued,
			MetadataPatch: json.RawMessage(`{"pool":"default"}`),
		})
		require.NoError(t, err)
		assert.True(t, moved)

		got, err := repo.GetByID(ctx, ex.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionStatusQueued, got.Status)
		var meta map[string]any
		require.NoError(t, json.Unmarshal(got.Metadata, &meta))
		assert.Equal(t, "default", meta["pool"])

		// the same CAS loses once the row moved on
		moved, err = repo.Transition(ctx, core.TransitionExecutionParams{
			ExecutionID: ex.ID,
			From:        model.ExecutionStatusRunning,
			To:          model.ExecutionStatusQueued,
		})
		require.NoError(t, err)
		assert.False(t, moved)

		// queued -> assigned
		moved, err = repo.Transition(ctx, core.TransitionExecutionParams{
			ExecutionID: ex.ID,
			From:        model.ExecutionStatusQueued,
			To:          model.ExecutionStatusAssigned,
		})
		require.NoError(t, err)
		assert.True(t, moved)

		// state machine violations are rejected before touching the row
		_, err = repo.Transition(ctx, core.TransitionExecutionParams{
			ExecutionID: ex.ID,
			From:        model.ExecutionStatusAssigned,
			To:          model.ExecutionStatusRunning,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))

		// terminal moves must go through Finish
		_, err = repo.Transition(ctx, core.TransitionExecutionParams{
			ExecutionID: ex.ID,
			From:        model.ExecutionStatusAssigned,
			To:          model.ExecutionStatusSuccess,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestExecutionRepo_FindQueued_OldestFirst(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := NewExecutionRepoWithTimeProvider(db, tp)

		queue := func(name string) *model.Execution {
			ex := startTestExecution(t, repo, uuid.NewString(), name)
			moved, err := repo.Transition(ctx, core.TransitionExecutionParams{
				ExecutionID: ex.ID,
				From:        model.ExecutionStatusRunning,
				To:          model.ExecutionStatusQueued,
			})
			require.NoError(t, err)
			require.True(t, moved)
			return ex
		}

		first := queue(fmt.Sprintf("q1-%d", time.Now().UnixNano()))
		tp.AddTime(time.Minute)
		second := queue(fmt.Sprintf("q2-%d", time.Now().UnixNano()))
		tp.AddTime(time.Minute)
		startTestExecution(t, repo, uuid.NewString(), "not-queued")

		got, err := repo.FindQueued(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, first.ID, got[0].ID)
		assert.Equal(t, second.ID, got[1].ID)

		got, err = repo.FindQueued(ctx, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, first.ID, got[0].ID)
	})
}
