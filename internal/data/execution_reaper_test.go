package data

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/domain/model"
	"github.com/jobmill/jobmill/internal/testutil"
)

// backdateExecution rewinds the stored timestamps of a history row.
func backdateExecution(t *testing.T, db *sql.DB, executionID string, age time.Duration) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		UPDATE job_execution_history_v2
		SET start_time = start_time - $1::interval,
			end_time = end_time - $1::interval
		WHERE execution_id = $2
	`, fmt.Sprintf("%d seconds", int(age.Seconds())), executionID)
	require.NoError(t, err)
}

func finishTestExecution(t *testing.T, repo *ExecutionRepo, executionID string, status model.ExecutionStatus) {
	t.Helper()
	_, err := repo.Finish(context.Background(), model.FinishExecutionParams{
		ExecutionID: executionID,
		Status:      status,
	})
	require.NoError(t, err)
}

func TestExecutionRepo_FailStaleRunning(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	t.Run("fails stale running executions", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewExecutionRepo(db)
			ctx := context.Background()

			stale := startTestExecution(t, repo, uuid.NewString(), "stale")
			backdateExecution(t, db, stale.ID, 2*time.Hour)

			fresh := startTestExecution(t, repo, uuid.NewString(), "fresh")

			count, err := repo.FailStaleRunning(ctx, time.Hour, 1000)
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)

			staleAfter, err := repo.GetByID(ctx, stale.ID)
			require.NoError(t, err)
			assert.Equal(t, model.ExecutionStatusFailed, staleAfter.Status)
			assert.Equal(t, "reaped: stale running execution", staleAfter.ErrorMessage)
			require.NotNil(t, staleAfter.EndTime)
			require.NotNil(t, staleAfter.DurationSeconds)
			assert.InDelta(t, (2 * time.Hour).Seconds(), *staleAfter.DurationSeconds, 5.0)

			freshAfter, err := repo.GetByID(ctx, fresh.ID)
			require.NoError(t, err)
			assert.Equal(t, model.ExecutionStatusRunning, freshAfter.Status)
		})
	})

	t.Run("leaves terminal rows alone", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewExecutionRepo(db)
			ctx := context.Background()

			done := startTestExecution(t, repo, uuid.NewString(), "done")
			finishTestExecution(t, repo, done.ID, model.ExecutionStatusSuccess)
			backdateExecution(t, db, done.ID, 48*time.Hour)

			count, err := repo.FailStaleRunning(ctx, time.Hour, 1000)
			require.NoError(t, err)
			assert.Equal(t, int64(0), count)

			after, err := repo.GetByID(ctx, done.ID)
			require.NoError(t, err)
			assert.Equal(t, model.ExecutionStatusSuccess, after.Status)
		})
	})
}

func TestExecutionRepo_DeleteOldExecutions(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	t.Run("deletes old terminal rows only", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewExecutionRepo(db)
			ctx := context.Background()

			old := startTestExecution(t, repo, uuid.NewString(), "old-done")
			finishTestExecution(t, repo, old.ID, model.ExecutionStatusSuccess)
			backdateExecution(t, db, old.ID, 100*24*time.Hour)

			recent := startTestExecution(t, repo, uuid.NewString(), "recent-done")
			finishTestExecution(t, repo, recent.ID, model.ExecutionStatusFailed)

			// an abandoned running row is old but not terminal
			abandoned := startTestExecution(t, repo, uuid.NewString(), "abandoned")
			backdateExecution(t, db, abandoned.ID, 100*24*time.Hour)

			count, err := repo.DeleteOldExecutions(ctx, core.DeleteOldExecutionsParams{
				MaxAge:    90 * 24 * time.Hour,
				BatchSize: 1000,
			})
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)

			_, err = repo.GetByID(ctx, old.ID)
			require.Error(t, err)

			_, err = repo.GetByID(ctx, recent.ID)
			require.NoError(t, err)

			_, err = repo.GetByID(ctx, abandoned.ID)
			require.NoError(t, err)
		})
	})

	t.Run("respects batch size", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewExecutionRepo(db)
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				ex := startTestExecution(t, repo, uuid.NewString(), fmt.Sprintf("batch-%d", i))
				finishTestExecution(t, repo, ex.ID, model.ExecutionStatusSuccess)
				backdateExecution(t, db, ex.ID, 100*24*time.Hour)
			}

			count, err := repo.DeleteOldExecutions(ctx, core.DeleteOldExecutionsParams{
				MaxAge:    90 * 24 * time.Hour,
				BatchSize: 2,
			})
			require.NoError(t, err)
			assert.Equal(t, int64(2), count)
		})
	})

	t.Run("validates params", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewExecutionRepo(db)
			ctx := context.Background()

			_, err := repo.DeleteOldExecutions(ctx, core.DeleteOldExecutionsParams{MaxAge: time.Hour})
			require.Error(t, err)

			_, err = repo.DeleteOldExecutions(ctx, core.DeleteOldExecutionsParams{BatchSize: 10})
			require.Error(t, err)
		})
	})
}

func TestExecutionRepo_TrimJobHistory(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	t.Run("keeps the newest rows per job", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			ctx := context.Background()
			tp := NewFixedTimeProvider(testutil.TestTime())
			repo := NewExecutionRepoWithTimeProvider(db, tp)

			jobID := uuid.NewString()
			ids := make([]string, 0, 5)
			for i := 0; i < 5; i++ {
				ex := startTestExecution(t, repo, jobID, "trimmed")
				finishTestExecution(t, repo, ex.ID, model.ExecutionStatusSuccess)
				ids = append(ids, ex.ID)
				tp.AddTime(time.Minute)
			}

			// a live row must neither be trimmed nor consume a keep slot
			live := startTestExecution(t, repo, jobID, "trimmed")

			count, err := repo.TrimJobHistory(ctx, core.TrimJobHistoryParams{
				KeepPerJob: 2,
				BatchSize:  1000,
			})
			require.NoError(t, err)
			assert.Equal(t, int64(3), count)

			remaining, err := repo.List(ctx, &model.ExecutionListOptions{JobID: jobID})
			require.NoError(t, err)
			require.Len(t, remaining, 3)
			assert.Equal(t, live.ID, remaining[0].ID)
			assert.Equal(t, ids[4], remaining[1].ID)
			assert.Equal(t, ids[3], remaining[2].ID)
		})
	})

	t.Run("zero keep means unlimited", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewExecutionRepo(db)
			ctx := context.Background()

			ex := startTestExecution(t, repo, uuid.NewString(), "kept")
			finishTestExecution(t, repo, ex.ID, model.ExecutionStatusSuccess)

			count, err := repo.TrimJobHistory(ctx, core.TrimJobHistoryParams{
				KeepPerJob: 0,
				BatchSize:  1000,
			})
			require.NoError(t, err)
			assert.Equal(t, int64(0), count)

			_, err = repo.GetByID(ctx, ex.ID)
			require.NoError(t, err)
		})
	})

	t.Run("validates params", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewExecutionRepo(db)
			ctx := context.Background()

			_, err := repo.TrimJobHistory(ctx, core.TrimJobHistoryParams{KeepPerJob: -1, BatchSize: 10})
			require.Error(t, err)

			_, err = repo.TrimJobHistory(ctx, core.TrimJobHistoryParams{KeepPerJob: 2})
			require.Error(t, err)
		})
	})
}
