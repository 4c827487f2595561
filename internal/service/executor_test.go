package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/data"
	"github.com/jobmill/jobmill/internal/domain/model"
	apperrors "github.com/jobmill/jobmill/internal/errors"
	"github.com/jobmill/jobmill/internal/mocks"
	"github.com/jobmill/jobmill/internal/observability/notify"
)

var execTestNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

const inlineShellYAML = `
type: powershell
inlineScript: Write-Output "HELLO"
timeout: 60
`

const sqlProbeYAML = `
type: sql
query: SELECT 1
connection: local
`

type executorDeps struct {
	jobs    *mocks.MockJobConfigRepository
	history *mocks.MockExecutionRepository
	backend *mocks.MockBackend
}

// newExecutorService wires an executor over mock collaborators with a single
// PowerShell backend registered.
func newExecutorService(t *testing.T) (executorDeps, *ExecutorService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	deps := executorDeps{
		jobs:    mocks.NewMockJobConfigRepository(ctrl),
		history: mocks.NewMockExecutionRepository(ctrl),
		backend: mocks.NewMockBackend(ctrl),
	}
	deps.backend.EXPECT().Type().Return(model.JobTypePowerShell).AnyTimes()

	svc, err := NewExecutorService(ExecutorServiceOptions{
		Jobs:         deps.jobs,
		History:      deps.history,
		Backends:     core.NewBackendRegistry(deps.backend),
		TimeProvider: data.NewFixedTimeProvider(execTestNow),
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return deps, svc
}

func testJob(id, yaml string) *model.Job {
	return &model.Job{
		ID:      id,
		Name:    "nightly-refresh",
		YAML:    yaml,
		Enabled: true,
		Version: 1,
	}
}

func TestExecuteJobRequiresJobID(t *testing.T) {
	t.Parallel()
	_, svc := newExecutorService(t)

	_, err := svc.ExecuteJob(context.Background(), core.ExecuteJobRequest{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestExecuteJobInlineSuccess(t *testing.T) {
	t.Parallel()
	deps, svc := newExecutorService(t)
	ctx := context.Background()
	rc := 0

	deps.jobs.EXPECT().GetByID(ctx, "job-1").Return(testJob("job-1", inlineShellYAML), nil).Times(1)
	deps.history.EXPECT().CountLive(ctx, "job-1").Return(0, nil).Times(1)
	deps.history.EXPECT().
		Start(ctx, model.StartExecutionParams{
			JobID:      "job-1",
			JobName:    "nightly-refresh",
			Mode:       model.ExecutionModeManual,
			ExecutedBy: "alice",
			Timezone:   "UTC",
		}).
		Return(&model.Execution{ID: "exec-1", JobID: "job-1", Status: model.ExecutionStatusRunning}, nil).
		Times(1)
	deps.backend.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *core.BackendRequest) (*core.BackendResult, error) {
			assert.Equal(t, "exec-1", req.ExecutionID)
			assert.Equal(t, execTestNow.Add(60*time.Second), req.Deadline)
			return &core.BackendResult{
				Success:     true,
				Output:      "HELLO",
				ReturnCode:  &rc,
				TerminalNow: true,
			}, nil
		}).
		Times(1)
	deps.history.EXPECT().
		Finish(ctx, model.FinishExecutionParams{
			ExecutionID: "exec-1",
			Status:      model.ExecutionStatusSuccess,
			OutputLog:   "HELLO",
			ReturnCode:  &rc,
		}).
		Return(&model.Execution{ID: "exec-1", Status: model.ExecutionStatusSuccess}, nil).
		Times(1)

	outcome, err := svc.ExecuteJob(ctx, core.ExecuteJobRequest{JobID: "job-1", Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusSuccess, outcome.Status)
	assert.Equal(t, "HELLO", outcome.Output)
}

func TestExecuteJobScheduledSkipsDisabledJob(t *testing.T) {
	t.Parallel()
	deps, svc := newExecutorService(t)
	ctx := context.Background()

	job := testJob("job-1", inlineShellYAML)
	job.Enabled = false
	deps.jobs.EXPECT().GetByID(ctx, "job-1").Return(job, nil).Times(1)

	outcome, err := svc.ExecuteJob(ctx, core.ExecuteJobRequest{
		JobID:       "job-1",
		Mode:        model.ExecutionModeScheduled,
		ScheduledAt: execTestNow,
	})
	require.NoError(t, err)
	assert.Nil(t, outcome)
}

func TestExecuteJobManualOnDisabledJobIsForbidden(t *testing.T) {
	t.Parallel()
	deps, svc := newExecutorService(t)
	ctx := context.Background()

	job := testJob("job-1", inlineShellYAML)
	job.Enabled = false
	deps.jobs.EXPECT().GetByID(ctx, "job-1").Return(job, nil).Times(1)

	_, err := svc.ExecuteJob(ctx, core.ExecuteJobRequest{JobID: "job-1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsForbidden(err))
}

func TestExecuteJobScheduledDropsOnLiveExecution(t *testing.T) {
	t.Parallel()
	deps, svc := newExecutorService(t)
	ctx := context.Background()

	deps.jobs.EXPECT().GetByID(ctx, "job-1").Return(testJob("job-1", inlineShellYAML), nil).Times(1)
	deps.history.EXPECT().CountLive(ctx, "job-1").Return(1, nil).Times(1)

	outcome, err := svc.ExecuteJob(ctx, core.ExecuteJobRequest{
		JobID:       "job-1",
		Mode:        model.ExecutionModeScheduled,
		ScheduledAt: execTestNow,
	})
	require.NoError(t, err)
	assert.Nil(t, outcome)
}

func TestExecuteJobManualConflictsOnLiveExecution(t *testing.T) {
	t.Parallel()
	deps, svc := newExecutorService(t)
	ctx := context.Background()

	deps.jobs.EXPECT().GetByID(ctx, "job-1").Return(testJob("job-1", inlineShellYAML), nil).Times(1)
	deps.history.EXPECT().CountLive(ctx, "job-1").Return(1, nil).Times(1)

	_, err := svc.ExecuteJob(ctx, core.ExecuteJobRequest{JobID: "job-1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestExecuteJobForcedRunProceedsPastLiveExecution(t *testing.T) {
	t.Parallel()
	deps, svc := newExecutorService(t)
	ctx := context.Background()

	deps.jobs.EXPECT().GetByID(ctx, "job-1").Return(testJob("job-1", inlineShellYAML), nil).Times(1)
	deps.history.EXPECT().CountLive(ctx, "job-1").Return(1, nil).Times(1)
	deps.history.EXPECT().
		Start(ctx, gomock.Any()).
		Return(&model.Execution{ID: "exec-2"}, nil).
		Times(1)
	deps.backend.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		Return(&core.BackendResult{Success: true, TerminalNow: true}, nil).
		Times(1)
	deps.history.EXPECT().
		Finish(ctx, gomock.Any()).
		Return(&model.Execution{ID: "exec-2", Status: model.ExecutionStatusSuccess}, nil).
		Times(1)

	outcome, err := svc.ExecuteJob(ctx, core.ExecuteJobRequest{JobID: "job-1", Force: true})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusSuccess, outcome.Status)
}

func TestExecuteJobDuplicateScheduledFireSuppressed(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	jobs := mocks.NewMockJobConfigRepository(ctrl)
	history := mocks.NewMockExecutionRepository(ctrl)
	cache := core.NewMockCacheRepository(ctrl)

	svc, err := NewExecutorService(ExecutorServiceOptions{
		Jobs:         jobs,
		History:      history,
		Backends:     core.NewBackendRegistry(),
		FireGuard:    core.NewFireGuard(core.FireGuardOptions{Cache: cache}),
		TimeProvider: data.NewFixedTimeProvider(execTestNow),
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	ctx := context.Background()
	jobs.EXPECT().GetByID(ctx, "job-1").Return(testJob("job-1", inlineShellYAML), nil).Times(1)
	history.EXPECT().CountLive(ctx, "job-1").Return(0, nil).Times(1)
	// Another replica already owns this (job, instant) fire.
	cache.EXPECT().
		SetIfNotExists(ctx, gomock.Any(), gomock.Any(), gomock.Any()).
		Return(false, nil).
		Times(1)

	outcome, err := svc.ExecuteJob(ctx, core.ExecuteJobRequest{
		JobID:       "job-1",
		Mode:        model.ExecutionModeScheduled,
		ScheduledAt: execTestNow,
	})
	require.NoError(t, err)
	assert.Nil(t, outcome)
}

func TestExecuteJobUnparseableConfigRecordsFailure(t *testing.T) {
	t.Parallel()
	deps, svc := newExecutorService(t)
	ctx := context.Background()

	deps.jobs.EXPECT().GetByID(ctx, "job-1").Return(testJob("job-1", "{{not yaml"), nil).Times(1)
	deps.history.EXPECT().CountLive(ctx, "job-1").Return(0, nil).Times(1)
	deps.history.EXPECT().
		Start(ctx, gomock.Any()).
		Return(&model.Execution{ID: "exec-1"}, nil).
		Times(1)
	deps.history.EXPECT().
		Finish(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, params model.FinishExecutionParams) (*model.Execution, error) {
			assert.Equal(t, model.ExecutionStatusFailed, params.Status)
			assert.Contains(t, params.ErrorMessage, "does not parse")
			return &model.Execution{ID: "exec-1", Status: params.Status}, nil
		}).
		Times(1)

	outcome, err := svc.ExecuteJob(ctx, core.ExecuteJobRequest{JobID: "job-1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsBackend(err))
	require.NotNil(t, outcome)
	assert.Equal(t, model.ExecutionStatusFailed, outcome.Status)
}

func TestExecuteJobUnregisteredTypeRecordsFailure(t *testing.T) {
	t.Parallel()
	deps, svc := newExecutorService(t)
	ctx := context.Background()

	// Only the PowerShell backend is registered in this executor.
	deps.jobs.EXPECT().GetByID(ctx, "job-1").Return(testJob("job-1", sqlProbeYAML), nil).Times(1)
	deps.history.EXPECT().CountLive(ctx, "job-1").Return(0, nil).Times(1)
	deps.history.EXPECT().
		Start(ctx, gomock.Any()).
		Return(&model.Execution{ID: "exec-1"}, nil).
		Times(1)
	deps.history.EXPECT().
		Finish(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, params model.FinishExecutionParams) (*model.Execution, error) {
			assert.Equal(t, model.ExecutionStatusFailed, params.Status)
			assert.Contains(t, params.ErrorMessage, "unknown job type")
			return &model.Execution{ID: "exec-1", Status: params.Status}, nil
		}).
		Times(1)

	outcome, err := svc.ExecuteJob(ctx, core.ExecuteJobRequest{JobID: "job-1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsBackend(err))
	assert.Equal(t, model.ExecutionStatusFailed, outcome.Status)
}

func TestExecuteJobBackendErrorFinishesFailed(t *testing.T) {
	t.Parallel()
	deps, svc := newExecutorService(t)
	ctx := context.Background()

	deps.jobs.EXPECT().GetByID(ctx, "job-1").Return(testJob("job-1", inlineShellYAML), nil).Times(1)
	deps.history.EXPECT().CountLive(ctx, "job-1").Return(0, nil).Times(1)
	deps.history.EXPECT().
		Start(ctx, gomock.Any()).
		Return(&model.Execution{ID: "exec-1"}, nil).
		Times(1)
	deps.backend.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		Return(nil, apperrors.Backendf("powershell.exe not found")).
		Times(1)
	deps.history.EXPECT().
		Finish(ctx, model.FinishExecutionParams{
			ExecutionID:  "exec-1",
			Status:       model.ExecutionStatusFailed,
			ErrorMessage: "powershell.exe not found",
		}).
		Return(&model.Execution{ID: "exec-1", Status: model.ExecutionStatusFailed}, nil).
		Times(1)

	outcome, err := svc.ExecuteJob(ctx, core.ExecuteJobRequest{JobID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusFailed, outcome.Status)
	assert.Equal(t, "powershell.exe not found", outcome.Error)
}

func TestExecuteJobTimeoutStatus(t *testing.T) {
	t.Parallel()
	deps, svc := newExecutorService(t)
	ctx := context.Background()

	deps.jobs.EXPECT().GetByID(ctx, "job-1").Return(testJob("job-1", inlineShellYAML), nil).Times(1)
	deps.history.EXPECT().CountLive(ctx, "job-1").Return(0, nil).Times(1)
	deps.history.EXPECT().
		Start(ctx, gomock.Any()).
		Return(&model.Execution{ID: "exec-1"}, nil).
		Times(1)
	deps.backend.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		Return(&core.BackendResult{
			TimedOut:    true,
			TerminalNow: true,
			Output:      "partial output",
			Error:       "killed after 60s",
		}, nil).
		Times(1)
	deps.history.EXPECT().
		Finish(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, params model.FinishExecutionParams) (*model.Execution, error) {
			assert.Equal(t, model.ExecutionStatusTimeout, params.Status)
			return &model.Execution{ID: "exec-1", Status: params.Status}, nil
		}).
		Times(1)

	outcome, err := svc.ExecuteJob(ctx, core.ExecuteJobRequest{JobID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusTimeout, outcome.Status)
}

func TestExecuteJobAgentHandoffLeavesRowOpen(t *testing.T) {
	t.Parallel()
	deps, svc := newExecutorService(t)
	ctx := context.Background()

	deps.jobs.EXPECT().GetByID(ctx, "job-1").Return(testJob("job-1", inlineShellYAML), nil).Times(1)
	deps.history.EXPECT().CountLive(ctx, "job-1").Return(0, nil).Times(1)
	deps.history.EXPECT().
		Start(ctx, gomock.Any()).
		Return(&model.Execution{ID: "exec-1"}, nil).
		Times(1)
	// A handoff result records no terminal write here.
	deps.backend.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		Return(&core.BackendResult{TerminalNow: false, Output: "queued for pool windows"}, nil).
		Times(1)

	outcome, err := svc.ExecuteJob(ctx, core.ExecuteJobRequest{JobID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusQueued, outcome.Status)
}

func TestCancelRunningKillsInlineExecution(t *testing.T) {
	t.Parallel()
	deps, svc := newExecutorService(t)
	ctx := context.Background()

	deps.jobs.EXPECT().GetByID(ctx, "job-1").Return(testJob("job-1", inlineShellYAML), nil).Times(1)
	deps.history.EXPECT().CountLive(ctx, "job-1").Return(0, nil).Times(1)
	deps.history.EXPECT().
		Start(ctx, gomock.Any()).
		Return(&model.Execution{ID: "exec-1"}, nil).
		Times(1)
	deps.backend.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(runCtx context.Context, req *core.BackendRequest) (*core.BackendResult, error) {
			// Simulate an in-flight process killed through CancelRunning.
			require.True(t, svc.CancelRunning(req.ExecutionID))
			<-runCtx.Done()
			return &core.BackendResult{
				Success:     false,
				Error:       "process killed",
				TerminalNow: true,
			}, nil
		}).
		Times(1)
	deps.history.EXPECT().
		Finish(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, params model.FinishExecutionParams) (*model.Execution, error) {
			assert.Equal(t, model.ExecutionStatusCancelled, params.Status)
			return &model.Execution{ID: "exec-1", Status: params.Status}, nil
		}).
		Times(1)

	outcome, err := svc.ExecuteJob(ctx, core.ExecuteJobRequest{JobID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCancelled, outcome.Status)
}

func TestCancelRunningUnknownExecution(t *testing.T) {
	t.Parallel()
	_, svc := newExecutorService(t)
	assert.False(t, svc.CancelRunning("exec-unknown"))
}

func TestExecuteJobFailureSchedulesRetry(t *testing.T) {
	t.Parallel()
	deps, svc := newExecutorService(t)
	ctx := context.Background()

	const retryYAML = `
type: powershell
inlineScript: Write-Output "HELLO"
max_retries: 1
retry_delay: 1
`
	job := testJob("job-1", retryYAML)
	secondAttempt := make(chan model.StartExecutionParams, 1)

	deps.jobs.EXPECT().GetByID(gomock.Any(), "job-1").Return(job, nil).Times(2)
	deps.history.EXPECT().CountLive(gomock.Any(), "job-1").Return(0, nil).Times(2)

	first := deps.history.EXPECT().
		Start(gomock.Any(), gomock.Any()).
		Return(&model.Execution{ID: "exec-1"}, nil)
	deps.history.EXPECT().
		Start(gomock.Any(), gomock.Any()).
		After(first).
		DoAndReturn(func(_ context.Context, params model.StartExecutionParams) (*model.Execution, error) {
			secondAttempt <- params
			return &model.Execution{ID: "exec-2"}, nil
		})

	deps.backend.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		Return(&core.BackendResult{Success: false, Error: "exit 1", TerminalNow: true}, nil).
		Times(1)
	deps.backend.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		Return(&core.BackendResult{Success: true, TerminalNow: true}, nil).
		Times(1)
	deps.history.EXPECT().
		Finish(gomock.Any(), gomock.Any()).
		Return(&model.Execution{}, nil).
		Times(2)

	outcome, err := svc.ExecuteJob(ctx, core.ExecuteJobRequest{JobID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusFailed, outcome.Status)

	select {
	case params := <-secondAttempt:
		assert.Equal(t, model.ExecutionModeRetry, params.Mode)
		assert.Equal(t, 1, params.RetryCount)
		assert.JSONEq(t, `{"retry_of":"exec-1"}`, string(params.Metadata))
	case <-time.After(5 * time.Second):
		t.Fatal("retry attempt never started")
	}
	svc.Close()
}

type captureNotifier struct {
	mu       sync.Mutex
	payloads []notify.JobFailurePayload
}

func (c *captureNotifier) NotifyJobFailure(_ context.Context, payload notify.JobFailurePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
}

func (c *captureNotifier) all() []notify.JobFailurePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.JobFailurePayload(nil), c.payloads...)
}

func TestExecuteJobFinalFailureNotifies(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	jobs := mocks.NewMockJobConfigRepository(ctrl)
	history := mocks.NewMockExecutionRepository(ctrl)
	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().Type().Return(model.JobTypePowerShell).AnyTimes()

	notifier := &captureNotifier{}
	svc, err := NewExecutorService(ExecutorServiceOptions{
		Jobs:            jobs,
		History:         history,
		Backends:        core.NewBackendRegistry(backend),
		FailureNotifier: notifier,
		TimeProvider:    data.NewFixedTimeProvider(execTestNow),
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	ctx := context.Background()
	jobs.EXPECT().GetByID(ctx, "job-1").Return(testJob("job-1", inlineShellYAML), nil).Times(1)
	history.EXPECT().CountLive(ctx, "job-1").Return(0, nil).Times(1)
	history.EXPECT().
		Start(ctx, gomock.Any()).
		Return(&model.Execution{ID: "exec-1", JobID: "job-1"}, nil).
		Times(1)
	backend.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		Return(&core.BackendResult{Success: false, Error: "exit 1", TerminalNow: true}, nil).
		Times(1)
	history.EXPECT().
		Finish(ctx, gomock.Any()).
		Return(&model.Execution{ID: "exec-1"}, nil).
		Times(1)

	outcome, err := svc.ExecuteJob(ctx, core.ExecuteJobRequest{JobID: "job-1"})
	require.NoError(t, err)
	require.Equal(t, model.ExecutionStatusFailed, outcome.Status)

	payloads := notifier.all()
	require.Len(t, payloads, 1)
	assert.Equal(t, "job-1", payloads[0].JobID)
	assert.Equal(t, "nightly-refresh", payloads[0].JobName)
	assert.Equal(t, "powershell", payloads[0].JobType)
	assert.Equal(t, "exec-1", payloads[0].ExecutionID)
	assert.Equal(t, "exit 1", payloads[0].Error)
}
