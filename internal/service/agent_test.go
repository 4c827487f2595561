package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/data"
	"github.com/jobmill/jobmill/internal/data/cryptoutil"
	"github.com/jobmill/jobmill/internal/domain/model"
	apperrors "github.com/jobmill/jobmill/internal/errors"
	"github.com/jobmill/jobmill/internal/mocks"
)

var (
	agentTestNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	agentTestKey = []byte("agent-service-test-key")
)

type agentDeps struct {
	agents  *mocks.MockAgentRepository
	history *mocks.MockExecutionRepository
}

func newAgentService(t *testing.T) (agentDeps, *AgentService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	deps := agentDeps{
		agents:  mocks.NewMockAgentRepository(ctrl),
		history: mocks.NewMockExecutionRepository(ctrl),
	}
	svc, err := NewAgentService(AgentServiceOptions{
		Agents:       deps.agents,
		History:      deps.history,
		TokenKey:     agentTestKey,
		Config:       &core.DispatchConfig{HeartbeatInterval: 30 * time.Second},
		TimeProvider: data.NewFixedTimeProvider(agentTestNow),
	})
	require.NoError(t, err)
	return deps, svc
}

func TestAgentRegisterIssuesToken(t *testing.T) {
	t.Parallel()
	deps, svc := newAgentService(t)
	ctx := context.Background()

	var storedHash string
	deps.agents.EXPECT().
		Register(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, params core.RegisterAgentParams) (*model.Agent, error) {
			require.NotNil(t, params.Req)
			assert.Equal(t, "worker-a", params.Req.Name)
			assert.Equal(t, agentTestNow, params.Now)
			require.NotEmpty(t, params.TokenHash)
			storedHash = params.TokenHash
			return &model.Agent{
				ID:          "agent-1",
				Name:        params.Req.Name,
				PoolID:      params.Req.PoolID,
				Status:      model.AgentStatusOnline,
				MaxParallel: 2,
			}, nil
		}).
		Times(1)

	resp, err := svc.Register(ctx, &model.RegisterAgentRequest{
		Name:        "worker-a",
		EndpointURL: "http://agent.internal:9090",
		MaxParallel: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, "agent-1", resp.AgentID)
	assert.Equal(t, 30, resp.HeartbeatInterval)
	require.NotEmpty(t, resp.AuthToken)
	// The stored hash must be the keyed hash of the token we handed out.
	assert.Equal(t, cryptoutil.HashToken(agentTestKey, resp.AuthToken), storedHash)
}

func TestAgentRegisterRejectsInvalidRequest(t *testing.T) {
	t.Parallel()
	_, svc := newAgentService(t)

	_, err := svc.Register(context.Background(), &model.RegisterAgentRequest{Name: "   "})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestAgentAuthenticateResolvesToken(t *testing.T) {
	t.Parallel()
	deps, svc := newAgentService(t)
	ctx := context.Background()

	agent := &model.Agent{ID: "agent-1", Name: "worker-a"}
	deps.agents.EXPECT().
		FindByTokenHash(ctx, cryptoutil.HashToken(agentTestKey, "tok-123")).
		Return(agent, nil).
		Times(1)

	got, err := svc.Authenticate(ctx, "tok-123")
	require.NoError(t, err)
	assert.Same(t, agent, got)
}

func TestAgentAuthenticateUnknownTokenIsForbidden(t *testing.T) {
	t.Parallel()
	deps, svc := newAgentService(t)
	ctx := context.Background()

	deps.agents.EXPECT().
		FindByTokenHash(ctx, gomock.Any()).
		Return(nil, apperrors.NotFound("no agent")).
		Times(1)

	_, err := svc.Authenticate(ctx, "bogus")
	require.Error(t, err)
	assert.True(t, apperrors.IsForbidden(err))

	_, err = svc.Authenticate(ctx, "  ")
	assert.True(t, apperrors.IsForbidden(err))
}

func TestAgentHeartbeatRefreshesLiveness(t *testing.T) {
	t.Parallel()
	deps, svc := newAgentService(t)
	ctx := context.Background()

	cpu := 12.5
	beat := &model.AgentHeartbeat{ActiveJobs: 1, CPUPercent: &cpu}
	deps.agents.EXPECT().
		Heartbeat(ctx, core.AgentHeartbeatParams{
			AgentID: "agent-1",
			Beat:    beat,
			Now:     agentTestNow,
		}).
		Return(true, nil).
		Times(1)

	err := svc.Heartbeat(ctx, &model.Agent{ID: "agent-1", Name: "worker-a"}, beat)
	require.NoError(t, err)
}

func TestAgentHeartbeatAfterDeregistrationIsNotFound(t *testing.T) {
	t.Parallel()
	deps, svc := newAgentService(t)
	ctx := context.Background()

	deps.agents.EXPECT().Heartbeat(ctx, gomock.Any()).Return(false, nil).Times(1)

	err := svc.Heartbeat(ctx, &model.Agent{ID: "agent-1", Name: "worker-a"}, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAgentUpdateStatusPatchesMetadata(t *testing.T) {
	t.Parallel()
	deps, svc := newAgentService(t)
	ctx := context.Background()
	agent := &model.Agent{ID: "agent-1", Name: "worker-a"}

	deps.agents.EXPECT().
		GetAssignment(ctx, "exec-1").
		Return(&model.Assignment{ExecutionID: "exec-1", AgentID: "agent-1"}, nil).
		Times(1)
	deps.history.EXPECT().
		PatchMetadata(ctx, "exec-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, patch []byte) (bool, error) {
			var doc struct {
				Progress struct {
					Phase   string `json:"phase"`
					Message string `json:"message"`
				} `json:"progress"`
			}
			require.NoError(t, json.Unmarshal(patch, &doc))
			assert.Equal(t, "step 2/3", doc.Progress.Phase)
			assert.Equal(t, "building artifacts", doc.Progress.Message)
			return true, nil
		}).
		Times(1)

	err := svc.UpdateStatus(ctx,
		AgentReportParams{Agent: agent, ExecutionID: "exec-1"},
		&model.AgentStatusUpdate{Phase: "step 2/3", Message: "building artifacts"})
	require.NoError(t, err)
}

func TestAgentUpdateStatusForOtherAgentsWorkIsForbidden(t *testing.T) {
	t.Parallel()
	deps, svc := newAgentService(t)
	ctx := context.Background()

	deps.agents.EXPECT().
		GetAssignment(ctx, "exec-1").
		Return(&model.Assignment{ExecutionID: "exec-1", AgentID: "agent-2"}, nil).
		Times(1)

	err := svc.UpdateStatus(ctx,
		AgentReportParams{Agent: &model.Agent{ID: "agent-1"}, ExecutionID: "exec-1"},
		&model.AgentStatusUpdate{Message: "hi"})
	require.Error(t, err)
	assert.True(t, apperrors.IsForbidden(err))
}

func TestAgentUpdateStatusOnTerminalRowConflicts(t *testing.T) {
	t.Parallel()
	deps, svc := newAgentService(t)
	ctx := context.Background()

	deps.agents.EXPECT().
		GetAssignment(ctx, "exec-1").
		Return(&model.Assignment{ExecutionID: "exec-1", AgentID: "agent-1"}, nil).
		Times(1)
	deps.history.EXPECT().PatchMetadata(ctx, "exec-1", gomock.Any()).Return(false, nil).Times(1)

	err := svc.UpdateStatus(ctx,
		AgentReportParams{Agent: &model.Agent{ID: "agent-1"}, ExecutionID: "exec-1"},
		&model.AgentStatusUpdate{Message: "late"})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestAgentCompleteFinalizesAndReleasesSlot(t *testing.T) {
	t.Parallel()
	deps, svc := newAgentService(t)
	ctx := context.Background()
	agent := &model.Agent{ID: "agent-1", Name: "worker-a"}
	rc := 0

	deps.agents.EXPECT().
		GetAssignment(ctx, "exec-1").
		Return(&model.Assignment{ExecutionID: "exec-1", AgentID: "agent-1"}, nil).
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
	deps.agents.EXPECT().DeleteAssignment(ctx, "exec-1").Return(true, nil).Times(1)
	deps.agents.EXPECT().ReleaseSlot(ctx, "agent-1").Return(nil).Times(1)

	row, err := svc.Complete(ctx,
		AgentReportParams{Agent: agent, ExecutionID: "exec-1"},
		&model.AgentCompleteRequest{
			Status:     model.ExecutionStatusSuccess,
			OutputLog:  "HELLO",
			ReturnCode: &rc,
		})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusSuccess, row.Status)
}

func TestAgentCompleteRejectsNonTerminalStatus(t *testing.T) {
	t.Parallel()
	_, svc := newAgentService(t)

	_, err := svc.Complete(context.Background(),
		AgentReportParams{Agent: &model.Agent{ID: "agent-1"}, ExecutionID: "exec-1"},
		&model.AgentCompleteRequest{Status: model.ExecutionStatusRunning})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestAgentCompleteAfterOrphanSweepIsNotFound(t *testing.T) {
	t.Parallel()
	deps, svc := newAgentService(t)
	ctx := context.Background()

	deps.agents.EXPECT().
		GetAssignment(ctx, "exec-1").
		Return(nil, apperrors.NotFound("gone")).
		Times(1)

	_, err := svc.Complete(ctx,
		AgentReportParams{Agent: &model.Agent{ID: "agent-1"}, ExecutionID: "exec-1"},
		&model.AgentCompleteRequest{Status: model.ExecutionStatusFailed})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}
