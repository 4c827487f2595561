package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/data"
	"github.com/jobmill/jobmill/internal/data/cryptoutil"
	"github.com/jobmill/jobmill/internal/domain/model"
	apperrors "github.com/jobmill/jobmill/internal/errors"
	"github.com/jobmill/jobmill/internal/observability/statsd"
)

// AgentServiceOptions groups dependencies for AgentService.
type AgentServiceOptions struct {
	Agents       core.AgentRepository     // Required: agent registry and assignments
	History      core.ExecutionRepository // Required: execution history for completion writes
	TokenKey     []byte                   // Required: HMAC key for bearer-token hashing
	Config       *core.DispatchConfig     // Optional: heartbeat interval advertised to agents
	TimeProvider data.TimeProvider        // Optional: clock
	Logger       *slog.Logger             // Optional: structured logger
	Metrics      statsd.Sink              // Optional: metrics sink (StatsD-compatible)
}

// AgentService owns the inbound half of the agent protocol: registration
// with token issue, heartbeat liveness, progress notes, and the terminal
// completion report. The outbound half (placement, revocation, orphan
// sweeps) lives in DispatchService.
type AgentService struct {
	agents       core.AgentRepository
	history      core.ExecutionRepository
	tokenKey     []byte
	cfg          core.DispatchConfig
	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink
}

// NewAgentService constructs a new AgentService.
func NewAgentService(opts AgentServiceOptions) (*AgentService, error) {
	if opts.Agents == nil {
		return nil, errors.New("AgentRepository is required")
	}
	if opts.History == nil {
		return nil, errors.New("ExecutionRepository is required")
	}
	if len(opts.TokenKey) == 0 {
		return nil, errors.New("token key is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &AgentService{
		agents:       opts.Agents,
		history:      opts.History,
		tokenKey:     opts.TokenKey,
		cfg:          normalizeDispatchConfig(opts.Config),
		timeProvider: opts.TimeProvider,
		logger:       logger.With("component", "agent_service"),
		metrics:      opts.Metrics,
	}, nil
}

// MustNewAgentService constructs a new AgentService and panics on error.
func MustNewAgentService(opts AgentServiceOptions) *AgentService {
	svc, err := NewAgentService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create AgentService: %v", err))
	}
	return svc
}

// Register enrolls an agent and issues its bearer token. Registering an
// existing name replaces the prior record and rotates the token, so a
// restarted agent simply registers again.
func (s *AgentService) Register(ctx context.Context, req *model.RegisterAgentRequest) (*model.RegisterAgentResponse, error) {
	if req == nil {
		return nil, apperrors.Validation("registration request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid agent registration")
	}

	token, err := cryptoutil.NewToken()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "issue agent token")
	}

	agent, err := s.agents.Register(ctx, core.RegisterAgentParams{
		Req:       req,
		TokenHash: cryptoutil.HashToken(s.tokenKey, token),
		Now:       s.timeProvider.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("register agent %q: %w", req.Name, err)
	}

	s.logger.InfoContext(ctx, "agent registered",
		"agent", agent.Name,
		"pool_id", agent.PoolID,
		"max_parallel", agent.MaxParallel)
	s.countAgent("register")

	return &model.RegisterAgentResponse{
		AgentID:           agent.ID,
		AuthToken:         token,
		PoolID:            agent.PoolID,
		Status:            agent.Status,
		HeartbeatInterval: int(s.cfg.HeartbeatInterval / time.Second),
	}, nil
}

// Authenticate resolves the agent presenting a bearer token. An unknown
// token is forbidden rather than not-found: callers learn nothing about
// which tokens exist.
func (s *AgentService) Authenticate(ctx context.Context, token string) (*model.Agent, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperrors.Forbidden("agent token is required")
	}
	agent, err := s.agents.FindByTokenHash(ctx, cryptoutil.HashToken(s.tokenKey, token))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Forbidden("invalid agent token")
		}
		return nil, fmt.Errorf("authenticate agent: %w", err)
	}
	return agent, nil
}

// Heartbeat refreshes the calling agent's liveness and telemetry.
func (s *AgentService) Heartbeat(ctx context.Context, agent *model.Agent, beat *model.AgentHeartbeat) error {
	if agent == nil {
		return apperrors.Validation("agent is required")
	}
	beatOK, err := s.agents.Heartbeat(ctx, core.AgentHeartbeatParams{
		AgentID: agent.ID,
		Beat:    beat,
		Now:     s.timeProvider.Now(),
	})
	if err != nil {
		return fmt.Errorf("heartbeat for agent %s: %w", agent.Name, err)
	}
	if !beatOK {
		return apperrors.NotFoundf("agent %s is no longer registered", agent.Name)
	}
	return nil
}

// UpdateStatus records a non-terminal progress note from the agent working
// an execution. The note lands in the row's metadata; the status column is
// untouched.
func (s *AgentService) UpdateStatus(ctx context.Context, p AgentReportParams, upd *model.AgentStatusUpdate) error {
	if upd == nil {
		return apperrors.Validation("status update payload is required")
	}
	if _, err := s.ownedAssignment(ctx, p); err != nil {
		return err
	}

	patch, err := progressPatch(upd)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "encode progress note")
	}
	patched, err := s.history.PatchMetadata(ctx, p.ExecutionID, patch)
	if err != nil {
		return fmt.Errorf("record progress for execution %s: %w", p.ExecutionID, err)
	}
	if !patched {
		return apperrors.AlreadyTerminal(p.ExecutionID)
	}

	s.logger.DebugContext(ctx, "agent progress recorded",
		"execution_id", p.ExecutionID,
		"agent", p.Agent.Name,
		"phase", upd.Phase)
	return nil
}

// Complete finalizes an execution from the agent's terminal report: the
// single terminal history write, then assignment teardown and slot release.
// A report for an already-finished execution is a conflict, which agents
// treat as "stop resending".
func (s *AgentService) Complete(ctx context.Context, p AgentReportParams, req *model.AgentCompleteRequest) (*model.Execution, error) {
	if req == nil {
		return nil, apperrors.Validation("completion report is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid completion report")
	}
	if _, err := s.ownedAssignment(ctx, p); err != nil {
		return nil, err
	}

	row, err := s.history.Finish(ctx, model.FinishExecutionParams{
		ExecutionID:  p.ExecutionID,
		Status:       req.Status,
		OutputLog:    req.OutputLog,
		ErrorMessage: req.ErrorMessage,
		ReturnCode:   req.ReturnCode,
		Metadata:     req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("complete execution %s: %w", p.ExecutionID, err)
	}

	if _, err := s.agents.DeleteAssignment(ctx, p.ExecutionID); err != nil {
		s.logger.WarnContext(ctx, "delete assignment on completion failed",
			"execution_id", p.ExecutionID, "error", err)
	}
	if err := s.agents.ReleaseSlot(ctx, p.Agent.ID); err != nil {
		s.logger.WarnContext(ctx, "release agent slot on completion failed",
			"agent_id", p.Agent.ID, "error", err)
	}

	s.logger.InfoContext(ctx, "agent execution completed",
		"execution_id", p.ExecutionID,
		"agent", p.Agent.Name,
		"status", row.Status)
	s.countAgent("complete_" + string(row.Status))
	return row, nil
}

// Get retrieves one agent by id.
func (s *AgentService) Get(ctx context.Context, id string) (*model.Agent, error) {
	agent, err := s.agents.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return agent, nil
}

// List returns every registered agent.
func (s *AgentService) List(ctx context.Context) ([]*model.Agent, error) {
	agents, err := s.agents.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// AgentReportParams identifies which agent is reporting about which
// execution.
type AgentReportParams struct {
	Agent       *model.Agent
	ExecutionID string
}

// ownedAssignment verifies the reporting agent actually holds the
// execution. A vanished assignment is not-found (the orphan sweep or a
// cancel got there first); another agent's assignment is forbidden.
func (s *AgentService) ownedAssignment(ctx context.Context, p AgentReportParams) (*model.Assignment, error) {
	if p.Agent == nil {
		return nil, apperrors.Validation("agent is required")
	}
	if strings.TrimSpace(p.ExecutionID) == "" {
		return nil, apperrors.Validation("execution_id is required")
	}

	assignment, err := s.agents.GetAssignment(ctx, p.ExecutionID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NotFoundf("no active assignment for execution %s", p.ExecutionID)
		}
		return nil, fmt.Errorf("load assignment for execution %s: %w", p.ExecutionID, err)
	}
	if assignment.AgentID != p.Agent.ID {
		return nil, apperrors.Forbiddenf("execution %s is assigned to another agent", p.ExecutionID)
	}
	return assignment, nil
}

// progressPatch shapes a status update into the metadata document merged
// onto the execution row.
func progressPatch(upd *model.AgentStatusUpdate) ([]byte, error) {
	note := map[string]any{}
	if upd.Phase != "" {
		note["phase"] = upd.Phase
	}
	if upd.Message != "" {
		note["message"] = upd.Message
	}
	if len(upd.Metadata) > 0 {
		note["detail"] = json.RawMessage(upd.Metadata)
	}
	return json.Marshal(map[string]any{"progress": note})
}

func (s *AgentService) countAgent(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Count("agent.protocol", 1, map[string]string{"event": event})
}
