package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/domain/model"
)

// AgentBackendOptions bundles dependencies for NewAgentBackend.
type AgentBackendOptions struct {
	Publisher core.DispatchPublisher
	Logger    *slog.Logger
}

// AgentBackend hands agent jobs to the dispatch layer. It never runs steps
// itself: the execution stays live until an agent reports back.
type AgentBackend struct {
	publisher core.DispatchPublisher
	logger    *slog.Logger
}

// NewAgentBackend constructs an AgentBackend.
func NewAgentBackend(opts AgentBackendOptions) (*AgentBackend, error) {
	if opts.Publisher == nil {
		return nil, errors.New("Publisher is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "agent_backend")
	}

	return &AgentBackend{publisher: opts.Publisher, logger: logger}, nil
}

// Type reports the job type this backend handles.
func (b *AgentBackend) Type() model.JobType {
	return model.JobTypeAgent
}

// Execute publishes the execution for remote placement and returns a
// non-terminal result; agent callbacks finish the row later.
func (b *AgentBackend) Execute(ctx context.Context, req *core.BackendRequest) (*core.BackendResult, error) {
	if req == nil || req.Job == nil || req.Def == nil {
		return nil, errors.New("backend request requires a job and parsed definition")
	}

	pool := req.Def.Pool()
	var timezone string
	if req.Def.Schedule != nil {
		timezone = req.Def.Schedule.Timezone
	}

	err := b.publisher.Publish(ctx, core.PublishJobRequest{
		ExecutionID: req.ExecutionID,
		JobID:       req.Job.ID,
		JobName:     req.Job.Name,
		PoolID:      pool,
		YAML:        req.Job.YAML,
		Timezone:    timezone,
	})
	if err != nil {
		return nil, fmt.Errorf("publishing to dispatch: %w", err)
	}

	if b.logger != nil {
		b.logger.DebugContext(ctx, "agent job queued for dispatch",
			"execution_id", req.ExecutionID,
			"pool", pool)
	}

	meta, err := json.Marshal(map[string]any{"pool_id": pool})
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	return &core.BackendResult{
		Success:     true,
		Output:      "queued for agent pool " + pool,
		TerminalNow: false,
		Metadata:    meta,
	}, nil
}
