package core

import (
	"context"
	"time"

	"github.com/jobmill/jobmill/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// JobConfigRepository defines the interface for job configuration data operations.
type JobConfigRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	GetByName(ctx context.Context, name string) (*model.Job, error)
	// List honors EnabledOnly and Limit (0 = unbounded), newest first.
	// JobType filtering happens in the service layer: the type lives inside
	// the YAML document, not in a column.
	List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error)
	Update(ctx context.Context, id string, params UpdateJobConfigParams) (*model.Job, error)
	Delete(ctx context.Context, id string) (bool, error)
	// SetEnabled sets the flag explicitly, or flips it when enabled is nil.
	SetEnabled(ctx context.Context, id string, enabled *bool) (*model.Job, error)
}

// UpdateJobConfigParams groups resolved column values for a job update. The
// service computes these (including any YAML re-render); the repository
// applies whichever are non-nil, bumps version on a YAML replacement, and
// stamps modified_date.
type UpdateJobConfigParams struct {
	Name        *string
	Description *string
	Enabled     *bool
	YAML        *string
}

// ExecutionRepository defines the interface for execution history data operations.
type ExecutionRepository interface {
	// Start inserts a new running row and returns it.
	Start(ctx context.Context, params model.StartExecutionParams) (*model.Execution, error)
	// Finish performs the single allowed terminal write. A row that is
	// already terminal yields a conflict error; rows are immutable after.
	Finish(ctx context.Context, params model.FinishExecutionParams) (*model.Execution, error)
	GetByID(ctx context.Context, id string) (*model.Execution, error)
	// List honors JobID, Status and Limit, newest first. MetadataFilter is
	// evaluated by the service layer, not here.
	List(ctx context.Context, opts *model.ExecutionListOptions) ([]*model.Execution, error)
	// CountLive counts pending/running/queued/assigned rows for a job.
	CountLive(ctx context.Context, jobID string) (int, error)
	// Transition moves a row between non-terminal states with a guarded
	// UPDATE; false means the row was not in the expected From state.
	Transition(ctx context.Context, params TransitionExecutionParams) (bool, error)
	// FindQueued returns queued rows oldest-first for dispatch placement.
	FindQueued(ctx context.Context, limit int) ([]*model.Execution, error)
	// PatchMetadata merges a JSON document into a non-terminal row's
	// metadata without touching its status; false means the row is gone
	// or already terminal.
	PatchMetadata(ctx context.Context, executionID string, patch []byte) (bool, error)
}

// TransitionExecutionParams groups parameters for a guarded status move.
type TransitionExecutionParams struct {
	ExecutionID string
	From        model.ExecutionStatus
	To          model.ExecutionStatus
	// MetadataPatch, when non-nil, is merged into the row's metadata
	// document as part of the same UPDATE.
	MetadataPatch []byte
}

// HistoryReaperRepository defines the interface for execution history cleanup.
type HistoryReaperRepository interface {
	// FailStaleRunning marks running rows older than maxAge as failed.
	// Processes up to batchSize rows per call to prevent long locks.
	// Returns the number of rows marked as failed.
	FailStaleRunning(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)

	// DeleteOldExecutions deletes terminal history rows older than MaxAge.
	// Processes up to BatchSize rows per call. Returns the number deleted.
	DeleteOldExecutions(ctx context.Context, params DeleteOldExecutionsParams) (int64, error)

	// TrimJobHistory keeps only the newest KeepPerJob terminal rows per job
	// and deletes the rest, batched. Returns the number deleted.
	TrimJobHistory(ctx context.Context, params TrimJobHistoryParams) (int64, error)
}

// DeleteOldExecutionsParams groups parameters for DeleteOldExecutions to keep param count ≤3.
type DeleteOldExecutionsParams struct {
	MaxAge    time.Duration
	BatchSize int
}

// TrimJobHistoryParams groups parameters for TrimJobHistory.
type TrimJobHistoryParams struct {
	KeepPerJob int
	BatchSize  int
}

// ConnectionRepository defines the interface for named database connection
// data operations. Passwords are encrypted at rest and decrypted on read.
type ConnectionRepository interface {
	Create(ctx context.Context, req *model.CreateConnectionRequest) (*model.Connection, error)
	GetByID(ctx context.Context, id string) (*model.Connection, error)
	GetByName(ctx context.Context, name string) (*model.Connection, error)
	List(ctx context.Context, limit, offset int) ([]*model.Connection, error)
	Update(ctx context.Context, id string, req model.UpdateConnectionRequest) (*model.Connection, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// AgentRepository defines the interface for the remote agent registry and
// assignment bookkeeping.
type AgentRepository interface {
	// Register upserts an agent by name, replacing any prior registration
	// and rotating the stored token hash.
	Register(ctx context.Context, params RegisterAgentParams) (*model.Agent, error)
	GetByID(ctx context.Context, id string) (*model.Agent, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Agent, error)
	List(ctx context.Context) ([]*model.Agent, error)
	// Heartbeat refreshes liveness and telemetry; false means no such agent.
	Heartbeat(ctx context.Context, params AgentHeartbeatParams) (bool, error)
	// MarkStaleOffline flips agents silent since cutoff to offline.
	MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteOffline removes offline agents whose last heartbeat predates cutoff.
	DeleteOffline(ctx context.Context, cutoff time.Time) (int64, error)

	// ClaimCandidate atomically picks the best eligible agent for a pool
	// (online, pool match or any-pool, spare capacity; ties broken by
	// fewest active then least recently assigned) and increments its
	// active count. Returns nil when no agent is eligible.
	ClaimCandidate(ctx context.Context, poolID string) (*model.Agent, error)
	// ReleaseSlot decrements an agent's active count, floored at zero.
	ReleaseSlot(ctx context.Context, agentID string) error

	CreateAssignment(ctx context.Context, executionID, agentID string) (*model.Assignment, error)
	GetAssignment(ctx context.Context, executionID string) (*model.Assignment, error)
	DeleteAssignment(ctx context.Context, executionID string) (bool, error)
	// FindOrphaned returns assignments whose agent has been silent since
	// cutoff, so the dispatcher can fail the executions they hold.
	FindOrphaned(ctx context.Context, cutoff time.Time) ([]*OrphanedAssignment, error)
}

// RegisterAgentParams groups parameters for AgentRepository.Register.
type RegisterAgentParams struct {
	Req       *model.RegisterAgentRequest
	TokenHash string
	Now       time.Time
}

// AgentHeartbeatParams groups parameters for AgentRepository.Heartbeat.
type AgentHeartbeatParams struct {
	AgentID string
	Beat    *model.AgentHeartbeat
	Now     time.Time
}

// OrphanedAssignment pairs an abandoned execution with the agent that held it.
type OrphanedAssignment struct {
	ExecutionID string `db:"execution_id"`
	AgentID     string `db:"agent_id"`
	AgentName   string `db:"agent_name"`
}

// AgentClient is the outbound half of agent dispatch: the server pushes
// assignments to agents and revokes them on cancel.
type AgentClient interface {
	// Assign POSTs the job to the agent's assign endpoint. A non-2xx
	// response or transport failure is an error; the caller leaves the
	// execution queued.
	Assign(ctx context.Context, agent *model.Agent, req *model.AssignJobRequest) error
	// Revoke asks the agent to abandon an execution. Best effort.
	Revoke(ctx context.Context, agent *model.Agent, executionID string) error
}

// DispatchPublisher accepts executions for remote placement. The agent
// backend hands work to it instead of finishing inline.
type DispatchPublisher interface {
	Publish(ctx context.Context, req PublishJobRequest) error
}

// PublishJobRequest carries everything dispatch needs to place an execution
// on an agent.
type PublishJobRequest struct {
	ExecutionID string
	JobID       string
	JobName     string
	PoolID      string
	YAML        string
	Timezone    string
}

// JobExecutor defines the interface for running one job end to end. The
// scheduler loop and the HTTP run endpoint both depend on it.
type JobExecutor interface {
	ExecuteJob(ctx context.Context, req ExecuteJobRequest) (*model.ExecutionOutcome, error)
}

// ExecuteJobRequest groups parameters for JobExecutor.ExecuteJob.
type ExecuteJobRequest struct {
	JobID string
	Mode  model.ExecutionMode
	Actor string
	// Force lets a manual run proceed past the single-live-execution guard.
	Force bool
	// ScheduledAt is the trigger instant for scheduled fires; the
	// cross-replica fire guard keys on it. Zero for manual runs.
	ScheduledAt time.Time
}
