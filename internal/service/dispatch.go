package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/data"
	domainjob "github.com/jobmill/jobmill/internal/domain/job"
	"github.com/jobmill/jobmill/internal/domain/model"
	apperrors "github.com/jobmill/jobmill/internal/errors"
	obserrors "github.com/jobmill/jobmill/internal/observability/errors"
	"github.com/jobmill/jobmill/internal/observability/statsd"
)

// ExecutionCanceller kills an execution running inside this process.
type ExecutionCanceller interface {
	CancelRunning(executionID string) bool
}

// DispatchServiceOptions groups dependencies for DispatchService.
type DispatchServiceOptions struct {
	History      core.ExecutionRepository // Required: execution history repository
	Agents       core.AgentRepository     // Required: agent registry and assignments
	Jobs         core.JobConfigRepository // Required: queued rows are re-hydrated with job YAML
	Client       core.AgentClient         // Required: outbound assign/revoke calls
	Canceller    ExecutionCanceller       // Optional: inline kill of running executions
	Notifier     domainjob.Notifier       // Optional: queued-work wakeups
	Config       *core.DispatchConfig     // Optional: sweeper tuning, zero fields use defaults
	TimeProvider data.TimeProvider        // Optional: clock
	Logger       *slog.Logger             // Optional: structured logger
	Metrics      statsd.Sink              // Optional: metrics sink (StatsD-compatible)
}

// DispatchService places queued agent executions onto registered agents and
// keeps the registry honest. It is both the publisher the agent backend
// hands work to and the background sweeper that retries placement, flips
// silent agents offline, and fails executions whose agent disappeared.
//
// Placement order: claim the best candidate (spare capacity, fewest active,
// least recently assigned), push the work to its assign endpoint, then move
// the row queued -> assigned and record the assignment. A refused push
// returns the claimed slot and leaves the row queued for the next sweep.
type DispatchService struct {
	history      core.ExecutionRepository
	agents       core.AgentRepository
	jobs         core.JobConfigRepository
	client       core.AgentClient
	canceller    ExecutionCanceller
	notifier     domainjob.Notifier
	cfg          core.DispatchConfig
	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink
}

var _ core.DispatchPublisher = (*DispatchService)(nil)

// NewDispatchService constructs a new DispatchService.
func NewDispatchService(opts DispatchServiceOptions) (*DispatchService, error) {
	if opts.History == nil {
		return nil, errors.New("ExecutionRepository is required")
	}
	if opts.Agents == nil {
		return nil, errors.New("AgentRepository is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobConfigRepository is required")
	}
	if opts.Client == nil {
		return nil, errors.New("AgentClient is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &DispatchService{
		history:      opts.History,
		agents:       opts.Agents,
		jobs:         opts.Jobs,
		client:       opts.Client,
		canceller:    opts.Canceller,
		notifier:     opts.Notifier,
		cfg:          normalizeDispatchConfig(opts.Config),
		timeProvider: opts.TimeProvider,
		logger:       logger.With("component", "dispatch_service"),
		metrics:      opts.Metrics,
	}, nil
}

// MustNewDispatchService constructs a new DispatchService and panics on error.
func MustNewDispatchService(opts DispatchServiceOptions) *DispatchService {
	svc, err := NewDispatchService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create DispatchService: %v", err))
	}
	return svc
}

// SetCanceller attaches the inline canceller after construction. The
// executor publishes through the dispatcher while the dispatcher cancels
// through the executor, so one side has to bind late.
func (s *DispatchService) SetCanceller(c ExecutionCanceller) {
	s.canceller = c
}

// normalizeDispatchConfig fills zero fields from the defaults.
func normalizeDispatchConfig(cfg *core.DispatchConfig) core.DispatchConfig {
	out := core.DefaultDispatchConfig()
	if cfg == nil {
		return out
	}
	if cfg.SweepInterval > 0 {
		out.SweepInterval = cfg.SweepInterval
	}
	if cfg.HeartbeatInterval > 0 {
		out.HeartbeatInterval = cfg.HeartbeatInterval
	}
	if cfg.ScanLimit > 0 {
		out.ScanLimit = cfg.ScanLimit
	}
	return out
}

// Publish accepts an execution for remote placement: the row moves from
// running to queued and an inline placement attempt cuts the sweep latency
// for the common case. A miss is not an error; the row stays queued for
// the sweeper.
func (s *DispatchService) Publish(ctx context.Context, req core.PublishJobRequest) error {
	if strings.TrimSpace(req.ExecutionID) == "" {
		return apperrors.Validation("execution_id is required; agent jobs cannot dispatch without a history row")
	}
	pool := strings.TrimSpace(req.PoolID)
	if pool == "" {
		pool = model.DefaultAgentPool
	}

	moved, err := s.history.Transition(ctx, core.TransitionExecutionParams{
		ExecutionID:   req.ExecutionID,
		From:          model.ExecutionStatusRunning,
		To:            model.ExecutionStatusQueued,
		MetadataPatch: encodeMeta(map[string]string{"pool_id": pool}),
	})
	if err != nil {
		return fmt.Errorf("queue execution %s: %w", req.ExecutionID, err)
	}
	if !moved {
		return apperrors.Conflictf("execution %s is no longer running", req.ExecutionID)
	}

	placed := s.tryPlace(ctx, placement{
		ExecutionID: req.ExecutionID,
		JobID:       req.JobID,
		JobName:     req.JobName,
		PoolID:      pool,
		YAML:        req.YAML,
		Timezone:    req.Timezone,
	})
	if !placed {
		s.logger.DebugContext(ctx, "no placement yet, execution stays queued",
			"execution_id", req.ExecutionID, "pool_id", pool)
	}
	return nil
}

// Run drives the sweeper until ctx is cancelled. Queued-work notifications
// trigger a placement pass between sweeps; the full sweep also handles
// agent liveness and orphaned assignments.
func (s *DispatchService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "dispatch sweeper starting",
		"sweep_interval", s.cfg.SweepInterval,
		"heartbeat_interval", s.cfg.HeartbeatInterval)

	var wake <-chan struct{}
	if s.notifier != nil {
		unsubscribe, ch := s.notifier.Subscribe(domainjob.TopicDispatch)
		defer unsubscribe()
		wake = ch
	}

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "dispatch sweeper stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-wake:
			s.placeQueued(ctx)

		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep is one full pass: liveness, orphans, then placement.
func (s *DispatchService) sweep(ctx context.Context) {
	start := time.Now()
	now := s.timeProvider.Now()

	s.markStaleAgents(ctx, now)
	s.failOrphans(ctx, now)
	s.placeQueued(ctx)

	if s.metrics != nil {
		s.metrics.Timing("dispatch.sweep_duration", time.Since(start), nil)
	}
}

// markStaleAgents flips agents silent for two heartbeat windows to offline
// so placement stops considering them.
func (s *DispatchService) markStaleAgents(ctx context.Context, now time.Time) {
	cutoff := now.Add(-2 * s.cfg.HeartbeatInterval)
	n, err := s.agents.MarkStaleOffline(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "mark stale agents failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.WarnContext(ctx, "marked silent agents offline", "count", n)
	}
}

// failOrphans fails executions whose agent has been silent for three
// heartbeat windows. The work is gone; pretending otherwise just hides it.
func (s *DispatchService) failOrphans(ctx context.Context, now time.Time) {
	cutoff := now.Add(-3 * s.cfg.HeartbeatInterval)
	orphans, err := s.agents.FindOrphaned(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "find orphaned assignments failed", "error", err)
		return
	}
	for _, orphan := range orphans {
		s.failOrphan(ctx, orphan)
	}
}

func (s *DispatchService) failOrphan(ctx context.Context, orphan *core.OrphanedAssignment) {
	_, err := s.history.Finish(ctx, model.FinishExecutionParams{
		ExecutionID:  orphan.ExecutionID,
		Status:       model.ExecutionStatusFailed,
		ErrorMessage: fmt.Sprintf("agent lost: %s stopped heartbeating", orphan.AgentName),
	})
	if err != nil && !apperrors.IsConflict(err) && !apperrors.IsNotFound(err) {
		// Keep the assignment so the next sweep retries the write.
		s.logger.ErrorContext(ctx, "fail orphaned execution failed",
			"execution_id", orphan.ExecutionID, "error", err)
		return
	}

	if _, err := s.agents.DeleteAssignment(ctx, orphan.ExecutionID); err != nil {
		s.logger.ErrorContext(ctx, "delete orphaned assignment failed",
			"execution_id", orphan.ExecutionID, "error", err)
	}
	s.releaseSlot(ctx, orphan.AgentID)

	s.logger.WarnContext(ctx, "failed orphaned execution, agent lost",
		"execution_id", orphan.ExecutionID,
		"agent", orphan.AgentName)
	s.count("dispatch.orphaned", nil)
}

// placeQueued scans queued executions oldest-first and fans placement out
// one goroutine per pool, so a starved pool cannot stall the others.
func (s *DispatchService) placeQueued(ctx context.Context) {
	rows, err := s.history.FindQueued(ctx, s.cfg.ScanLimit)
	if err != nil {
		s.logger.ErrorContext(ctx, "scan queued executions failed", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.Gauge("dispatch.queued_depth", float64(len(rows)), nil)
	}
	if len(rows) == 0 {
		return
	}

	pools := make(map[string][]*model.Execution)
	for _, row := range rows {
		pool := poolFromMetadata(row.Metadata)
		pools[pool] = append(pools[pool], row)
	}

	g, gctx := errgroup.WithContext(ctx)
	for pool, executions := range pools {
		g.Go(func() error {
			return s.placePool(gctx, pool, executions)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.ErrorContext(ctx, "queued placement pass failed", "error", err)
	}
}

// placePool walks one pool's queued work oldest-first and stops at the
// first miss: if the oldest row cannot place, the pool is out of capacity
// and the rest can wait for the next sweep.
func (s *DispatchService) placePool(ctx context.Context, poolID string, rows []*model.Execution) error {
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, ok := s.hydrate(ctx, row, poolID)
		if !ok {
			continue
		}
		if !s.tryPlace(ctx, p) {
			return nil
		}
	}
	return nil
}

// hydrate rebuilds the outbound payload for a queued row. A row whose job
// configuration vanished fails permanently; nothing could ever run it.
func (s *DispatchService) hydrate(ctx context.Context, row *model.Execution, poolID string) (placement, bool) {
	jobRow, err := s.jobs.GetByID(ctx, row.JobID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			s.failMissingJob(ctx, row)
		} else {
			s.logger.ErrorContext(ctx, "load job for queued execution failed",
				"execution_id", row.ID, "job_id", row.JobID, "error", err)
		}
		return placement{}, false
	}

	return placement{
		ExecutionID: row.ID,
		JobID:       row.JobID,
		JobName:     row.JobName,
		PoolID:      poolID,
		YAML:        jobRow.YAML,
		Timezone:    row.Timezone,
	}, true
}

func (s *DispatchService) failMissingJob(ctx context.Context, row *model.Execution) {
	_, err := s.history.Finish(ctx, model.FinishExecutionParams{
		ExecutionID:  row.ID,
		Status:       model.ExecutionStatusFailed,
		ErrorMessage: "job configuration no longer exists",
	})
	if err != nil && !apperrors.IsConflict(err) {
		s.logger.ErrorContext(ctx, "fail execution for deleted job failed",
			"execution_id", row.ID, "error", err)
		return
	}
	s.logger.WarnContext(ctx, "failed queued execution, job deleted",
		"execution_id", row.ID, "job_id", row.JobID)
}

// placement carries everything one assignment push needs.
type placement struct {
	ExecutionID string
	JobID       string
	JobName     string
	PoolID      string
	YAML        string
	Timezone    string
}

// tryPlace attempts one queued -> assigned placement. False always means
// the row is still queued or already somewhere else; the caller never has
// cleanup to do.
func (s *DispatchService) tryPlace(ctx context.Context, p placement) bool {
	agent, err := s.agents.ClaimCandidate(ctx, p.PoolID)
	if err != nil {
		s.logger.ErrorContext(ctx, "claim agent candidate failed",
			"pool_id", p.PoolID, "error", err)
		s.countPlacement("error", err)
		return false
	}
	if agent == nil {
		s.countPlacement("no_agent", nil)
		return false
	}

	assignReq := &model.AssignJobRequest{
		ExecutionID: p.ExecutionID,
		JobID:       p.JobID,
		JobName:     p.JobName,
		YAML:        p.YAML,
		Timezone:    p.Timezone,
	}
	if err := s.client.Assign(ctx, agent, assignReq); err != nil {
		s.logger.WarnContext(ctx, "agent refused assignment, leaving execution queued",
			"execution_id", p.ExecutionID, "agent", agent.Name, "error", err)
		s.releaseSlot(ctx, agent.ID)
		s.countPlacement("refused", err)
		return false
	}

	moved, err := s.history.Transition(ctx, core.TransitionExecutionParams{
		ExecutionID:   p.ExecutionID,
		From:          model.ExecutionStatusQueued,
		To:            model.ExecutionStatusAssigned,
		MetadataPatch: encodeMeta(map[string]string{"agent_id": agent.ID, "agent_name": agent.Name}),
	})
	if err != nil || !moved {
		// The row left queued while we were pushing: finished fast or was
		// cancelled. Revoke is harmless either way; a double slot release
		// floors at zero and the next heartbeat rewrites the count.
		s.logger.WarnContext(ctx, "execution moved during placement, revoking",
			"execution_id", p.ExecutionID, "agent", agent.Name, "error", err)
		s.revoke(ctx, agent, p.ExecutionID)
		s.releaseSlot(ctx, agent.ID)
		s.countPlacement("lost_race", err)
		return false
	}

	if _, err := s.agents.CreateAssignment(ctx, p.ExecutionID, agent.ID); err != nil {
		// The agent holds the work either way; losing the bookkeeping row
		// only blinds the orphan sweep for this one execution.
		s.logger.ErrorContext(ctx, "record assignment failed",
			"execution_id", p.ExecutionID, "agent_id", agent.ID, "error", err)
	}

	s.logger.InfoContext(ctx, "execution assigned",
		"execution_id", p.ExecutionID,
		"agent", agent.Name,
		"pool_id", p.PoolID)
	s.countPlacement("assigned", nil)
	return true
}

// Cancel stops an execution wherever it is: running rows are killed in
// process when this replica owns them, queued rows finish directly, and
// assigned rows are revoked from their agent first.
func (s *DispatchService) Cancel(ctx context.Context, executionID, actor string) (*model.Execution, error) {
	row, err := s.history.GetByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("cancel execution %s: %w", executionID, err)
	}
	if row.Status.Terminal() {
		return nil, apperrors.AlreadyTerminal(executionID)
	}
	if strings.TrimSpace(actor) == "" {
		actor = "api"
	}

	switch row.Status {
	case model.ExecutionStatusRunning:
		if s.canceller != nil && s.canceller.CancelRunning(executionID) {
			s.logger.InfoContext(ctx, "cancel signalled to in-process execution",
				"execution_id", executionID, "actor", actor)
			// The backend observes the cancellation and the executor
			// records the terminal row; report the row as it stands.
			return s.history.GetByID(ctx, executionID)
		}
		// Not running in this process; finish directly and let any late
		// terminal write from the owner conflict harmlessly.
		return s.finishCancelled(ctx, executionID, actor)

	case model.ExecutionStatusPending, model.ExecutionStatusQueued:
		return s.finishCancelled(ctx, executionID, actor)

	case model.ExecutionStatusAssigned:
		s.revokeAssignment(ctx, row)
		return s.finishCancelled(ctx, executionID, actor)

	default:
		return nil, apperrors.Conflictf("execution %s cannot be cancelled from %q", executionID, row.Status)
	}
}

func (s *DispatchService) finishCancelled(
	ctx context.Context,
	executionID, actor string,
) (*model.Execution, error) {
	row, err := s.history.Finish(ctx, model.FinishExecutionParams{
		ExecutionID:  executionID,
		Status:       model.ExecutionStatusCancelled,
		ErrorMessage: "cancelled by " + actor,
	})
	if err != nil {
		return nil, fmt.Errorf("cancel execution %s: %w", executionID, err)
	}
	s.logger.InfoContext(ctx, "execution cancelled", "execution_id", executionID, "actor", actor)
	return row, nil
}

// revokeAssignment tears down the agent side of a cancelled assignment.
// Every step is best effort; the orphan sweep covers whatever is missed.
func (s *DispatchService) revokeAssignment(ctx context.Context, row *model.Execution) {
	assignment, err := s.agents.GetAssignment(ctx, row.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "load assignment for cancel failed",
			"execution_id", row.ID, "error", err)
		return
	}

	agent, err := s.agents.GetByID(ctx, assignment.AgentID)
	if err != nil {
		s.logger.WarnContext(ctx, "load agent for revoke failed",
			"agent_id", assignment.AgentID, "error", err)
	} else {
		s.revoke(ctx, agent, row.ID)
	}

	if _, err := s.agents.DeleteAssignment(ctx, row.ID); err != nil {
		s.logger.WarnContext(ctx, "delete assignment on cancel failed",
			"execution_id", row.ID, "error", err)
	}
	s.releaseSlot(ctx, assignment.AgentID)
}

// revoke is best effort; an unreachable agent is the orphan sweep's problem.
func (s *DispatchService) revoke(ctx context.Context, agent *model.Agent, executionID string) {
	if err := s.client.Revoke(ctx, agent, executionID); err != nil {
		s.logger.WarnContext(ctx, "revoke assignment failed",
			"execution_id", executionID, "agent", agent.Name, "error", err)
	}
}

func (s *DispatchService) releaseSlot(ctx context.Context, agentID string) {
	if err := s.agents.ReleaseSlot(ctx, agentID); err != nil {
		s.logger.WarnContext(ctx, "release agent slot failed", "agent_id", agentID, "error", err)
	}
}

// poolFromMetadata reads the pool recorded when the execution queued.
func poolFromMetadata(meta json.RawMessage) string {
	if len(meta) == 0 {
		return model.DefaultAgentPool
	}
	var m struct {
		PoolID string `json:"pool_id"`
	}
	if err := json.Unmarshal(meta, &m); err != nil || strings.TrimSpace(m.PoolID) == "" {
		return model.DefaultAgentPool
	}
	return m.PoolID
}

// encodeMeta marshals a flat string map; it cannot fail for this shape.
func encodeMeta(kv map[string]string) []byte {
	b, err := json.Marshal(kv)
	if err != nil {
		return nil
	}
	return b
}

func (s *DispatchService) countPlacement(result string, err error) {
	if s.metrics == nil {
		return
	}
	tags := map[string]string{"result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
	s.metrics.Count("dispatch.placement", 1, tags)
}

func (s *DispatchService) count(name string, tags map[string]string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Count(name, 1, tags)
}
