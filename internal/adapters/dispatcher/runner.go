// Package dispatcher provides adapters for running the agent dispatch
// sweeper.
package dispatcher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jobmill/jobmill/internal/adapters/agentclient"
	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/data"
	domainjob "github.com/jobmill/jobmill/internal/domain/job"
	"github.com/jobmill/jobmill/internal/observability/statsd"
	"github.com/jobmill/jobmill/internal/service"
)

// Runner provides a simple adapter to run the dispatch sweep loop.
// It constructs the dispatch service and runs placement until the context
// is cancelled.
type Runner struct {
	dispatch *service.DispatchService
	logger   *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB      *sql.DB
	Config  *core.DispatchConfig
	Logger  *slog.Logger
	Metrics statsd.Sink

	// Canceller kills executions running inline in this process when an
	// agent-side cancel arrives.
	Canceller service.ExecutionCanceller

	// Optional dependency injections for testing/decoupling
	History  core.ExecutionRepository
	Agents   core.AgentRepository
	Jobs     core.JobConfigRepository
	Client   core.AgentClient
	Notifier domainjob.Notifier
}

// NewRunner creates a new dispatch runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	dispatch, err := wireDispatchService(opts)
	if err != nil {
		return nil, fmt.Errorf("wire dispatch service: %w", err)
	}

	return &Runner{
		dispatch: dispatch,
		logger:   opts.Logger,
	}, nil
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && (opts.History == nil || opts.Agents == nil || opts.Jobs == nil) {
		return errors.New("database connection is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// wireDispatchService wires up all dependencies for the dispatch service.
func wireDispatchService(opts RunnerOptions) (*service.DispatchService, error) {
	history := opts.History
	if history == nil {
		history = data.NewExecutionRepo(opts.DB)
	}
	agents := opts.Agents
	if agents == nil {
		agents = data.NewAgentRepo(opts.DB)
	}
	jobs := opts.Jobs
	if jobs == nil {
		jobs = data.NewJobConfigRepo(opts.DB)
	}

	client := opts.Client
	if client == nil {
		client = agentclient.New(agentclient.Options{Logger: opts.Logger})
	}

	notifier := opts.Notifier
	if notifier == nil && opts.DB != nil {
		built, err := domainjob.NewNotifier(domainjob.NotifierOptions{
			Waiter: data.NewNotificationWaiter(opts.DB),
		})
		if err != nil {
			return nil, fmt.Errorf("wire dispatch notifier: %w", err)
		}
		notifier = built
	}

	return service.NewDispatchService(service.DispatchServiceOptions{
		History:   history,
		Agents:    agents,
		Jobs:      jobs,
		Client:    client,
		Canceller: opts.Canceller,
		Notifier:  notifier,
		Config:    opts.Config,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
	})
}

// Service exposes the wired dispatch service. The agent backend publishes
// queued executions through it, and the HTTP layer cancels through it.
func (r *Runner) Service() *service.DispatchService {
	return r.dispatch
}

// Run starts the dispatch sweep loop and runs until the context is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting dispatch runner")
	return r.dispatch.Run(ctx)
}
