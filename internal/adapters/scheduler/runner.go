// Package scheduler provides adapters for running the scheduler loop.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobmill/jobmill/internal/backend"
	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/data"
	"github.com/jobmill/jobmill/internal/data/cryptoutil"
	domainjob "github.com/jobmill/jobmill/internal/domain/job"
	"github.com/jobmill/jobmill/internal/observability/statsd"
	"github.com/jobmill/jobmill/internal/service"
)

// Runner provides a simple adapter to run the scheduler loop. It constructs
// the scheduler service, its executor and backends, and runs the fire plan
// until the context is cancelled.
type Runner struct {
	scheduler *service.SchedulerService
	logger    *slog.Logger

	// ownedExecutor is set when the runner built the executor itself and
	// therefore owns its shutdown.
	ownedExecutor *service.ExecutorService
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB      *sql.DB
	Config  *core.SchedulerConfig
	Logger  *slog.Logger
	Metrics statsd.Sink

	// PowerShell tunes the local script backend built by the runner.
	PowerShell backend.PowerShellConfig
	// Encryptor unlocks stored connection credentials for the sql backend.
	// Without it sql jobs fail with an unknown-type error.
	Encryptor cryptoutil.Encryptor
	// Publisher receives agent executions. Without it agent jobs fail with
	// an unknown-type error.
	Publisher core.DispatchPublisher
	// Cache enables the cross-replica fire guard. FireGuardTTL bounds
	// the fire markers; zero uses the guard default.
	Cache        core.CacheRepository
	FireGuardTTL time.Duration
	// FailureNotifier fans out final failures (Slack, PagerDuty).
	FailureNotifier service.FailureNotifier

	// Optional dependency injections for testing/decoupling
	Jobs     core.JobConfigRepository
	Executor core.JobExecutor
	Notifier domainjob.Notifier

	// RetryDelay and RetryOnTimeout set the retry defaults applied to
	// jobs that do not declare their own. Zero delay keeps the service
	// default.
	RetryDelay     time.Duration
	RetryOnTimeout bool
}

// NewRunner creates a new scheduler runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	jobs := opts.Jobs
	if jobs == nil {
		jobs = data.NewJobConfigRepo(opts.DB)
	}

	executor := opts.Executor
	var owned *service.ExecutorService
	if executor == nil {
		built, err := wireExecutorService(opts, jobs)
		if err != nil {
			return nil, fmt.Errorf("wire executor service: %w", err)
		}
		executor = built
		owned = built
	}

	notifier := opts.Notifier
	if notifier == nil && opts.DB != nil {
		built, err := domainjob.NewNotifier(domainjob.NotifierOptions{
			Waiter: data.NewNotificationWaiter(opts.DB),
		})
		if err != nil {
			return nil, fmt.Errorf("wire job notifier: %w", err)
		}
		notifier = built
	}

	scheduler, err := service.NewSchedulerService(service.SchedulerServiceOptions{
		Jobs:     jobs,
		Executor: executor,
		Notifier: notifier,
		Config:   opts.Config,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire scheduler service: %w", err)
	}

	return &Runner{
		scheduler:     scheduler,
		logger:        opts.Logger,
		ownedExecutor: owned,
	}, nil
}

// NewExecutor builds a standalone executor with every backend the options
// support, without the scheduler loop around it. Callers that share one
// executor between the loop and the HTTP run endpoint build it here and
// inject it through RunnerOptions.Executor. The caller owns Close.
func NewExecutor(opts RunnerOptions) (*service.ExecutorService, error) {
	if opts.DB == nil {
		return nil, errors.New("database connection is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	jobs := opts.Jobs
	if jobs == nil {
		jobs = data.NewJobConfigRepo(opts.DB)
	}
	return wireExecutorService(opts, jobs)
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && (opts.Jobs == nil || opts.Executor == nil) {
		return errors.New("database connection is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// wireExecutorService builds the executor with every backend the options
// can support. Backends whose dependencies are absent are left out, so
// their job types fail at dispatch instead of at startup.
func wireExecutorService(opts RunnerOptions, jobs core.JobConfigRepository) (*service.ExecutorService, error) {
	backends := []core.Backend{
		backend.NewPowerShellBackend(backend.PowerShellBackendOptions{
			Config: opts.PowerShell,
			Logger: opts.Logger,
		}),
	}

	if opts.Encryptor != nil {
		sqlBackend, err := backend.NewSQLBackend(backend.SQLBackendOptions{
			Connections: data.NewConnectionRepo(opts.DB, opts.Encryptor),
			Logger:      opts.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("wire sql backend: %w", err)
		}
		backends = append(backends, sqlBackend)
	}

	if opts.Publisher != nil {
		agentBackend, err := backend.NewAgentBackend(backend.AgentBackendOptions{
			Publisher: opts.Publisher,
			Logger:    opts.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("wire agent backend: %w", err)
		}
		backends = append(backends, agentBackend)
	}

	var guard *core.FireGuard
	if opts.Cache != nil {
		guard = core.NewFireGuard(core.FireGuardOptions{
			Cache:  opts.Cache,
			Config: core.FireGuardConfig{TTL: opts.FireGuardTTL},
		})
	}

	var retryPolicy *domainjob.RetryPolicy
	if opts.RetryDelay > 0 {
		built, err := domainjob.NewRetryPolicy(opts.RetryDelay, opts.RetryOnTimeout)
		if err != nil {
			return nil, fmt.Errorf("wire retry policy: %w", err)
		}
		retryPolicy = built
	}

	return service.NewExecutorService(service.ExecutorServiceOptions{
		Jobs:            jobs,
		History:         data.NewExecutionRepo(opts.DB),
		Backends:        core.NewBackendRegistry(backends...),
		FireGuard:       guard,
		RetryPolicy:     retryPolicy,
		FailureNotifier: opts.FailureNotifier,
		Logger:          opts.Logger,
		Metrics:         opts.Metrics,
	})
}

// Executor exposes the runner's executor so callers can share it, for
// example as the canceller behind agent-side cancellation.
func (r *Runner) Executor() *service.ExecutorService {
	return r.ownedExecutor
}

// Run starts the scheduler loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting scheduler runner")
	defer func() {
		if r.ownedExecutor != nil {
			r.ownedExecutor.Close()
		}
	}()
	return r.scheduler.Run(ctx)
}
