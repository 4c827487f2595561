package bootstrap

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jobmill/jobmill/config"
	"github.com/jobmill/jobmill/internal/adapters/dispatcher"
	reaperadapter "github.com/jobmill/jobmill/internal/adapters/reaper"
	scheduleradapter "github.com/jobmill/jobmill/internal/adapters/scheduler"
	"github.com/jobmill/jobmill/internal/backend"
	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/data/cryptoutil"
	"github.com/jobmill/jobmill/internal/observability/statsd"
	"github.com/jobmill/jobmill/internal/service"
)

// runtimeDeps carries everything the background runners and the shared
// executor need.
type runtimeDeps struct {
	DB     *sql.DB
	Config *config.AppConfig

	DispatchConfig  *core.DispatchConfig
	SchedulerConfig *core.SchedulerConfig
	ReaperConfig    *core.ReaperConfig

	Encryptor       cryptoutil.Encryptor
	Cache           core.CacheRepository
	FailureNotifier service.FailureNotifier

	Logger  *slog.Logger
	Metrics statsd.Sink
}

// runtimeContainer holds the background runners and the executor they
// share. Runners are built eagerly even when their mode is disabled;
// nothing runs until the orchestrator launches them.
type runtimeContainer struct {
	executor        *service.ExecutorService
	dispatchRunner  *dispatcher.Runner
	schedulerRunner *scheduleradapter.Runner
	reaperRunner    *reaperadapter.Runner
}

// buildRuntime wires the dispatcher, the shared executor, and the
// scheduler and reaper loops. Order matters: the executor's agent
// backend publishes through the dispatch service, and the dispatch
// service cancels inline work through the executor.
func buildRuntime(deps runtimeDeps) (runtimeContainer, error) {
	dispatchRunner, err := dispatcher.NewRunner(dispatcher.RunnerOptions{
		DB:      deps.DB,
		Config:  deps.DispatchConfig,
		Logger:  deps.Logger,
		Metrics: deps.Metrics,
	})
	if err != nil {
		return runtimeContainer{}, fmt.Errorf("create dispatch runner: %w", err)
	}

	executor, err := scheduleradapter.NewExecutor(scheduleradapter.RunnerOptions{
		DB:      deps.DB,
		Logger:  deps.Logger,
		Metrics: deps.Metrics,
		PowerShell: backend.PowerShellConfig{
			Bin:        deps.Config.Scheduler.PowerShellBin,
			ScratchDir: deps.Config.Scheduler.ScratchDir,
		},
		Encryptor:       deps.Encryptor,
		Publisher:       dispatchRunner.Service(),
		Cache:           deps.Cache,
		FireGuardTTL:    deps.Config.Scheduler.FireGuardTTL,
		FailureNotifier: deps.FailureNotifier,
		RetryDelay:      deps.Config.Scheduler.RetryDelay,
		RetryOnTimeout:  deps.Config.Scheduler.RetryOnTimeout,
	})
	if err != nil {
		return runtimeContainer{}, fmt.Errorf("create executor: %w", err)
	}
	dispatchRunner.Service().SetCanceller(executor)

	schedulerRunner, err := scheduleradapter.NewRunner(scheduleradapter.RunnerOptions{
		DB:       deps.DB,
		Config:   deps.SchedulerConfig,
		Logger:   deps.Logger,
		Metrics:  deps.Metrics,
		Executor: executor,
	})
	if err != nil {
		return runtimeContainer{}, fmt.Errorf("create scheduler runner: %w", err)
	}

	reaperRunner, err := reaperadapter.NewRunner(reaperadapter.RunnerOptions{
		DB:      deps.DB,
		Config:  deps.ReaperConfig,
		Logger:  deps.Logger,
		Metrics: deps.Metrics,
	})
	if err != nil {
		return runtimeContainer{}, fmt.Errorf("create reaper runner: %w", err)
	}

	return runtimeContainer{
		executor:        executor,
		dispatchRunner:  dispatchRunner,
		schedulerRunner: schedulerRunner,
		reaperRunner:    reaperRunner,
	}, nil
}
