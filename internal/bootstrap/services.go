package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jobmill/jobmill/config"
	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/data"
	"github.com/jobmill/jobmill/internal/observability/notify/pagerduty"
	"github.com/jobmill/jobmill/internal/observability/notify/slack"
	"github.com/jobmill/jobmill/internal/observability/statsd"
	"github.com/jobmill/jobmill/internal/service"
	"github.com/jobmill/jobmill/internal/service/failurenotifier"
)

// shutdownWaitTimeout bounds how long gracefulStop waits for each
// background service to drain after the context is cancelled.
const shutdownWaitTimeout = 15 * time.Second

// ObservabilityContainer holds the metrics sink and failure notifier
// shared across services.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig

	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// Sink returns the metrics sink as the interface services accept, or a
// true nil when metrics are unavailable.
func (o ObservabilityContainer) Sink() statsd.Sink {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink
}

// ServiceContainer holds all initialized services.
type ServiceContainer struct {
	Jobs        *service.JobService
	Executions  *service.ExecutionService
	Agents      *service.AgentService
	Connections *service.ConnectionService

	// Executor runs jobs for both the scheduler loop and the HTTP
	// run-now endpoint. Owned by the container; gracefulStop closes it.
	Executor *service.ExecutorService

	// Dispatch is the shared dispatch service. The executor's agent
	// backend publishes through it.
	Dispatch *service.DispatchService

	Observability ObservabilityContainer

	runtime runtimeContainer
}

// ServiceDeps contains the dependencies needed to create services.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices creates all services from the given dependencies. The
// dispatcher is built before the executor so the agent backend can
// publish through it; the executor then binds back as the dispatcher's
// inline canceller.
func NewServices(deps ServiceDeps) (*ServiceContainer, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	if deps.DB == nil {
		return nil, errors.New("database connection is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := deps.Config
	obs := buildObservability(cfg, logger)

	var cache core.CacheRepository
	if deps.RedisClient != nil {
		cache = data.NewRedisCacheRepo(deps.RedisClient)
	}

	encryptor := CreateEncryptor(cfg.SecretKey, logger)

	dispatchCore := cfg.Dispatch.Core()
	schedulerCore := cfg.Scheduler.Core()
	reaperCore := cfg.Reaper.Core()

	var failures service.FailureNotifier
	if obs.FailureNotifier != nil && obs.FailureNotifier.Enabled() {
		failures = obs.FailureNotifier
	}

	runtime, err := buildRuntime(runtimeDeps{
		DB:              deps.DB,
		Config:          cfg,
		DispatchConfig:  &dispatchCore,
		SchedulerConfig: &schedulerCore,
		ReaperConfig:    &reaperCore,
		Encryptor:       encryptor,
		Cache:           cache,
		FailureNotifier: failures,
		Logger:          logger,
		Metrics:         obs.Sink(),
	})
	if err != nil {
		return nil, err
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:   data.NewJobConfigRepo(deps.DB),
		Cache:  cache,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create job service: %w", err)
	}

	executions, err := service.NewExecutionService(service.ExecutionServiceOptions{
		Repo:   data.NewExecutionRepo(deps.DB),
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create execution service: %w", err)
	}

	agents, err := service.NewAgentService(service.AgentServiceOptions{
		Agents:   data.NewAgentRepo(deps.DB),
		History:  data.NewExecutionRepo(deps.DB),
		TokenKey: KeyFromSecret(cfg.SecretKey),
		Config:   &dispatchCore,
		Logger:   logger,
		Metrics:  obs.Sink(),
	})
	if err != nil {
		return nil, fmt.Errorf("create agent service: %w", err)
	}

	connections, err := service.NewConnectionService(service.ConnectionServiceOptions{
		Repo:   data.NewConnectionRepo(deps.DB, encryptor),
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create connection service: %w", err)
	}

	return &ServiceContainer{
		Jobs:          jobs,
		Executions:    executions,
		Agents:        agents,
		Connections:   connections,
		Executor:      runtime.executor,
		Dispatch:      runtime.dispatchRunner.Service(),
		Observability: obs,
		runtime:       runtime,
	}, nil
}

// buildObservability builds the metrics sink and failure notifier.
// Failures here are logged and tolerated; the server runs without them.
func buildObservability(cfg *config.AppConfig, logger *slog.Logger) ObservabilityContainer {
	container := ObservabilityContainer{
		MetricsConfig:  cfg.Observability.Metrics,
		NotifierConfig: cfg.Observability.Notifications,
	}

	sink, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Observability.Metrics.IsEnabled(),
		Address: cfg.Observability.Metrics.StatsdAddress,
		Prefix:  "jobmill",
		Logger:  logger,
	})
	if err != nil {
		logger.Warn("statsd client unavailable, metrics disabled", "error", err)
	} else {
		container.MetricsSink = sink
		if cfg.Observability.Metrics.IsEnabled() {
			logger.Info("metrics enabled", "statsd_address", cfg.Observability.Metrics.StatsdAddress)
		}
	}

	container.FailureNotifier = buildFailureNotifier(cfg.Observability.Notifications, logger)
	return container
}

// buildFailureNotifier assembles the configured notification sinks.
// Returns nil when notifications are disabled or no sink could be built.
func buildFailureNotifier(cfg config.ObservabilityNotificationsConfig, logger *slog.Logger) *failurenotifier.Service {
	if !cfg.Enabled {
		return nil
	}

	var sinks []failurenotifier.SinkRegistration

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:   cfg.Slack.WebhookURL,
			Channel:      cfg.Slack.Channel,
			Username:     cfg.Slack.Username,
			JobURLPrefix: cfg.Slack.JobURLPrefix,
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
		})
		if err != nil {
			logger.Warn("slack notifications disabled", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Warn("pagerduty notifications disabled", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	if len(sinks) == 0 {
		return nil
	}

	logger.Info("failure notifications enabled", "sinks", len(sinks))
	return failurenotifier.NewService(failurenotifier.Options{
		Logger: logger,
		Sinks:  sinks,
	})
}

// backgroundService describes a long-running loop tied to a service mode.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// runningService tracks a launched background loop for shutdown draining.
type runningService struct {
	name string
	done chan struct{}
}

// ServiceOrchestrationConfig contains the dependencies for running the
// enabled services until shutdown.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	DB       *sql.DB
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts every enabled service and blocks until
// a shutdown signal arrives or a background service fails. It then stops
// everything gracefully and returns the failure, if any.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil || cfg.Services == nil {
		return errors.New("orchestration config, app config, and services are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	background := cfg.Services.backgroundServices()
	errCh := make(chan error, errorChannelBufferSize(len(background)))

	var server *http.Server
	if cfg.Config.IsHTTPServerEnabled() {
		adminAuth, err := BuildAdminAuth(ctx, cfg.Config.Auth, logger)
		if err != nil {
			return fmt.Errorf("build admin auth: %w", err)
		}
		server, err = StartHTTPServer(&HTTPServerConfig{
			Config:    cfg.Config,
			Services:  cfg.Services,
			AdminAuth: adminAuth,
			DB:        cfg.DB,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}

	running := make([]runningService, 0, len(background))
	for _, svc := range background {
		if !cfg.Config.IsServiceEnabled(svc.mode) {
			continue
		}
		running = append(running, launchBackground(ctx, svc, errCh, logger))
	}

	logger.Info("services started", "services", GetEnabledServices(cfg.Config))

	runErr := waitForShutdown(errCh, logger)
	gracefulStop(ctx, cancel, server, cfg.Services, running, logger)
	return runErr
}

// backgroundServices lists the loops the orchestrator can launch, in
// start order.
func (c *ServiceContainer) backgroundServices() []backgroundService {
	return []backgroundService{
		{mode: config.ServiceModeScheduler, name: "scheduler", start: c.runtime.schedulerRunner.Run},
		{mode: config.ServiceModeDispatcher, name: "dispatcher", start: c.runtime.dispatchRunner.Run},
		{mode: config.ServiceModeReaper, name: "reaper", start: c.runtime.reaperRunner.Run},
	}
}

// launchBackground starts one background loop. Context cancellation is a
// normal exit; anything else is reported once on errCh.
func launchBackground(ctx context.Context, svc backgroundService, errCh chan<- error, logger *slog.Logger) runningService {
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("starting background service", "service", svc.name)
		if err := svc.start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case errCh <- fmt.Errorf("%s: %w", svc.name, err):
			default:
			}
		}
	}()
	return runningService{name: svc.name, done: done}
}

// waitForShutdown blocks until SIGINT/SIGTERM or a background failure.
func waitForShutdown(errCh <-chan error, logger *slog.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		return nil
	case err := <-errCh:
		logger.Error("background service failed", "error", err)
		return err
	}
}

// gracefulStop cancels the background loops, drains them, and shuts the
// HTTP server and executor down.
func gracefulStop(ctx context.Context, cancel context.CancelFunc, server *http.Server, services *ServiceContainer, running []runningService, logger *slog.Logger) {
	cancel()

	if err := ShutdownHTTPServer(ShutdownConfig{
		Context: context.Background(),
		Server:  server,
		Logger:  logger,
	}); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	for _, svc := range running {
		waitForService(svc, logger)
	}

	if services.Executor != nil {
		services.Executor.Close()
	}

	logger.InfoContext(ctx, "shutdown complete")
}

// waitForService waits for one background loop to drain, with a bound so
// a wedged loop cannot hang shutdown.
func waitForService(svc runningService, logger *slog.Logger) {
	select {
	case <-svc.done:
		logger.Info("background service stopped", "service", svc.name)
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("background service did not stop in time", "service", svc.name)
	}
}

// errorChannelBufferSize sizes the failure channel so every background
// loop plus the HTTP server can report without blocking.
func errorChannelBufferSize(background int) int {
	return background + 1
}
