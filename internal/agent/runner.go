package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jobmill/jobmill/config"
	"github.com/jobmill/jobmill/internal/domain/model"
)

const (
	// drainTimeout bounds how long shutdown waits for running executions.
	drainTimeout = 30 * time.Second

	// statusPhaseStarting is reported once the workspace is ready.
	statusPhaseStarting = "starting"
)

// RunnerOptions configures the agent runner.
type RunnerOptions struct {
	Config config.AgentConfig
	// Client overrides the HTTP client used for server calls, mainly
	// for tests.
	Client *http.Client
	Logger *slog.Logger
	// Version is reported on registration and heartbeats.
	Version string
}

// Runner is the long-running agent process: it registers with the
// server, serves the assignment endpoint, heartbeats with host
// telemetry, and executes assigned jobs step by step.
type Runner struct {
	cfg     config.AgentConfig
	client  *serverClient
	steps   *stepRunner
	logger  *slog.Logger
	version string

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates an agent runner from a validated config.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "agent", "agent", opts.Config.Name)

	return &Runner{
		cfg:     opts.Config,
		client:  newServerClient(opts.Config.ServerURL, opts.Client, logger),
		steps:   newStepRunner(opts.Config),
		logger:  logger,
		version: opts.Version,
		active:  make(map[string]context.CancelFunc),
	}, nil
}

// Run registers, serves assignments, and heartbeats until the context is
// cancelled. Running executions get a bounded drain on shutdown.
func (r *Runner) Run(ctx context.Context) error {
	resp, err := r.register(ctx)
	if err != nil {
		return err
	}

	interval := r.cfg.HeartbeatInterval
	if resp.HeartbeatInterval > 0 {
		interval = time.Duration(resp.HeartbeatInterval) * time.Second
	}
	r.logger.InfoContext(ctx, "agent registered",
		"agent_id", resp.AgentID,
		"pool", resp.PoolID,
		"heartbeat_interval", interval,
		"endpoint", r.cfg.AdvertiseURL)

	server := &http.Server{
		Addr:         r.cfg.ListenAddr,
		Handler:      r.routes(ctx),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		r.logger.InfoContext(ctx, "agent endpoint listening", "addr", r.cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	runErr := r.heartbeatLoop(ctx, interval, serveErr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("agent endpoint shutdown failed", "error", err)
	}

	r.drain()
	return runErr
}

// register announces the agent with its capabilities. Re-registering the
// same name rotates the token server-side.
func (r *Runner) register(ctx context.Context) (*model.RegisterAgentResponse, error) {
	caps, err := json.Marshal(map[string]any{
		"actions": []string{"powershell", "cmd", "python"},
		"os":      runtime.GOOS,
	})
	if err != nil {
		return nil, fmt.Errorf("encode capabilities: %w", err)
	}

	return r.client.Register(ctx, &model.RegisterAgentRequest{
		Name:         r.cfg.Name,
		PoolID:       r.cfg.Pool,
		EndpointURL:  r.cfg.AdvertiseURL,
		Capabilities: caps,
		MaxParallel:  r.cfg.MaxParallel,
		AgentVersion: r.version,
	})
}

// heartbeatLoop reports telemetry until the context ends or the local
// endpoint fails. A rejected token triggers one re-registration; the
// server may have been rebuilt since we registered.
func (r *Runner) heartbeatLoop(ctx context.Context, interval time.Duration, serveErr <-chan error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-serveErr:
			return fmt.Errorf("agent endpoint: %w", err)
		case <-ticker.C:
			if err := r.client.Heartbeat(ctx, r.telemetry(ctx)); err != nil {
				r.logger.WarnContext(ctx, "heartbeat failed", "error", err)
				if strings.Contains(err.Error(), "responded 401") {
					if _, regErr := r.register(ctx); regErr != nil {
						r.logger.ErrorContext(ctx, "re-registration failed", "error", regErr)
					} else {
						r.logger.InfoContext(ctx, "re-registered after rejected token")
					}
				}
			}
		}
	}
}

// telemetry samples host metrics for the heartbeat. Failures leave the
// fields nil rather than blocking the beat.
func (r *Runner) telemetry(ctx context.Context) *model.AgentHeartbeat {
	beat := &model.AgentHeartbeat{
		ActiveJobs:   r.activeCount(),
		AgentVersion: r.version,
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		beat.CPUPercent = &percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		used := vm.UsedPercent
		beat.MemoryPercent = &used
	}
	return beat
}

func (r *Runner) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// drain waits for running executions to finish, bounded so a wedged step
// cannot hang agent shutdown. Steps themselves were already cancelled
// through the run context.
func (r *Runner) drain() {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		r.logger.Warn("executions did not drain before shutdown")
	}
}
