// Command jobmill-agent is the standalone job agent: it registers with a
// jobmill server, accepts pushed agent-job assignments, runs their steps
// in per-execution workspaces, and reports results back.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jobmill/jobmill/internal/agent"
	"github.com/jobmill/jobmill/internal/bootstrap"
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadAgentConfig()
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting jobmill agent",
		"name", cfg.Name,
		"pool", cfg.Pool,
		"server", cfg.ServerURL,
		"max_parallel", cfg.MaxParallel)

	runner, err := agent.NewRunner(agent.RunnerOptions{
		Config:  cfg,
		Logger:  logger,
		Version: version,
	})
	if err != nil {
		return err
	}

	return runner.Run(ctx)
}
