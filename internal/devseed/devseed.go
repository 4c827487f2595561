// Package devseed populates a development database with demo jobs and a
// default connection so a fresh environment has something to schedule.
// Seeding is idempotent: rows that already exist by name are left alone.
package devseed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jobmill/jobmill/internal/data"
	"github.com/jobmill/jobmill/internal/data/cryptoutil"
	"github.com/jobmill/jobmill/internal/domain/model"
	apperrors "github.com/jobmill/jobmill/internal/errors"
	"github.com/jobmill/jobmill/internal/service"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB          *sql.DB
	jobs        *service.JobService
	connections *service.ConnectionService
}

// NewServices constructs all required services for seeding using the provided DB.
func NewServices(db *sql.DB) Services {
	jobs := service.MustNewJobService(service.JobServiceOptions{
		Repo: data.NewJobConfigRepo(db),
	})

	// Seed passwords are demo values; plaintext-at-rest is fine here.
	connections := service.MustNewConnectionService(service.ConnectionServiceOptions{
		Repo: data.NewConnectionRepo(db, cryptoutil.NoopEncryptor{}),
	})

	return Services{
		DB:          db,
		jobs:        jobs,
		connections: connections,
	}
}

// seedConnection is the connection SQL demo jobs reference by name.
var seedConnection = model.CreateConnectionRequest{
	Name:         "local-postgres",
	ServerName:   "localhost",
	Port:         5432,
	DatabaseName: "jobmill_samples",
	Username:     "jobmill",
	Password:     "jobmill",
	Description:  "Local sample database for seeded SQL jobs",
	Driver:       model.ConnectionDriverPostgres,
}

type seedJob struct {
	name        string
	description string
	enabled     bool
	yaml        string
}

func seedJobs() []seedJob {
	return []seedJob{
		{
			name:        "hello-powershell",
			description: "Prints a greeting every morning",
			enabled:     true,
			yaml: `name: hello-powershell
type: powershell
inlineScript: |
  Write-Output "Hello from jobmill at $(Get-Date -Format o)"
schedule:
  type: cron
  expression: "0 6 * * *"
  timezone: UTC
`,
		},
		{
			name:        "sample-row-count",
			description: "Counts rows in the sample database every hour",
			enabled:     false,
			yaml: `name: sample-row-count
type: sql
connection: local-postgres
query: |
  SELECT count(*) AS row_count FROM information_schema.tables
schedule:
  type: cron
  expression: "0 * * * *"
  timezone: UTC
`,
		},
		{
			name:        "agent-disk-report",
			description: "Collects a disk usage report on an agent",
			enabled:     false,
			yaml: `name: agent-disk-report
type: agent_job
steps:
  - name: report
    action: cmd
    command: df -h
schedule:
  type: cron
  expression: "30 6 * * 1"
  timezone: UTC
`,
		},
	}
}

// Run seeds the default connection and the demo jobs.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	if err := ensureConnection(ctx, svcs, logger); err != nil {
		return err
	}
	return ensureJobs(ctx, svcs, logger)
}

func ensureConnection(ctx context.Context, svcs Services, logger *slog.Logger) error {
	_, err := svcs.connections.GetByName(ctx, seedConnection.Name)
	if err == nil {
		logger.InfoContext(ctx, "seed connection already present", "name", seedConnection.Name)
		return nil
	}
	if !apperrors.IsNotFound(err) {
		return fmt.Errorf("check connection %q: %w", seedConnection.Name, err)
	}

	req := seedConnection
	if _, err := svcs.connections.Create(ctx, &req); err != nil {
		return fmt.Errorf("seed connection %q: %w", seedConnection.Name, err)
	}
	logger.InfoContext(ctx, "seeded connection", "name", seedConnection.Name)
	return nil
}

func ensureJobs(ctx context.Context, svcs Services, logger *slog.Logger) error {
	existing, err := svcs.jobs.List(ctx, model.JobListOptions{})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	present := make(map[string]bool, len(existing))
	for _, view := range existing {
		present[view.Name] = true
	}

	for _, sj := range seedJobs() {
		if present[sj.name] {
			logger.InfoContext(ctx, "seed job already present", "name", sj.name)
			continue
		}

		enabled := sj.enabled
		view, err := svcs.jobs.Create(ctx, &model.CreateJobRequest{
			Name:        sj.name,
			Description: sj.description,
			YAML:        sj.yaml,
			CreatedBy:   "devseed",
			Enabled:     &enabled,
		})
		if err != nil {
			return fmt.Errorf("seed job %q: %w", sj.name, err)
		}
		logger.InfoContext(ctx, "seeded job",
			"name", sj.name,
			"job_id", view.ID,
			"job_type", view.JobType,
			"enabled", enabled,
		)
	}
	return nil
}
