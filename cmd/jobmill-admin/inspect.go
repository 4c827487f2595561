package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jobmill/jobmill/internal/bootstrap"
	"github.com/jobmill/jobmill/internal/data"
	"github.com/jobmill/jobmill/internal/domain/jobdef"
	"github.com/jobmill/jobmill/internal/domain/model"
	"github.com/jobmill/jobmill/internal/domain/trigger"
	"github.com/jobmill/jobmill/internal/service"
)

const defaultQueryTimeout = 30 * time.Second

type validateJobOptions struct {
	File string
}

type listJobsOptions struct {
	Timeout     time.Duration
	Limit       int
	JobType     string
	EnabledOnly bool
}

type jobHistoryOptions struct {
	Timeout time.Duration
	JobID   string
	Limit   int
}

type agentsOptions struct {
	Timeout time.Duration
}

func runValidateJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseValidateJobFlags(args)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(opts.File)
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.File, err)
	}

	report := validateDefinition(string(raw), time.Now())
	if printErr := printValidationReport(os.Stdout, opts.File, report); printErr != nil {
		return printErr
	}
	if report.Status == model.ValidationFailed {
		return errors.New("validation failed")
	}
	return nil
}

// validateDefinition mirrors the server's lint endpoint: structural checks
// per job type plus the schedule graded against now.
func validateDefinition(yaml string, now time.Time) *model.ValidationReport {
	report := model.NewValidationReport()
	doc, err := jobdef.Parse(yaml)
	if err != nil {
		report.Fail("yaml_configuration", err.Error())
		return report
	}
	report.Merge(doc.Validate())
	report.Merge(trigger.Validate(doc.Schedule, now))
	return report
}

func printValidationReport(w *os.File, file string, report *model.ValidationReport) error {
	if err := writef(w, "%s: %s\n", file, report.Status); err != nil {
		return fmt.Errorf("print validation status: %w", err)
	}
	if len(report.Checks) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writef(tw, "LEVEL\tFIELD\tMESSAGE\n"); err != nil {
		return fmt.Errorf("print validation header: %w", err)
	}
	for _, check := range report.Checks {
		field := check.Field
		if field == "" {
			field = "-"
		}
		if err := writef(tw, "%s\t%s\t%s\n", check.Level, field, check.Message); err != nil {
			return fmt.Errorf("print validation check: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush validation table: %w", err)
	}
	return nil
}

func runListJobs(cmdCtx *commandContext, args []string) error {
	opts, err := parseListJobsFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		jobs := service.MustNewJobService(service.JobServiceOptions{
			Repo:   data.NewJobConfigRepo(db),
			Logger: cmdCtx.Logger,
		})

		views, err := jobs.List(ctx, model.JobListOptions{
			EnabledOnly: opts.EnabledOnly,
			JobType:     model.JobType(opts.JobType),
			Limit:       opts.Limit,
		})
		if err != nil {
			return err
		}
		return printJobViews(views)
	})
}

func printJobViews(views []*model.JobView) error {
	if len(views) == 0 {
		return writeln(os.Stdout, "No jobs found.")
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(tw, "JOB ID\tNAME\tTYPE\tENABLED\tSCHEDULE\tTIMEZONE\tMODIFIED\n"); err != nil {
		return fmt.Errorf("print job header: %w", err)
	}
	for _, v := range views {
		schedule := v.ScheduleSummary
		if schedule == "" {
			schedule = "-"
		}
		tz := v.Timezone
		if tz == "" {
			tz = "-"
		}
		if err := writef(tw, "%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
			v.ID,
			v.Name,
			v.JobType,
			v.Enabled,
			schedule,
			tz,
			v.ModifiedDate.Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("print job row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush job table: %w", err)
	}
	return nil
}

func runJobHistory(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobHistoryFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		history := service.MustNewExecutionService(service.ExecutionServiceOptions{
			Repo:   data.NewExecutionRepo(db),
			Logger: cmdCtx.Logger,
		})

		rows, err := history.ListForJob(ctx, opts.JobID, opts.Limit)
		if err != nil {
			return err
		}
		return printExecutions(rows)
	})
}

func printExecutions(rows []*model.Execution) error {
	if len(rows) == 0 {
		return writeln(os.Stdout, "No executions found.")
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(tw, "EXECUTION ID\tSTATUS\tMODE\tSTART\tDURATION\tRETRY\tERROR\n"); err != nil {
		return fmt.Errorf("print history header: %w", err)
	}
	for _, row := range rows {
		if err := writef(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			row.ID,
			row.Status,
			row.ExecutionMode,
			row.StartTime.Format(time.RFC3339),
			formatDuration(row.DurationSeconds),
			row.RetryCount,
			row.MaxRetries,
			truncate(row.ErrorMessage, 60),
		); err != nil {
			return fmt.Errorf("print history row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush history table: %w", err)
	}
	return nil
}

func runAgents(cmdCtx *commandContext, args []string) error {
	opts, err := parseAgentsFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		agents := service.MustNewAgentService(service.AgentServiceOptions{
			Agents:   data.NewAgentRepo(db),
			History:  data.NewExecutionRepo(db),
			TokenKey: bootstrap.KeyFromSecret(cmdCtx.Config.SecretKey),
			Logger:   cmdCtx.Logger,
		})

		list, err := agents.List(ctx)
		if err != nil {
			return err
		}
		return printAgents(list, time.Now())
	})
}

func printAgents(agents []*model.Agent, now time.Time) error {
	if len(agents) == 0 {
		return writeln(os.Stdout, "No agents registered.")
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(tw, "NAME\tPOOL\tSTATUS\tJOBS\tLAST HEARTBEAT\tVERSION\tENDPOINT\n"); err != nil {
		return fmt.Errorf("print agent header: %w", err)
	}
	for _, a := range agents {
		version := a.AgentVersion
		if version == "" {
			version = "-"
		}
		if err := writef(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			a.Name,
			a.PoolID,
			a.Status,
			a.ActiveJobs,
			a.MaxParallel,
			formatHeartbeat(a.LastHeartbeat, now),
			version,
			a.EndpointURL,
		); err != nil {
			return fmt.Errorf("print agent row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush agent table: %w", err)
	}
	return nil
}

func parseValidateJobFlags(args []string) (validateJobOptions, error) {
	fs := flag.NewFlagSet("validate-job", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts validateJobOptions
	fs.StringVar(&opts.File, "file", "", "Path to the YAML job definition to lint")

	if err := fs.Parse(args); err != nil {
		return validateJobOptions{}, err
	}
	if opts.File == "" {
		return validateJobOptions{}, errors.New("--file is required")
	}
	return opts, nil
}

func parseListJobsFlags(args []string) (listJobsOptions, error) {
	fs := flag.NewFlagSet("list-jobs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := listJobsOptions{Timeout: defaultQueryTimeout}
	fs.DurationVar(&opts.Timeout, "timeout", defaultQueryTimeout, "Maximum duration to wait for the listing")
	fs.IntVar(&opts.Limit, "limit", 0, "Maximum number of jobs to list (0 for all)")
	fs.StringVar(&opts.JobType, "type", "", "Filter by job type (powershell, sql, agent_job)")
	fs.BoolVar(&opts.EnabledOnly, "enabled-only", false, "List only enabled jobs")

	if err := fs.Parse(args); err != nil {
		return listJobsOptions{}, err
	}
	if opts.Timeout <= 0 {
		return listJobsOptions{}, errors.New("--timeout must be greater than zero")
	}
	if opts.Limit < 0 {
		return listJobsOptions{}, errors.New("--limit must be >= 0")
	}
	return opts, nil
}

func parseJobHistoryFlags(args []string) (jobHistoryOptions, error) {
	fs := flag.NewFlagSet("job-history", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := jobHistoryOptions{Timeout: defaultQueryTimeout, Limit: 20}
	fs.DurationVar(&opts.Timeout, "timeout", defaultQueryTimeout, "Maximum duration to wait for the listing")
	fs.StringVar(&opts.JobID, "job-id", "", "Job whose execution history to show")
	fs.IntVar(&opts.Limit, "limit", 20, "Maximum number of executions to show")

	if err := fs.Parse(args); err != nil {
		return jobHistoryOptions{}, err
	}
	if opts.JobID == "" {
		return jobHistoryOptions{}, errors.New("--job-id is required")
	}
	if opts.Timeout <= 0 {
		return jobHistoryOptions{}, errors.New("--timeout must be greater than zero")
	}
	if opts.Limit <= 0 {
		return jobHistoryOptions{}, errors.New("--limit must be greater than zero")
	}
	return opts, nil
}

func parseAgentsFlags(args []string) (agentsOptions, error) {
	fs := flag.NewFlagSet("agents", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := agentsOptions{Timeout: defaultQueryTimeout}
	fs.DurationVar(&opts.Timeout, "timeout", defaultQueryTimeout, "Maximum duration to wait for the listing")

	if err := fs.Parse(args); err != nil {
		return agentsOptions{}, err
	}
	if opts.Timeout <= 0 {
		return agentsOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func formatDuration(seconds *float64) string {
	if seconds == nil {
		return "-"
	}
	return (time.Duration(*seconds * float64(time.Second))).Round(time.Millisecond).String()
}

func formatHeartbeat(last *time.Time, now time.Time) string {
	if last == nil {
		return "never"
	}
	age := now.Sub(*last).Round(time.Second)
	if age < 0 {
		age = 0
	}
	return fmt.Sprintf("%s ago", age)
}

func truncate(s string, n int) string {
	if s == "" {
		return "-"
	}
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
