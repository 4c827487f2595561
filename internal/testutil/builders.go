// Package testutil provides testing utilities and helpers for the jobmill scheduler.
package testutil

import (
	"fmt"
	"strings"

	"github.com/jobmill/jobmill/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest
// objects for testing. The YAML document is assembled by hand rather than via
// the production renderer so tests exercise real parsing.
type JobRequestBuilder struct {
	name        string
	description string
	createdBy   string
	enabled     *bool
	rawYAML     string

	jobType      model.JobType
	inlineScript string
	query        string
	connection   string
	agentPool    string
	stepScript   string

	scheduleType string
	cronExpr     string
	intervalSecs int
	runDate      string
	timezone     string

	timeout    int
	maxRetries int
	retryDelay int
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults: an
// unscheduled PowerShell job echoing a marker string.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		name:         "test-job",
		createdBy:    "testutil",
		jobType:      model.JobTypePowerShell,
		inlineScript: "Write-Output 'HELLO'",
	}
}

// WithName sets the job name.
func (b *JobRequestBuilder) WithName(name string) *JobRequestBuilder {
	b.name = name
	return b
}

// WithDescription sets the job description.
func (b *JobRequestBuilder) WithDescription(description string) *JobRequestBuilder {
	b.description = description
	return b
}

// WithCreatedBy sets the creating actor.
func (b *JobRequestBuilder) WithCreatedBy(actor string) *JobRequestBuilder {
	b.createdBy = actor
	return b
}

// WithEnabled sets the enabled flag explicitly.
func (b *JobRequestBuilder) WithEnabled(enabled bool) *JobRequestBuilder {
	b.enabled = &enabled
	return b
}

// WithYAML replaces the whole generated document with a raw YAML string.
func (b *JobRequestBuilder) WithYAML(raw string) *JobRequestBuilder {
	b.rawYAML = raw
	return b
}

// AsPowerShell makes the job an inline PowerShell script job.
func (b *JobRequestBuilder) AsPowerShell(inlineScript string) *JobRequestBuilder {
	b.jobType = model.JobTypePowerShell
	b.inlineScript = inlineScript
	return b
}

// AsSQL makes the job a SQL query job against the named connection.
// An empty connection falls back to the default connection at run time.
func (b *JobRequestBuilder) AsSQL(query, connection string) *JobRequestBuilder {
	b.jobType = model.JobTypeSQL
	b.query = query
	b.connection = connection
	return b
}

// AsAgentJob makes the job a single-step agent job targeting the given pool.
func (b *JobRequestBuilder) AsAgentJob(pool, stepScript string) *JobRequestBuilder {
	b.jobType = model.JobTypeAgent
	b.agentPool = pool
	b.stepScript = stepScript
	return b
}

// WithCronSchedule adds a six-field cron schedule.
func (b *JobRequestBuilder) WithCronSchedule(expr, timezone string) *JobRequestBuilder {
	b.scheduleType = "cron"
	b.cronExpr = expr
	b.timezone = timezone
	return b
}

// WithIntervalSchedule adds a fixed-delay schedule in whole seconds.
func (b *JobRequestBuilder) WithIntervalSchedule(seconds int) *JobRequestBuilder {
	b.scheduleType = "interval"
	b.intervalSecs = seconds
	return b
}

// WithDateSchedule adds a fire-once schedule at the given ISO-8601 instant.
func (b *JobRequestBuilder) WithDateSchedule(runDate, timezone string) *JobRequestBuilder {
	b.scheduleType = "date"
	b.runDate = runDate
	b.timezone = timezone
	return b
}

// WithTimeout sets the per-execution timeout in seconds.
func (b *JobRequestBuilder) WithTimeout(seconds int) *JobRequestBuilder {
	b.timeout = seconds
	return b
}

// WithRetries sets max_retries and retry_delay.
func (b *JobRequestBuilder) WithRetries(maxRetries, retryDelaySeconds int) *JobRequestBuilder {
	b.maxRetries = maxRetries
	b.retryDelay = retryDelaySeconds
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return &model.CreateJobRequest{
		Name:        b.name,
		Description: b.description,
		YAML:        b.buildYAML(),
		CreatedBy:   b.createdBy,
		Enabled:     b.enabled,
	}
}

func (b *JobRequestBuilder) buildYAML() string {
	if b.rawYAML != "" {
		return b.rawYAML
	}

	var lines []string
	lines = append(lines, "name: "+b.name, "type: "+string(b.jobType))

	switch b.jobType {
	case model.JobTypePowerShell:
		lines = append(lines, "inlineScript: "+yamlScalar(b.inlineScript))
	case model.JobTypeSQL:
		lines = append(lines, "query: "+yamlScalar(b.query))
		if b.connection != "" {
			lines = append(lines, "connection: "+b.connection)
		}
	case model.JobTypeAgent:
		if b.agentPool != "" {
			lines = append(lines, "agent_pool: "+b.agentPool)
		}
		lines = append(lines,
			"steps:",
			"  - name: step-1",
			"    action: powershell",
			"    script: "+yamlScalar(b.stepScript),
		)
	}

	if b.scheduleType != "" {
		lines = append(lines, "schedule:", "  type: "+b.scheduleType)
		switch b.scheduleType {
		case "cron":
			lines = append(lines, fmt.Sprintf("  cron: %q", b.cronExpr))
		case "interval":
			lines = append(lines, "  interval:", fmt.Sprintf("    seconds: %d", b.intervalSecs))
		case "date":
			lines = append(lines, fmt.Sprintf("  run_date: %q", b.runDate))
		}
		if b.timezone != "" {
			lines = append(lines, "  timezone: "+b.timezone)
		}
	}

	if b.timeout > 0 {
		lines = append(lines, fmt.Sprintf("timeout: %d", b.timeout))
	}
	if b.maxRetries > 0 {
		lines = append(lines, fmt.Sprintf("max_retries: %d", b.maxRetries))
	}
	if b.retryDelay > 0 {
		lines = append(lines, fmt.Sprintf("retry_delay: %d", b.retryDelay))
	}

	return strings.Join(lines, "\n") + "\n"
}

// yamlScalar quotes values that would not survive as plain YAML scalars.
func yamlScalar(v string) string {
	if strings.ContainsAny(v, ":#*&{}[]\n") || strings.HasPrefix(v, " ") {
		return fmt.Sprintf("%q", v)
	}
	return v
}

// Common test job request presets.

// PowerShellJobRequest creates an inline PowerShell job request.
func PowerShellJobRequest(name string) *model.CreateJobRequest {
	return NewJobRequest().WithName(name).Build()
}

// SQLJobRequest creates a SQL job request running SELECT 1 on the default connection.
func SQLJobRequest(name string) *model.CreateJobRequest {
	return NewJobRequest().WithName(name).AsSQL("SELECT 1 AS one", "").Build()
}

// AgentJobRequest creates a single-step agent job request on the default pool.
func AgentJobRequest(name string) *model.CreateJobRequest {
	return NewJobRequest().WithName(name).AsAgentJob("", "Write-Output 'step'").Build()
}

// CronJobRequest creates a job request firing every two seconds by cron.
func CronJobRequest(name string) *model.CreateJobRequest {
	return NewJobRequest().WithName(name).WithCronSchedule("*/2 * * * * *", "UTC").Build()
}

// IntervalJobRequest creates a job request firing on a fixed interval.
func IntervalJobRequest(name string, seconds int) *model.CreateJobRequest {
	return NewJobRequest().WithName(name).WithIntervalSchedule(seconds).Build()
}

// ConnectionRequest creates a named SQL connection request with test defaults.
func ConnectionRequest(name string) *model.CreateConnectionRequest {
	return &model.CreateConnectionRequest{
		Name:         name,
		ServerName:   "localhost",
		Port:         5432,
		DatabaseName: "jobmill",
		Username:     "jobmill",
		Password:     "jobmill",
		Driver:       model.ConnectionDriverPostgres,
	}
}

// AgentRegistration creates an agent registration request with test defaults.
func AgentRegistration(name string) *model.RegisterAgentRequest {
	return &model.RegisterAgentRequest{
		Name:        name,
		PoolID:      model.DefaultAgentPool,
		EndpointURL: "http://127.0.0.1:9199",
		MaxParallel: 2,
	}
}
