// Package jobdef parses, renders, and validates the YAML job definition
// format. The YAML blob stored in job_configurations_v2 is the only
// persisted shape; everything else (list views, trigger schedules, backend
// inputs) is derived from the parsed Document.
package jobdef

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jobmill/jobmill/internal/domain/model"
)

const (
	// DefaultTimeoutSeconds applies when a definition names no timeout.
	DefaultTimeoutSeconds = 300
	// DefaultMaxRows bounds SQL rowsets when max_rows is absent.
	DefaultMaxRows = 1000
	// DefaultExecutionPolicy is passed to powershell.exe when the
	// definition names none.
	DefaultExecutionPolicy = "RemoteSigned"
)

// ScheduleType discriminates the schedule block.
type ScheduleType string

const (
	// ScheduleTypeCron fires on a six-field cron expression.
	ScheduleTypeCron ScheduleType = "cron"
	// ScheduleTypeInterval fires every fixed duration.
	ScheduleTypeInterval ScheduleType = "interval"
	// ScheduleTypeDate fires once at a fixed instant.
	ScheduleTypeDate ScheduleType = "date"
)

// Valid returns true if the ScheduleType is known.
func (t ScheduleType) Valid() bool {
	return t == ScheduleTypeCron || t == ScheduleTypeInterval || t == ScheduleTypeDate
}

// Interval is the fixed-delay schedule block.
type Interval struct {
	Days    int `yaml:"days,omitempty"    json:"days,omitempty"`
	Hours   int `yaml:"hours,omitempty"   json:"hours,omitempty"`
	Minutes int `yaml:"minutes,omitempty" json:"minutes,omitempty"`
	Seconds int `yaml:"seconds,omitempty" json:"seconds,omitempty"`
}

// Duration converts the interval block to a time.Duration.
func (i Interval) Duration() time.Duration {
	return time.Duration(i.Days)*24*time.Hour +
		time.Duration(i.Hours)*time.Hour +
		time.Duration(i.Minutes)*time.Minute +
		time.Duration(i.Seconds)*time.Second
}

// Schedule is the optional schedule block of a job definition.
type Schedule struct {
	Type ScheduleType `yaml:"type,omitempty" json:"type,omitempty"`
	// Expression and Cron are aliases; Expression wins when both are set.
	Expression string    `yaml:"expression,omitempty" json:"expression,omitempty"`
	Cron       string    `yaml:"cron,omitempty"       json:"cron,omitempty"`
	Interval   *Interval `yaml:"interval,omitempty"   json:"interval,omitempty"`
	RunDate    string    `yaml:"run_date,omitempty"   json:"run_date,omitempty"`
	Timezone   string    `yaml:"timezone,omitempty"   json:"timezone,omitempty"`
}

// CronExpr returns the cron expression regardless of which alias carried it.
func (s *Schedule) CronExpr() string {
	if s == nil {
		return ""
	}
	if strings.TrimSpace(s.Expression) != "" {
		return strings.TrimSpace(s.Expression)
	}
	return strings.TrimSpace(s.Cron)
}

// Location resolves the schedule timezone, defaulting to UTC.
func (s *Schedule) Location() (*time.Location, error) {
	if s == nil || strings.TrimSpace(s.Timezone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(strings.TrimSpace(s.Timezone))
}

// StepAction names the interpreter for one agent-job step.
type StepAction string

const (
	// StepActionPowerShell runs the step under powershell.exe.
	StepActionPowerShell StepAction = "powershell"
	// StepActionCmd runs the step under cmd.exe.
	StepActionCmd StepAction = "cmd"
	// StepActionPython runs the step under the python interpreter.
	StepActionPython StepAction = "python"
)

// Valid returns true if the StepAction is known.
func (a StepAction) Valid() bool {
	return a == StepActionPowerShell || a == StepActionCmd || a == StepActionPython
}

// Step is one ordered unit of work inside an agent job.
type Step struct {
	Name    string     `yaml:"name,omitempty"    json:"name,omitempty"`
	Action  StepAction `yaml:"action,omitempty"  json:"action,omitempty"`
	Script  string     `yaml:"script,omitempty"  json:"script,omitempty"`
	Command string     `yaml:"command,omitempty" json:"command,omitempty"`
	Timeout int        `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Document is the parsed YAML job definition. Field order here fixes the
// rendered key order, so flat-field updates rebuild the blob
// deterministically. Unknown keys survive a parse/render round trip via
// Extra.
type Document struct {
	Name        string        `yaml:"name,omitempty"        json:"name,omitempty"`
	Type        model.JobType `yaml:"type,omitempty"        json:"type,omitempty"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`

	// PowerShell jobs.
	InlineScript     string     `yaml:"inlineScript,omitempty"     json:"inlineScript,omitempty"`
	ScriptPath       string     `yaml:"scriptPath,omitempty"       json:"scriptPath,omitempty"`
	ExecutionPolicy  string     `yaml:"executionPolicy,omitempty"  json:"executionPolicy,omitempty"`
	Parameters       Parameters `yaml:"parameters,omitempty"       json:"parameters,omitempty"`
	WorkingDirectory string     `yaml:"workingDirectory,omitempty" json:"workingDirectory,omitempty"`

	// SQL jobs.
	Query      string `yaml:"query,omitempty"      json:"query,omitempty"`
	Connection string `yaml:"connection,omitempty" json:"connection,omitempty"`
	MaxRows    int    `yaml:"max_rows,omitempty"   json:"max_rows,omitempty"`

	// Agent jobs.
	AgentPool         string `yaml:"agent_pool,omitempty"         json:"agent_pool,omitempty"`
	ExecutionStrategy string `yaml:"execution_strategy,omitempty" json:"execution_strategy,omitempty"`
	Steps             []Step `yaml:"steps,omitempty"              json:"steps,omitempty"`

	Schedule *Schedule `yaml:"schedule,omitempty" json:"schedule,omitempty"`

	Timeout        int  `yaml:"timeout,omitempty"          json:"timeout,omitempty"`
	MaxRetries     int  `yaml:"max_retries,omitempty"      json:"max_retries,omitempty"`
	RetryDelay     int  `yaml:"retry_delay,omitempty"      json:"retry_delay,omitempty"`
	RetryOnTimeout bool `yaml:"retry_on_timeout,omitempty" json:"retry_on_timeout,omitempty"`

	// Extra preserves keys this version does not model.
	Extra map[string]any `yaml:",inline" json:"-"`
}

// Parse decodes a YAML job definition. Unknown keys are preserved, not
// rejected; a decode failure is the caller's validation error.
func Parse(raw string) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parsing job definition: %w", err)
	}
	doc.normalize()
	return &doc, nil
}

// normalize canonicalizes enum casing so downstream switches are exact.
func (d *Document) normalize() {
	d.Type = model.JobType(strings.ToLower(strings.TrimSpace(string(d.Type))))
	if d.Schedule != nil {
		d.Schedule.Type = ScheduleType(strings.ToLower(strings.TrimSpace(string(d.Schedule.Type))))
	}
	for i := range d.Steps {
		d.Steps[i].Action = StepAction(strings.ToLower(strings.TrimSpace(string(d.Steps[i].Action))))
	}
}

// Render serializes the document back to YAML with a fixed key order and
// two-space indentation. Rendering the result of Parse is stable.
func (d *Document) Render() (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return "", fmt.Errorf("rendering job definition: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("rendering job definition: %w", err)
	}
	return buf.String(), nil
}

// TimeoutSeconds returns the effective per-execution timeout.
func (d *Document) TimeoutSeconds() int {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeoutSeconds
}

// EffectiveMaxRows returns the SQL rowset bound.
func (d *Document) EffectiveMaxRows() int {
	if d.MaxRows > 0 {
		return d.MaxRows
	}
	return DefaultMaxRows
}

// EffectiveExecutionPolicy returns the PowerShell execution policy.
func (d *Document) EffectiveExecutionPolicy() string {
	if strings.TrimSpace(d.ExecutionPolicy) != "" {
		return strings.TrimSpace(d.ExecutionPolicy)
	}
	return DefaultExecutionPolicy
}

// Pool returns the agent pool, defaulting when the definition names none.
func (d *Document) Pool() string {
	if strings.TrimSpace(d.AgentPool) != "" {
		return strings.TrimSpace(d.AgentPool)
	}
	return model.DefaultAgentPool
}

// Summary is the flattened view of a definition used for listings.
type Summary struct {
	JobType         model.JobType `json:"job_type"`
	ScheduleType    string        `json:"schedule_type,omitempty"`
	ScheduleSummary string        `json:"schedule_summary,omitempty"`
	Timezone        string        `json:"timezone,omitempty"`
	TimeoutSeconds  int           `json:"timeout_seconds"`
	MaxRetries      int           `json:"max_retries"`
}

// Summarize flattens the document for list and detail views.
func (d *Document) Summarize() Summary {
	s := Summary{
		JobType:        d.Type,
		TimeoutSeconds: d.TimeoutSeconds(),
		MaxRetries:     d.MaxRetries,
	}
	if !d.Type.Valid() {
		s.JobType = model.JobTypeUnknown
	}
	if d.Schedule == nil {
		return s
	}
	s.ScheduleType = string(d.Schedule.Type)
	s.Timezone = d.Schedule.Timezone
	switch d.Schedule.Type {
	case ScheduleTypeCron:
		s.ScheduleSummary = d.Schedule.CronExpr()
	case ScheduleTypeInterval:
		if d.Schedule.Interval != nil {
			s.ScheduleSummary = "every " + d.Schedule.Interval.Duration().String()
		}
	case ScheduleTypeDate:
		s.ScheduleSummary = "once at " + d.Schedule.RunDate
	}
	return s
}

// UnknownSummary is the flattened view reported for stored blobs that do
// not parse. Listing never fails on a bad row.
func UnknownSummary() Summary {
	return Summary{
		JobType:        model.JobTypeUnknown,
		TimeoutSeconds: DefaultTimeoutSeconds,
	}
}
