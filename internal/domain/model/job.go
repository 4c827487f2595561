// Package model defines the core data types and structures used throughout the jobmill scheduler.
package model

import (
	"errors"
	"strings"
	"time"
)

// JobType represents the execution backend a job targets.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

const (
	// JobTypePowerShell represents a PowerShell script job.
	JobTypePowerShell JobType = "powershell"
	// JobTypeSQL represents a SQL query job.
	JobTypeSQL JobType = "sql"
	// JobTypeAgent represents a multi-step job executed on a remote agent.
	JobTypeAgent JobType = "agent_job"
	// JobTypeUnknown is reported for stored configurations whose YAML cannot
	// be parsed. It is never accepted on input.
	JobTypeUnknown JobType = "unknown"
)

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return errors.New("invalid JobType: " + v)
}

// Valid returns true if the JobType is one of the executable types.
func (t JobType) Valid() bool {
	return t == JobTypePowerShell || t == JobTypeSQL || t == JobTypeAgent
}

// MaxJobNameLength bounds the stored job name.
const MaxJobNameLength = 100

// Job represents a stored job configuration row.
type Job struct {
	ID           string    `json:"job_id"       db:"job_id"`
	Name         string    `json:"name"         db:"name"`
	Description  string    `json:"description"  db:"description"`
	Version      int       `json:"version"      db:"version"`
	YAML         string    `json:"yaml_configuration" db:"yaml_configuration"`
	Enabled      bool      `json:"enabled"      db:"enabled"`
	CreatedDate  time.Time `json:"created_date" db:"created_date"`
	ModifiedDate time.Time `json:"modified_date" db:"modified_date"`
	CreatedBy    string    `json:"created_by"   db:"created_by"`
}

// CreateJobRequest represents a request to create a new job configuration.
type CreateJobRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	YAML        string `json:"yaml_configuration"`
	CreatedBy   string `json:"created_by,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// Validate validates the CreateJobRequest fields that do not require YAML parsing.
func (r *CreateJobRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return errors.New("name is required")
	}
	if len(name) > MaxJobNameLength {
		return errors.New("name exceeds 100 characters")
	}
	if strings.TrimSpace(r.YAML) == "" {
		return errors.New("yaml_configuration is required")
	}
	return nil
}

// UpdateJobRequest represents a request to update a job configuration.
// Either YAML replaces the whole document, or the flat fields patch
// individual values and the YAML is re-rendered deterministically.
type UpdateJobRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
	YAML        *string `json:"yaml_configuration,omitempty"`

	// Flat schedule/runtime patches applied to the parsed document.
	ScheduleType     *string `json:"schedule_type,omitempty"`
	CronExpression   *string `json:"cron_expression,omitempty"`
	IntervalSeconds  *int    `json:"interval_seconds,omitempty"`
	RunDate          *string `json:"run_date,omitempty"`
	Timezone         *string `json:"timezone,omitempty"`
	TimeoutSeconds   *int    `json:"timeout_seconds,omitempty"`
	MaxRetries       *int    `json:"max_retries,omitempty"`
	RetryDelaySecond *int    `json:"retry_delay_seconds,omitempty"`
}

// IsEmpty reports whether the request carries no changes at all.
func (r *UpdateJobRequest) IsEmpty() bool {
	return r.Name == nil && r.Description == nil && r.Enabled == nil && r.YAML == nil &&
		r.ScheduleType == nil && r.CronExpression == nil && r.IntervalSeconds == nil &&
		r.RunDate == nil && r.Timezone == nil && r.TimeoutSeconds == nil &&
		r.MaxRetries == nil && r.RetryDelaySecond == nil
}

// JobListOptions filters job listings.
type JobListOptions struct {
	EnabledOnly bool
	JobType     JobType
	Limit       int
}

// JobView is the flattened read model combining the stored row with the
// parsed configuration. Malformed YAML yields JobType "unknown" and zero
// schedule fields rather than an error.
type JobView struct {
	Job

	JobType         JobType `json:"job_type"`
	ScheduleType    string  `json:"schedule_type,omitempty"`
	ScheduleSummary string  `json:"schedule_summary,omitempty"`
	Timezone        string  `json:"timezone,omitempty"`
	TimeoutSeconds  int     `json:"timeout_seconds"`
	MaxRetries      int     `json:"max_retries"`
	ParseError      string  `json:"parse_error,omitempty"`
}
