package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ExecutionStatus represents the lifecycle state of an execution record.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type ExecutionStatus string

const (
	// ExecutionStatusPending indicates an execution that has been planned but
	// not yet started.
	ExecutionStatusPending ExecutionStatus = "pending"
	// ExecutionStatusRunning indicates an execution in progress on this host.
	ExecutionStatusRunning ExecutionStatus = "running"
	// ExecutionStatusQueued indicates an agent execution waiting for placement.
	ExecutionStatusQueued ExecutionStatus = "queued"
	// ExecutionStatusAssigned indicates an agent accepted the execution.
	ExecutionStatusAssigned ExecutionStatus = "assigned"
	// ExecutionStatusSuccess indicates the execution finished successfully.
	ExecutionStatusSuccess ExecutionStatus = "success"
	// ExecutionStatusFailed indicates the execution finished with an error.
	ExecutionStatusFailed ExecutionStatus = "failed"
	// ExecutionStatusTimeout indicates the execution exceeded its deadline.
	ExecutionStatusTimeout ExecutionStatus = "timeout"
	// ExecutionStatusCancelled indicates the execution was cancelled before
	// reaching a natural terminal state.
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// UnmarshalText implements encoding.TextUnmarshaler for ExecutionStatus.
func (s *ExecutionStatus) UnmarshalText(text []byte) error {
	v := ExecutionStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid ExecutionStatus: %q", string(text))
	}
	*s = v
	return nil
}

// Valid returns true if the ExecutionStatus is a known state.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusQueued,
		ExecutionStatusAssigned, ExecutionStatusSuccess, ExecutionStatusFailed,
		ExecutionStatusTimeout, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for states that end an execution. Terminal records
// are immutable.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusFailed,
		ExecutionStatusTimeout, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// Live returns true for states that count toward a job's concurrency guard.
func (s ExecutionStatus) Live() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning,
		ExecutionStatusQueued, ExecutionStatusAssigned:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next respects the
// execution state machine: transitions are strictly forward, terminal states
// accept nothing, and running is never re-entered.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case ExecutionStatusPending:
		return next == ExecutionStatusRunning || next == ExecutionStatusQueued ||
			next == ExecutionStatusCancelled
	case ExecutionStatusRunning:
		// Agent jobs start as running on the controller and hand off to queued.
		return next == ExecutionStatusQueued || next.Terminal()
	case ExecutionStatusQueued:
		return next == ExecutionStatusAssigned || next == ExecutionStatusFailed ||
			next == ExecutionStatusCancelled
	case ExecutionStatusAssigned:
		return next.Terminal()
	default:
		return false
	}
}

// TerminalStatuses returns the set of terminal states, in stable order.
// Useful for building NOT IN guards.
func TerminalStatuses() []ExecutionStatus {
	return []ExecutionStatus{
		ExecutionStatusSuccess,
		ExecutionStatusFailed,
		ExecutionStatusTimeout,
		ExecutionStatusCancelled,
	}
}

// ExecutionMode records how an execution was initiated.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type ExecutionMode string

const (
	// ExecutionModeScheduled marks executions fired by the scheduler loop.
	ExecutionModeScheduled ExecutionMode = "scheduled"
	// ExecutionModeManual marks executions requested through the API.
	ExecutionModeManual ExecutionMode = "manual"
	// ExecutionModeRetry marks executions created by the retry policy.
	ExecutionModeRetry ExecutionMode = "retry"
)

// UnmarshalText implements encoding.TextUnmarshaler for ExecutionMode.
func (m *ExecutionMode) UnmarshalText(text []byte) error {
	v := ExecutionMode(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid ExecutionMode: %q", string(text))
	}
	*m = v
	return nil
}

// Valid returns true if the ExecutionMode is known.
func (m ExecutionMode) Valid() bool {
	return m == ExecutionModeScheduled || m == ExecutionModeManual || m == ExecutionModeRetry
}

// Execution represents a row of the execution history.
type Execution struct {
	ID              string          `json:"execution_id"       db:"execution_id"`
	JobID           string          `json:"job_id"             db:"job_id"`
	JobName         string          `json:"job_name"           db:"job_name"`
	Status          ExecutionStatus `json:"status"             db:"status"`
	StartTime       time.Time       `json:"start_time"         db:"start_time"`
	EndTime         *time.Time      `json:"end_time,omitempty" db:"end_time"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty" db:"duration_seconds"`
	OutputLog       string          `json:"output_log,omitempty"       db:"output_log"`
	ErrorMessage    string          `json:"error_message,omitempty"    db:"error_message"`
	ReturnCode      *int            `json:"return_code,omitempty"      db:"return_code"`
	RetryCount      int             `json:"retry_count"        db:"retry_count"`
	MaxRetries      int             `json:"max_retries"        db:"max_retries"`
	ExecutionMode   ExecutionMode   `json:"execution_mode"     db:"execution_mode"`
	ExecutedBy      string          `json:"executed_by"        db:"executed_by"`
	Timezone        string          `json:"execution_timezone" db:"execution_timezone"`
	Metadata        json.RawMessage `json:"metadata,omitempty" db:"metadata"`
}

// StartExecutionParams carries the fields recorded when an execution begins.
type StartExecutionParams struct {
	JobID      string
	JobName    string
	Mode       ExecutionMode
	ExecutedBy string
	Timezone   string
	RetryCount int
	MaxRetries int
	Metadata   json.RawMessage
}

// FinishExecutionParams carries the single terminal write for an execution.
type FinishExecutionParams struct {
	ExecutionID  string
	Status       ExecutionStatus
	OutputLog    string
	ErrorMessage string
	ReturnCode   *int
	Metadata     json.RawMessage
}

// ExecutionListOptions filters execution history listings.
type ExecutionListOptions struct {
	JobID  string
	Status ExecutionStatus
	Limit  int

	// MetadataFilter is an optional JMESPath expression evaluated against
	// each row's metadata document; rows with a falsy result are dropped.
	MetadataFilter string
}

// ExecutionOutcome summarizes a completed ExecuteJob call for API responses.
type ExecutionOutcome struct {
	ExecutionID string          `json:"execution_id"`
	JobID       string          `json:"job_id"`
	Status      ExecutionStatus `json:"status"`
	Output      string          `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	ReturnCode  *int            `json:"return_code,omitempty"`
}
