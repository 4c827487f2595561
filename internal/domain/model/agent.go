package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AgentStatus represents the liveness state of a registered agent.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type AgentStatus string

const (
	// AgentStatusOnline indicates the agent is heartbeating.
	AgentStatusOnline AgentStatus = "online"
	// AgentStatusOffline indicates the agent missed its heartbeat window.
	AgentStatusOffline AgentStatus = "offline"
)

// UnmarshalText implements encoding.TextUnmarshaler for AgentStatus.
func (s *AgentStatus) UnmarshalText(text []byte) error {
	v := AgentStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid AgentStatus: %q", string(text))
	}
	*s = v
	return nil
}

// Valid returns true if the AgentStatus is known.
func (s AgentStatus) Valid() bool {
	return s == AgentStatusOnline || s == AgentStatusOffline
}

// DefaultAgentPool is the pool agents join when registration names none.
const DefaultAgentPool = "default"

// AnyAgentPool marks agents that accept work from every pool.
const AnyAgentPool = "any"

// Agent represents a registered remote execution agent.
type Agent struct {
	ID             string          `json:"agent_id"       db:"agent_id"`
	Name           string          `json:"name"           db:"name"`
	PoolID         string          `json:"pool_id"        db:"pool_id"`
	EndpointURL    string          `json:"endpoint_url"   db:"endpoint_url"`
	Status         AgentStatus     `json:"status"         db:"status"`
	Capabilities   json.RawMessage `json:"capabilities,omitempty" db:"capabilities"`
	MaxParallel    int             `json:"max_parallel"   db:"max_parallel"`
	ActiveJobs     int             `json:"active_jobs"    db:"active_jobs"`
	LastHeartbeat  *time.Time      `json:"last_heartbeat,omitempty"  db:"last_heartbeat"`
	LastAssignedAt *time.Time      `json:"last_assigned_at,omitempty" db:"last_assigned_at"`
	RegisteredAt   time.Time       `json:"registered_at"  db:"registered_at"`

	// Telemetry from the most recent heartbeat.
	CPUPercent    *float64 `json:"cpu_percent,omitempty"    db:"cpu_percent"`
	MemoryPercent *float64 `json:"memory_percent,omitempty" db:"memory_percent"`
	AgentVersion  string   `json:"agent_version,omitempty"  db:"agent_version"`
}

// RegisterAgentRequest carries the facts an agent reports when registering.
// Registering an existing name replaces the prior registration and rotates
// the auth token.
type RegisterAgentRequest struct {
	Name         string          `json:"name"`
	PoolID       string          `json:"pool_id,omitempty"`
	EndpointURL  string          `json:"endpoint_url"`
	Capabilities json.RawMessage `json:"capabilities,omitempty"`
	MaxParallel  int             `json:"max_parallel,omitempty"`
	AgentVersion string          `json:"agent_version,omitempty"`
}

// Validate validates the RegisterAgentRequest fields.
func (r *RegisterAgentRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("agent name is required")
	}
	if strings.TrimSpace(r.EndpointURL) == "" {
		return fmt.Errorf("endpoint_url is required")
	}
	if r.MaxParallel < 0 {
		return fmt.Errorf("max_parallel must be >= 0")
	}
	if strings.TrimSpace(r.PoolID) == "" {
		r.PoolID = DefaultAgentPool
	}
	return nil
}

// RegisterAgentResponse carries the registration result, including the
// one-time plaintext auth token (only the hash is stored).
type RegisterAgentResponse struct {
	AgentID           string      `json:"agent_id"`
	AuthToken         string      `json:"auth_token"`
	PoolID            string      `json:"pool_id"`
	Status            AgentStatus `json:"status"`
	HeartbeatInterval int         `json:"heartbeat_interval_seconds"`
}

// AgentHeartbeat carries telemetry reported on each heartbeat.
type AgentHeartbeat struct {
	ActiveJobs    int      `json:"active_jobs"`
	CPUPercent    *float64 `json:"cpu_percent,omitempty"`
	MemoryPercent *float64 `json:"memory_percent,omitempty"`
	AgentVersion  string   `json:"agent_version,omitempty"`
}

// Assignment links a queued execution to the agent working it.
type Assignment struct {
	ID          string    `json:"assignment_id" db:"assignment_id"`
	ExecutionID string    `json:"execution_id"  db:"execution_id"`
	AgentID     string    `json:"agent_id"      db:"agent_id"`
	AssignedAt  time.Time `json:"assigned_at"   db:"assigned_at"`
}

// AgentStatusUpdate is a non-terminal progress note from an agent.
type AgentStatusUpdate struct {
	Phase    string          `json:"phase,omitempty"`
	Message  string          `json:"message,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// AgentCompleteRequest is the terminal report an agent posts when a step
// sequence finishes.
type AgentCompleteRequest struct {
	Status       ExecutionStatus `json:"status"`
	OutputLog    string          `json:"output_log,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ReturnCode   *int            `json:"return_code,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// Validate checks the terminal report is a legal agent outcome.
func (r *AgentCompleteRequest) Validate() error {
	if !r.Status.Terminal() {
		return fmt.Errorf("status %q is not terminal", r.Status)
	}
	if r.Status == ExecutionStatusCancelled {
		return fmt.Errorf("agents may not report cancelled; use the cancel endpoint")
	}
	return nil
}

// AssignJobRequest is the outbound payload pushed to an agent's assign
// endpoint.
type AssignJobRequest struct {
	ExecutionID string `json:"execution_id"`
	JobID       string `json:"job_id"`
	JobName     string `json:"job_name"`
	YAML        string `json:"yaml_configuration"`
	Timezone    string `json:"timezone,omitempty"`
}
