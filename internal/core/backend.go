package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jobmill/jobmill/internal/domain/jobdef"
	"github.com/jobmill/jobmill/internal/domain/model"
)

// Backend executes one job according to its parsed definition. Each
// implementation handles a single job type.
type Backend interface {
	// Type reports which job type this backend handles.
	Type() model.JobType
	// Execute runs the job. Errors are reserved for failures to even
	// attempt the work; a job that ran and failed comes back as a Result
	// with Success=false.
	Execute(ctx context.Context, req *BackendRequest) (*BackendResult, error)
}

// BackendRequest carries one execution into a backend.
type BackendRequest struct {
	Job         *model.Job
	Def         *jobdef.Document
	ExecutionID string
	// Deadline is the hard stop; backends must kill their work and report
	// a timeout result once it passes.
	Deadline time.Time
}

// BackendResult reports the outcome of a backend execution.
type BackendResult struct {
	Success    bool
	Output     string
	Error      string
	ReturnCode *int
	// TimedOut marks work killed at the deadline; the execution finishes
	// with the timeout status instead of plain failure.
	TimedOut bool
	// TerminalNow is false when the result only records a handoff (agent
	// jobs): the execution row finishes later via agent callbacks.
	TerminalNow bool
	Metadata    json.RawMessage
}

// BackendRegistry resolves backends by job type.
type BackendRegistry struct {
	backends map[model.JobType]Backend
}

// NewBackendRegistry builds a registry from the given backends. A duplicate
// type keeps the last registration.
func NewBackendRegistry(backends ...Backend) *BackendRegistry {
	m := make(map[model.JobType]Backend, len(backends))
	for _, b := range backends {
		if b == nil {
			continue
		}
		m[b.Type()] = b
	}
	return &BackendRegistry{backends: m}
}

// Resolve returns the backend for a job type, or false when none is registered.
func (r *BackendRegistry) Resolve(t model.JobType) (Backend, bool) {
	if r == nil {
		return nil, false
	}
	b, ok := r.backends[t]
	return b, ok
}

// Types lists the registered job types in no particular order.
func (r *BackendRegistry) Types() []model.JobType {
	if r == nil {
		return nil
	}
	out := make([]model.JobType, 0, len(r.backends))
	for t := range r.backends {
		out = append(out, t)
	}
	return out
}
