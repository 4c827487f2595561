package httpx

import (
	"net/http"
	"strconv"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/domain/model"
	"github.com/jobmill/jobmill/internal/service"
)

// JobHandlers serves the admin job CRUD surface plus manual runs and the
// offline YAML validator.
type JobHandlers struct {
	Jobs       *service.JobService
	Executions *service.ExecutionService
	Executor   core.JobExecutor
}

// List handles GET /api/jobs.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	opts := model.JobListOptions{
		EnabledOnly: queryBool(r, "enabled_only"),
		JobType:     model.JobType(r.URL.Query().Get("job_type")),
		Limit:       queryInt(r, "limit"),
	}

	views, err := h.Jobs.List(r.Context(), opts)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, views)
}

// Create handles POST /api/jobs.
func (h *JobHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	view, err := h.Jobs.Create(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, view)
}

// Get handles GET /api/jobs/{id}.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.Jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// Update handles PUT /api/jobs/{id}.
func (h *JobHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	view, err := h.Jobs.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// Delete handles DELETE /api/jobs/{id}.
func (h *JobHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Jobs.Delete(r.Context(), r.PathValue("id")); err != nil {
		WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// toggleRequest optionally pins the target state; absent it flips.
type toggleRequest struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// Toggle handles POST /api/jobs/{id}/toggle.
func (h *JobHandlers) Toggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if r.ContentLength != 0 && !DecodeJSON(w, r, &req) {
		return
	}

	view, err := h.Jobs.Toggle(r.Context(), r.PathValue("id"), req.Enabled)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// runRequest tunes a manual run. The empty body is a plain manual run.
type runRequest struct {
	Actor string `json:"actor,omitempty"`
	Force bool   `json:"force,omitempty"`
}

// Run handles POST /api/jobs/{id}/run. The response carries the terminal
// status inline when the backend finished synchronously; agent jobs come
// back queued.
func (h *JobHandlers) Run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 && !DecodeJSON(w, r, &req) {
		return
	}

	outcome, err := h.Executor.ExecuteJob(r.Context(), core.ExecuteJobRequest{
		JobID: r.PathValue("id"),
		Mode:  model.ExecutionModeManual,
		Actor: req.Actor,
		Force: req.Force,
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if outcome == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	WriteJSON(w, http.StatusOK, outcome)
}

// Logs handles GET /api/jobs/{id}/logs.
func (h *JobHandlers) Logs(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Executions.ListForJob(r.Context(), r.PathValue("id"), queryInt(r, "limit"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rows)
}

// validateRequest carries a YAML document to lint without storing it.
type validateRequest struct {
	YAML string `json:"yaml_configuration"`
}

// Validate handles POST /api/jobs/validate.
func (h *JobHandlers) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	WriteJSON(w, http.StatusOK, h.Jobs.ValidateDefinition(req.YAML))
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return 0
	}
	return v
}
