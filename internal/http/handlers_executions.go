package httpx

import (
	"context"
	"net/http"

	"github.com/jobmill/jobmill/internal/domain/model"
	"github.com/jobmill/jobmill/internal/service"
)

// ExecutionCanceller stops a live execution on operator request.
type ExecutionCanceller interface {
	Cancel(ctx context.Context, executionID, actor string) (*model.Execution, error)
}

// ExecutionHandlers serves the execution history surface, the per-row
// status poll, and the operator cancel.
type ExecutionHandlers struct {
	Executions *service.ExecutionService
	Dispatch   ExecutionCanceller
}

// History handles GET /api/executions/history.
func (h *ExecutionHandlers) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := h.Executions.List(r.Context(), &model.ExecutionListOptions{
		JobID:          q.Get("job_id"),
		Status:         model.ExecutionStatus(q.Get("status")),
		Limit:          queryInt(r, "limit"),
		MetadataFilter: q.Get("metadata_filter"),
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rows)
}

// cancelRequest names who asked for the cancel. The empty body records
// the default actor.
type cancelRequest struct {
	Actor string `json:"actor,omitempty"`
}

// Cancel handles POST /api/executions/{id}/cancel. Running rows owned by
// this replica are killed in process; queued rows finish as cancelled,
// and assigned rows are revoked from their agent first. Cancelling a
// terminal row conflicts.
func (h *ExecutionHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 && !DecodeJSON(w, r, &req) {
		return
	}

	row, err := h.Dispatch.Cancel(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, row)
}

// Status handles GET /api/job/{execution_id}/status. Agents and the admin
// CLI poll it while an execution is live.
func (h *ExecutionHandlers) Status(w http.ResponseWriter, r *http.Request) {
	row, err := h.Executions.GetByID(r.Context(), r.PathValue("execution_id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, row)
}
