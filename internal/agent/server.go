package agent

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jobmill/jobmill/internal/domain/model"
)

// routes serves the inbound half of dispatch: the server pushes
// assignments and best-effort cancels here. baseCtx parents every
// execution so agent shutdown cancels running steps.
func (r *Runner) routes(baseCtx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/agent/job/assign", func(w http.ResponseWriter, req *http.Request) {
		r.handleAssign(baseCtx, w, req)
	})
	mux.HandleFunc("POST /api/agent/job/{execution_id}/cancel", r.handleCancel)
	return mux
}

// handleAssign accepts one execution if a slot is free. A full agent
// answers 503 so the dispatcher leaves the execution queued for the next
// sweep or another agent.
func (r *Runner) handleAssign(baseCtx context.Context, w http.ResponseWriter, req *http.Request) {
	var assign model.AssignJobRequest
	if err := json.NewDecoder(req.Body).Decode(&assign); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid assignment payload"})
		return
	}
	if assign.ExecutionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "execution_id is required"})
		return
	}

	r.mu.Lock()
	if _, exists := r.active[assign.ExecutionID]; exists {
		r.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{"error": "execution already assigned"})
		return
	}
	if len(r.active) >= r.cfg.MaxParallel {
		r.mu.Unlock()
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "agent at capacity"})
		return
	}

	runCtx, cancel := context.WithCancel(baseCtx)
	r.active[assign.ExecutionID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go r.runExecution(runCtx, &assign)

	r.logger.InfoContext(req.Context(), "assignment accepted",
		"execution_id", assign.ExecutionID,
		"job", assign.JobName)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleCancel aborts a running execution. Cancelling something unknown
// is fine; the server side cancels best-effort and may race completion.
func (r *Runner) handleCancel(w http.ResponseWriter, req *http.Request) {
	executionID := req.PathValue("execution_id")

	r.mu.Lock()
	cancel, ok := r.active[executionID]
	r.mu.Unlock()

	if ok {
		cancel()
		r.logger.InfoContext(req.Context(), "execution cancelled by server", "execution_id", executionID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
