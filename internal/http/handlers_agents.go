package httpx

import (
	"errors"
	"net/http"

	"github.com/jobmill/jobmill/internal/domain/model"
	"github.com/jobmill/jobmill/internal/service"
)

// AgentHandlers serves the inbound agent protocol. Every endpoint except
// Register runs behind AgentAuth, so handlers read the caller from the
// request context.
type AgentHandlers struct {
	Agents *service.AgentService
}

// Register handles POST /api/agent/register. The response carries the only
// copy of the plaintext bearer token; the server stores a hash.
func (h *AgentHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterAgentRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	resp, err := h.Agents.Register(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, resp)
}

// Heartbeat handles POST /api/agent/heartbeat.
func (h *AgentHandlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.caller(w, r)
	if !ok {
		return
	}

	var beat model.AgentHeartbeat
	if r.ContentLength != 0 && !DecodeJSON(w, r, &beat) {
		return
	}

	if err := h.Agents.Heartbeat(r.Context(), agent, &beat); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UpdateStatus handles POST /api/agent/jobs/{execution_id}/status with a
// non-terminal progress note.
func (h *AgentHandlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.caller(w, r)
	if !ok {
		return
	}

	var upd model.AgentStatusUpdate
	if !DecodeJSON(w, r, &upd) {
		return
	}

	err := h.Agents.UpdateStatus(r.Context(), service.AgentReportParams{
		Agent:       agent,
		ExecutionID: r.PathValue("execution_id"),
	}, &upd)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Complete handles POST /api/agent/jobs/{execution_id}/complete, the
// terminal report for an assigned execution.
func (h *AgentHandlers) Complete(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req model.AgentCompleteRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	row, err := h.Agents.Complete(r.Context(), service.AgentReportParams{
		Agent:       agent,
		ExecutionID: r.PathValue("execution_id"),
	}, &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, row)
}

// List handles GET /api/agents on the admin surface.
func (h *AgentHandlers) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Agents.List(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, agents)
}

// caller pulls the authenticated agent out of the context. A miss means
// the route was registered without AgentAuth, which is a wiring bug.
func (h *AgentHandlers) caller(w http.ResponseWriter, r *http.Request) (*model.Agent, bool) {
	agent, ok := AgentFromContext(r.Context())
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "authentication_required",
			Err:     errors.New("no authenticated agent on request"),
		})
		return nil, false
	}
	return agent, true
}
