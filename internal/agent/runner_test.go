package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jobmill/jobmill/config"
	"github.com/jobmill/jobmill/internal/domain/model"
)

// fakeServer records the agent protocol calls an execution produces.
type fakeServer struct {
	mu        sync.Mutex
	phases    []string
	completes []model.AgentCompleteRequest
	done      chan struct{}
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{done: make(chan struct{}, 4)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/agent/jobs/{execution_id}/status", func(w http.ResponseWriter, r *http.Request) {
		var upd model.AgentStatusUpdate
		_ = json.NewDecoder(r.Body).Decode(&upd)
		fs.mu.Lock()
		fs.phases = append(fs.phases, upd.Phase)
		fs.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/agent/jobs/{execution_id}/complete", func(w http.ResponseWriter, r *http.Request) {
		var req model.AgentCompleteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		fs.mu.Lock()
		fs.completes = append(fs.completes, req)
		fs.mu.Unlock()
		fs.done <- struct{}{}
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return fs, ts
}

func (fs *fakeServer) waitComplete(t *testing.T) model.AgentCompleteRequest {
	t.Helper()
	select {
	case <-fs.done:
	case <-time.After(10 * time.Second):
		t.Fatal("no terminal report arrived")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.NotEmpty(t, fs.completes)
	return fs.completes[len(fs.completes)-1]
}

func newTestRunner(t *testing.T, serverURL string, maxParallel int) *Runner {
	t.Helper()
	cfg := config.AgentConfig{
		ServerURL:     serverURL,
		Name:          "test-agent",
		Pool:          "default",
		MaxParallel:   maxParallel,
		WorkspaceRoot: t.TempDir(),
	}
	cfg.Sanitize()

	runner, err := NewRunner(RunnerOptions{Config: cfg, Version: "test"})
	require.NoError(t, err)
	return runner
}

func assignBody(t *testing.T, executionID, yaml string) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(model.AssignJobRequest{
		ExecutionID: executionID,
		JobID:       "job-1",
		JobName:     "hello-job",
		YAML:        yaml,
	})
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func TestAssignRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}

	fs, ts := newFakeServer(t)
	runner := newTestRunner(t, ts.URL, 1)
	handler := runner.routes(context.Background())

	yaml := "name: hello-job\ntype: agent_job\nsteps:\n  - name: greet\n    action: cmd\n    command: echo HELLO $EXECUTION_ID\n"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/agent/job/assign", assignBody(t, "exec-rt", yaml)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	report := fs.waitComplete(t)
	require.Equal(t, model.ExecutionStatusSuccess, report.Status)
	require.NotNil(t, report.ReturnCode)
	require.Equal(t, 0, *report.ReturnCode)
	require.Contains(t, report.OutputLog, "HELLO exec-rt")

	fs.mu.Lock()
	phases := fs.phases
	fs.mu.Unlock()
	require.Contains(t, phases, "starting")
	require.Contains(t, phases, "greet")
}

func TestAssignBadYAMLReportsFailure(t *testing.T) {
	fs, ts := newFakeServer(t)
	runner := newTestRunner(t, ts.URL, 1)
	handler := runner.routes(context.Background())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/agent/job/assign", assignBody(t, "exec-bad", "{{not yaml")))
	require.Equal(t, http.StatusAccepted, rec.Code)

	report := fs.waitComplete(t)
	require.Equal(t, model.ExecutionStatusFailed, report.Status)
	require.Contains(t, report.ErrorMessage, "parse job definition")
}

func TestAssignRejectsWhenAtCapacity(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}

	fs, ts := newFakeServer(t)
	runner := newTestRunner(t, ts.URL, 1)
	handler := runner.routes(context.Background())

	slow := "name: slow\ntype: agent_job\nsteps:\n  - action: cmd\n    command: sleep 3\n"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/agent/job/assign", assignBody(t, "exec-slow", slow)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/agent/job/assign", assignBody(t, "exec-extra", slow)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Duplicate assignment of the running execution is a conflict.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/agent/job/assign", assignBody(t, "exec-slow", slow)))
	require.Equal(t, http.StatusConflict, rec.Code)

	// Cancel frees the slot without a terminal report.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/agent/job/exec-slow/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return runner.activeCount() == 0
	}, 10*time.Second, 50*time.Millisecond)

	fs.mu.Lock()
	completes := len(fs.completes)
	fs.mu.Unlock()
	require.Zero(t, completes, "cancelled execution must not report a terminal status")
}

func TestCancelUnknownExecutionIsOK(t *testing.T) {
	_, ts := newFakeServer(t)
	runner := newTestRunner(t, ts.URL, 1)
	handler := runner.routes(context.Background())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/agent/job/nope/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
