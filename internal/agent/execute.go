package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jobmill/jobmill/internal/domain/jobdef"
	"github.com/jobmill/jobmill/internal/domain/model"
)

// runExecution owns one assignment from workspace setup to the terminal
// report. A nil report means the run was cancelled; the server finishes
// the row on its side, and agents may not report cancelled.
func (r *Runner) runExecution(ctx context.Context, assign *model.AssignJobRequest) {
	defer r.wg.Done()
	defer r.finish(assign.ExecutionID)

	report := r.execute(ctx, assign)
	if report == nil {
		r.logger.Info("execution cancelled, skipping terminal report",
			"execution_id", assign.ExecutionID)
		return
	}

	// The report rides a fresh context; the run context may already be
	// cancelled.
	reportCtx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()
	if err := r.client.Complete(reportCtx, assign.ExecutionID, report); err != nil {
		r.logger.Error("terminal report failed; server will reap the execution",
			"execution_id", assign.ExecutionID,
			"error", err)
		return
	}
	r.logger.Info("execution finished",
		"execution_id", assign.ExecutionID,
		"job", assign.JobName,
		"status", report.Status)
}

func (r *Runner) finish(executionID string) {
	r.mu.Lock()
	if cancel, ok := r.active[executionID]; ok {
		cancel()
		delete(r.active, executionID)
	}
	r.mu.Unlock()
}

// execute parses the job, builds the sandbox, and runs the steps in
// order. The first failing or timed-out step is terminal.
func (r *Runner) execute(ctx context.Context, assign *model.AssignJobRequest) *model.AgentCompleteRequest {
	doc, err := jobdef.Parse(assign.YAML)
	if err != nil {
		return failedReport(fmt.Sprintf("parse job definition: %v", err), "")
	}
	if len(doc.Steps) == 0 {
		return failedReport("agent job has no steps", "")
	}

	ws, err := newWorkspace(r.cfg.WorkspaceRoot, assign.ExecutionID)
	if err != nil {
		return failedReport(fmt.Sprintf("create workspace: %v", err), "")
	}
	defer func() {
		if r.cfg.KeepWorkspaces {
			r.logger.Debug("keeping workspace", "path", ws.Root)
			return
		}
		if err := ws.Cleanup(); err != nil {
			r.logger.Warn("workspace cleanup failed", "path", ws.Root, "error", err)
		}
	}()

	r.reportPhase(ctx, assign.ExecutionID, statusPhaseStarting, "")

	var output strings.Builder
	for i, step := range doc.Steps {
		if ctx.Err() != nil {
			return nil
		}

		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step-%d", i+1)
		}
		r.reportPhase(ctx, assign.ExecutionID, name, fmt.Sprintf("step %d of %d", i+1, len(doc.Steps)))

		res, err := r.steps.Run(ctx, ws, assign.JobName, i, step)
		if ctx.Err() != nil && !isDeadline(ctx) {
			return nil
		}
		if err != nil {
			return failedReport(err.Error(), output.String())
		}

		fmt.Fprintf(&output, "=== %s ===\n%s\n", res.Name, res.Output)

		if res.TimedOut {
			report := failedReport(fmt.Sprintf("step %s timed out", res.Name), output.String())
			report.Status = model.ExecutionStatusTimeout
			report.ReturnCode = &res.ExitCode
			report.Metadata = stepMetadata(i, len(doc.Steps))
			return report
		}
		if res.ExitCode != 0 {
			report := failedReport(fmt.Sprintf("step %s exited with code %d", res.Name, res.ExitCode), output.String())
			report.ReturnCode = &res.ExitCode
			report.Metadata = stepMetadata(i, len(doc.Steps))
			return report
		}
	}

	zero := 0
	return &model.AgentCompleteRequest{
		Status:     model.ExecutionStatusSuccess,
		OutputLog:  output.String(),
		ReturnCode: &zero,
		Metadata:   stepMetadata(len(doc.Steps), len(doc.Steps)),
	}
}

// reportPhase posts a best-effort progress note.
func (r *Runner) reportPhase(ctx context.Context, executionID, phase, message string) {
	noteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := r.client.UpdateStatus(noteCtx, executionID, &model.AgentStatusUpdate{
		Phase:   phase,
		Message: message,
	})
	if err != nil {
		r.logger.Debug("progress note failed", "execution_id", executionID, "error", err)
	}
}

func failedReport(message, output string) *model.AgentCompleteRequest {
	return &model.AgentCompleteRequest{
		Status:       model.ExecutionStatusFailed,
		OutputLog:    output,
		ErrorMessage: message,
	}
}

func stepMetadata(completed, total int) json.RawMessage {
	raw, err := json.Marshal(map[string]int{
		"steps_completed": completed,
		"steps_total":     total,
	})
	if err != nil {
		return nil
	}
	return raw
}

func isDeadline(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded
}
