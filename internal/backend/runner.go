// Package backend implements the per-type execution engines: PowerShell
// scripts run as local subprocesses, SQL queries run against stored named
// connections, and agent jobs are handed to the dispatch layer for remote
// placement.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

const (
	// MaxOutputBytes caps captured subprocess output per execution. Bytes
	// past the cap are discarded while the process keeps running.
	MaxOutputBytes = 1 << 20

	truncationMarker = "\n... [output truncated]"
)

// ProcessRequest describes one subprocess run.
type ProcessRequest struct {
	Path string
	Args []string
	Dir  string
	Env  []string
	// Deadline is the hard stop. The whole process group is killed once it
	// passes; zero means no deadline beyond the caller's context.
	Deadline time.Time
	// MaxOutputBytes overrides the default capture cap when positive.
	MaxOutputBytes int
}

// ProcessResult reports a finished subprocess. Output interleaves stdout and
// stderr in arrival order, capped at the capture limit.
type ProcessResult struct {
	Output    string
	ExitCode  int
	TimedOut  bool
	Truncated bool
}

// boundedBuffer keeps the first cap bytes written and counts the rest.
// exec serializes writes when stdout and stderr share one writer value, so
// no locking is needed here.
type boundedBuffer struct {
	buf     bytes.Buffer
	cap     int
	dropped int64
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.cap - b.buf.Len()
	if room <= 0 {
		b.dropped += int64(len(p))
		return len(p), nil
	}
	if len(p) > room {
		b.dropped += int64(len(p) - room)
		b.buf.Write(p[:room])
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	if b.dropped > 0 {
		return b.buf.String() + truncationMarker
	}
	return b.buf.String()
}

// RunProcess executes the request with the process-group semantics shared by
// every local backend: the child runs in its own group, and deadline expiry
// kills the whole group so grandchildren cannot outlive the execution.
func RunProcess(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	if req.Path == "" {
		return nil, errors.New("process path is required")
	}

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, req.Path, req.Args...)
	if req.Dir != "" {
		cmd.Dir = req.Dir
	}
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, req.Env...)

	setSysProcAttr(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}

	capBytes := req.MaxOutputBytes
	if capBytes <= 0 {
		capBytes = MaxOutputBytes
	}
	out := &boundedBuffer{cap: capBytes}
	cmd.Stdout = out
	cmd.Stderr = out

	runErr := cmd.Run()

	result := &ProcessResult{
		Output:    out.String(),
		Truncated: out.dropped > 0,
	}
	if ctx.Err() != nil {
		result.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if result.TimedOut {
			// Killed before the binary even reported an exit status.
			result.ExitCode = -1
			return result, nil
		}
		return nil, fmt.Errorf("starting process %s: %w", req.Path, runErr)
	}
	return result, nil
}
