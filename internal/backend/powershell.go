package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/domain/model"
	apperrors "github.com/jobmill/jobmill/internal/errors"
)

// PowerShellConfig holds configuration for the PowerShell backend.
type PowerShellConfig struct {
	// Bin is the interpreter binary. A bare name resolves through PATH.
	Bin string `json:"bin"`
	// ScratchDir receives the temp script files written for inline
	// scripts. Empty uses the OS temp dir.
	ScratchDir string `json:"scratch_dir"`
}

// DefaultPowerShellConfig returns a PowerShellConfig with sensible defaults.
func DefaultPowerShellConfig() PowerShellConfig {
	bin := "pwsh"
	if runtime.GOOS == "windows" {
		bin = "powershell.exe"
	}
	return PowerShellConfig{Bin: bin}
}

// PowerShellBackendOptions bundles dependencies for NewPowerShellBackend.
type PowerShellBackendOptions struct {
	Config PowerShellConfig
	Logger *slog.Logger
}

// PowerShellBackend runs powershell jobs as local subprocesses. Inline
// scripts are written to a scratch file for the duration of the run;
// scriptPath definitions execute in place.
type PowerShellBackend struct {
	cfg    PowerShellConfig
	logger *slog.Logger
}

// NewPowerShellBackend constructs a PowerShellBackend.
func NewPowerShellBackend(opts PowerShellBackendOptions) *PowerShellBackend {
	cfg := opts.Config
	if strings.TrimSpace(cfg.Bin) == "" {
		cfg.Bin = DefaultPowerShellConfig().Bin
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "powershell_backend")
	}

	return &PowerShellBackend{cfg: cfg, logger: logger}
}

// Type reports the job type this backend handles.
func (b *PowerShellBackend) Type() model.JobType {
	return model.JobTypePowerShell
}

// Execute runs the script under the configured interpreter and captures its
// combined output. The process group is killed at the deadline.
func (b *PowerShellBackend) Execute(ctx context.Context, req *core.BackendRequest) (*core.BackendResult, error) {
	if req == nil || req.Def == nil {
		return nil, errors.New("backend request requires a parsed definition")
	}

	scriptPath, cleanup, err := b.resolveScript(req.Def.InlineScript, req.Def.ScriptPath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	args := []string{
		"-NoProfile",
		"-NonInteractive",
		"-ExecutionPolicy", req.Def.EffectiveExecutionPolicy(),
		"-File", scriptPath,
	}
	args = append(args, req.Def.Parameters.Args()...)

	if b.logger != nil {
		b.logger.DebugContext(ctx, "running powershell job",
			"execution_id", req.ExecutionID,
			"script", scriptPath,
			"deadline", req.Deadline)
	}

	proc, err := RunProcess(ctx, ProcessRequest{
		Path:     b.cfg.Bin,
		Args:     args,
		Dir:      strings.TrimSpace(req.Def.WorkingDirectory),
		Deadline: req.Deadline,
	})
	if err != nil {
		return nil, apperrors.Backendf("powershell: %v", err)
	}

	code := proc.ExitCode
	result := &core.BackendResult{
		Success:     code == 0 && !proc.TimedOut,
		Output:      proc.Output,
		ReturnCode:  &code,
		TimedOut:    proc.TimedOut,
		TerminalNow: true,
	}
	switch {
	case proc.TimedOut:
		result.Error = "script killed at deadline"
	case code != 0:
		result.Error = "script exited with code " + strconv.Itoa(code)
	}
	return result, nil
}

// resolveScript picks the script file to run. Inline scripts win over a
// scriptPath and are written to a scratch file removed after the run.
func (b *PowerShellBackend) resolveScript(inline, path string) (string, func(), error) {
	if strings.TrimSpace(inline) != "" {
		f, err := os.CreateTemp(b.cfg.ScratchDir, "jobmill-*.ps1")
		if err != nil {
			return "", nil, fmt.Errorf("creating scratch script: %w", err)
		}
		name := f.Name()
		if _, err := f.WriteString(inline); err != nil {
			f.Close()
			os.Remove(name)
			return "", nil, fmt.Errorf("writing scratch script: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(name)
			return "", nil, fmt.Errorf("writing scratch script: %w", err)
		}
		return name, func() { os.Remove(name) }, nil
	}

	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil, apperrors.Backend("powershell job has neither inlineScript nor scriptPath")
	}
	return path, func() {}, nil
}
