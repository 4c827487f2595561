package agent

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/jobmill/jobmill/config"
	"github.com/jobmill/jobmill/internal/backend"
	"github.com/jobmill/jobmill/internal/domain/jobdef"
)

const (
	// defaultStepTimeout bounds a step that declares none.
	defaultStepTimeout = 300 * time.Second
)

// stepResult reports one finished step.
type stepResult struct {
	Name     string
	Output   string
	ExitCode int
	TimedOut bool
}

// stepRunner resolves interpreters and runs one agent-job step inside a
// workspace via the shared subprocess runner.
type stepRunner struct {
	powershellBin string
	pythonBin     string
	cmdBin        string
}

func newStepRunner(cfg config.AgentConfig) *stepRunner {
	return &stepRunner{
		powershellBin: cfg.PowerShellBin,
		pythonBin:     cfg.PythonBin,
		cmdBin:        cfg.CmdBin,
	}
}

// Run executes one step. Inline script content is written into the
// workspace s/ directory; command steps run through the shell.
func (r *stepRunner) Run(ctx context.Context, ws *workspace, jobName string, index int, step jobdef.Step) (*stepResult, error) {
	name := step.Name
	if name == "" {
		name = fmt.Sprintf("step-%d", index+1)
	}

	path, args, err := r.command(ws, index, step)
	if err != nil {
		return nil, err
	}

	timeout := defaultStepTimeout
	if step.Timeout > 0 {
		timeout = time.Duration(step.Timeout) * time.Second
	}

	proc, err := backend.RunProcess(ctx, backend.ProcessRequest{
		Path:     path,
		Args:     args,
		Dir:      ws.Root,
		Env:      ws.Env(jobName),
		Deadline: time.Now().Add(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", name, err)
	}

	return &stepResult{
		Name:     name,
		Output:   proc.Output,
		ExitCode: proc.ExitCode,
		TimedOut: proc.TimedOut,
	}, nil
}

// command resolves the interpreter invocation for a step.
func (r *stepRunner) command(ws *workspace, index int, step jobdef.Step) (string, []string, error) {
	switch step.Action {
	case jobdef.StepActionPowerShell:
		script, err := r.writeScript(ws, index, step.Script, ".ps1")
		if err != nil {
			return "", nil, err
		}
		return r.powershell(), []string{
			"-NoProfile",
			"-NonInteractive",
			"-ExecutionPolicy", "Bypass",
			"-File", script,
		}, nil

	case jobdef.StepActionPython:
		script, err := r.writeScript(ws, index, step.Script, ".py")
		if err != nil {
			return "", nil, err
		}
		return r.python(), []string{script}, nil

	case jobdef.StepActionCmd:
		command := strings.TrimSpace(step.Command)
		if command == "" {
			command = strings.TrimSpace(step.Script)
		}
		if command == "" {
			return "", nil, fmt.Errorf("step %d: cmd step has no command", index+1)
		}
		bin, flag := r.shell()
		return bin, []string{flag, command}, nil

	default:
		return "", nil, fmt.Errorf("step %d: unknown action %q", index+1, step.Action)
	}
}

func (r *stepRunner) writeScript(ws *workspace, index int, content, ext string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("step %d: script is empty", index+1)
	}
	path := ws.ScriptPath(fmt.Sprintf("step-%d%s", index+1, ext))
	if err := os.WriteFile(path, []byte(content), 0o700); err != nil {
		return "", fmt.Errorf("write step script: %w", err)
	}
	return path, nil
}

func (r *stepRunner) powershell() string {
	if r.powershellBin != "" {
		return r.powershellBin
	}
	if runtime.GOOS == "windows" {
		return "powershell.exe"
	}
	return "pwsh"
}

func (r *stepRunner) python() string {
	if r.pythonBin != "" {
		return r.pythonBin
	}
	return "python3"
}

// shell returns the command interpreter and its "run one command" flag.
func (r *stepRunner) shell() (string, string) {
	if r.cmdBin != "" {
		if strings.HasSuffix(strings.ToLower(r.cmdBin), "cmd.exe") {
			return r.cmdBin, "/C"
		}
		return r.cmdBin, "-c"
	}
	if runtime.GOOS == "windows" {
		return "cmd.exe", "/C"
	}
	return "/bin/sh", "-c"
}
