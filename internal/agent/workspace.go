package agent

import (
	"fmt"
	"os"
	"path/filepath"
)

// workspaceDirs are created under every execution sandbox. Generated
// scripts land in s/ (sources), step output files in logs/, and jobs
// may drop files into b/ (binaries), a/ (artifacts), or temp/.
var workspaceDirs = []string{"s", "b", "a", "logs", "temp"}

// workspace is the per-execution sandbox on disk:
// <root>/_work/<execution_id>/.
type workspace struct {
	ExecutionID string
	Root        string
}

// newWorkspace creates the sandbox directory tree for one execution.
func newWorkspace(root, executionID string) (*workspace, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, "_work", executionID)
	for _, sub := range workspaceDirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create workspace %s: %w", dir, err)
		}
	}
	return &workspace{ExecutionID: executionID, Root: dir}, nil
}

// Dir returns the absolute path of a sandbox subdirectory.
func (w *workspace) Dir(name string) string {
	return filepath.Join(w.Root, name)
}

// ScriptPath returns where a step's generated script file lives.
func (w *workspace) ScriptPath(name string) string {
	return filepath.Join(w.Root, "s", name)
}

// Env returns the contract environment every step process inherits.
func (w *workspace) Env(jobName string) []string {
	return []string{
		"EXECUTION_ID=" + w.ExecutionID,
		"JOB_NAME=" + jobName,
		"WORKSPACE_ROOT=" + w.Root,
	}
}

// Cleanup removes the sandbox recursively.
func (w *workspace) Cleanup() error {
	return os.RemoveAll(w.Root)
}
