package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkspaceLayout(t *testing.T) {
	root := t.TempDir()

	ws, err := newWorkspace(root, "exec-42")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "_work", "exec-42"), ws.Root)

	for _, sub := range []string{"s", "b", "a", "logs", "temp"} {
		info, err := os.Stat(ws.Dir(sub))
		require.NoError(t, err, "missing %s", sub)
		require.True(t, info.IsDir())
	}

	require.Equal(t, filepath.Join(ws.Root, "s", "step-1.ps1"), ws.ScriptPath("step-1.ps1"))

	env := ws.Env("nightly-refresh")
	require.Contains(t, env, "EXECUTION_ID=exec-42")
	require.Contains(t, env, "JOB_NAME=nightly-refresh")
	require.Contains(t, env, "WORKSPACE_ROOT="+ws.Root)
}

func TestWorkspaceCleanup(t *testing.T) {
	root := t.TempDir()

	ws, err := newWorkspace(root, "exec-7")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ws.ScriptPath("step-1.ps1"), []byte("'hi'"), 0o700))

	require.NoError(t, ws.Cleanup())
	_, err = os.Stat(ws.Root)
	require.True(t, os.IsNotExist(err))
}

func TestWorkspaceDefaultsToTempDir(t *testing.T) {
	ws, err := newWorkspace("", "exec-tmp")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Cleanup() })

	require.Contains(t, ws.Root, filepath.Join("_work", "exec-tmp"))
}
