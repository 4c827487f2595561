//go:build !windows

package backend

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr puts the child in its own process group so the whole tree
// can be killed on timeout.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process != nil {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	return nil
}
