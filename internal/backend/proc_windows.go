//go:build windows

package backend

import (
	"os/exec"
)

// Process groups are a Unix concept; on Windows killing the direct child is
// the best os/exec offers without job objects.
func setSysProcAttr(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process != nil {
		return cmd.Process.Kill()
	}
	return nil
}
