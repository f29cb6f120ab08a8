//go:build unix

package features

import (
	"os/exec"
	"syscall"
)

// setProcessGroup runs the decoder in its own process group and makes
// cancellation send SIGTERM to the whole group; WaitDelay escalates to SIGKILL.
func setProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return syscall.Kill(-c.Process.Pid, syscall.SIGTERM)
	}
}
