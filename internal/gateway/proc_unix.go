//go:build !windows

package gateway

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the child in its own process group and kills the
// whole group on timeout, so grandchildren die with the child instead of
// outliving it with our output pipes.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
