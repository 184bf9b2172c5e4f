//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

// configureProcess starts the shell in its own process group so that
// cancelling kills the whole pipeline it spawned (rsync and its ssh child),
// and so a terminal interrupt reaches only the pool, which then cancels.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay
}
