//go:build !unix

package executor

import "os/exec"

func configureProcess(cmd *exec.Cmd) {
	cmd.WaitDelay = waitDelay
}
