package executor

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"time"

	"gitlab.com/tozd/go/errors"
)

// waitDelay bounds how long Run waits for output pipes after the process
// was killed by a cancelled context.
const waitDelay = 5 * time.Second

// LocalRunner runs commands through the local shell, one process each.
type LocalRunner struct {
	// Dir is the working directory; empty means the current one.
	Dir string
}

// NewLocalRunner returns a runner for the local shell.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

func (r *LocalRunner) Run(ctx context.Context, command string) (*Output, error) {
	name, args := shell(command)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	configureProcess(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Output{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return out, nil
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	default:
		out.ExitCode = -1
		return out, errors.Errorf("starting %q: %w", command, err)
	}
}

func (r *LocalRunner) Remote() bool { return false }

func shell(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", command}
	}
	return "/bin/sh", []string{"-c", command}
}
