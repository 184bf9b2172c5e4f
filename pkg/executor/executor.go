// Package executor runs batches of shell commands under bounded parallelism
// with a per-command retry budget.
//
// Commands in a batch are independent and run in no particular order. The
// first command that exhausts its budget cancels the batch: commands not yet
// started are never scheduled and in-flight ones see their context cancelled.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultParallelism = 10
	DefaultTries       = 3
)

// ErrCommandFailed is the kind of every *CommandError.
var ErrCommandFailed = errors.Base("command failed")

// Output is what one execution of a command produced. A non-zero ExitCode is
// a failure even when Run returned no error.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a single shell command. It returns an error only when the
// command could not be run at all; the command's own failure is reported
// through Output.ExitCode.
type Runner interface {
	Run(ctx context.Context, command string) (*Output, error)
}

// A Runner that executes on another host implements Remote. A remote Runner
// that can carry concurrent commands on one connection also implements
// Multiplexed; otherwise the Executor serializes access to it.
type remoteRunner interface {
	Remote() bool
}

type multiplexer interface {
	Multiplexed() bool
}

// CommandError describes a command that failed on every attempt.
type CommandError struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Attempts int
	Remote   bool
	Err      error
}

func (e *CommandError) Error() string {
	side := "local"
	if e.Remote {
		side = "remote"
	}
	msg := fmt.Sprintf("%s command failed after %d attempt(s) with exit code %d: %s", side, e.Attempts, e.ExitCode, e.Command)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCommandFailed, e.Err}
	}
	return []error{ErrCommandFailed}
}

// Executor runs commands through one Runner.
type Executor struct {
	runner      Runner
	remote      bool
	parallelism int
	tries       int
	retryDelay  time.Duration
}

// New creates an Executor. Non-positive parallelism or tries fall back to a
// single worker and a single attempt.
func New(runner Runner, parallelism, tries int) *Executor {
	if parallelism <= 0 {
		parallelism = 1
	}
	if tries <= 0 {
		tries = 1
	}
	remote := false
	if r, ok := runner.(remoteRunner); ok {
		remote = r.Remote()
	}
	if remote {
		if m, ok := runner.(multiplexer); !ok || !m.Multiplexed() {
			runner = Serialize(runner)
		}
	}
	return &Executor{
		runner:      runner,
		remote:      remote,
		parallelism: parallelism,
		tries:       tries,
	}
}

// WithRetryDelay waits d between attempts of the same command.
func (e *Executor) WithRetryDelay(d time.Duration) *Executor {
	e.retryDelay = d
	return e
}

func (e *Executor) Remote() bool     { return e.remote }
func (e *Executor) Parallelism() int { return e.parallelism }

// RunBatch runs every command and returns nil only if all succeeded. The
// returned error is the first *CommandError, or the context error if the
// caller cancelled.
func (e *Executor) RunBatch(ctx context.Context, commands []string) error {
	tasks := make([]Task, 0, len(commands))
	for _, command := range commands {
		tasks = append(tasks, Task{
			Name: command,
			Run: func(ctx context.Context) error {
				_, err := e.Run(ctx, command)
				return err
			},
		})
	}
	return RunTasks(ctx, e.parallelism, tasks)
}

// Run executes one command with the retry budget and returns its output on
// success.
func (e *Executor) Run(ctx context.Context, command string) (*Output, error) {
	log := zerolog.Ctx(ctx)

	var (
		out *Output
		err error
	)
	for attempt := 1; attempt <= e.tries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Errorf("running %q: %w", command, ctxErr)
		}

		log.Debug().Str("cmd", command).Int("attempt", attempt).Bool("remote", e.remote).Msg("executing")
		out, err = e.runner.Run(ctx, command)
		if out == nil {
			out = &Output{ExitCode: -1}
		}
		if err == nil && out.ExitCode == 0 {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Errorf("running %q: %w", command, ctxErr)
		}

		event := log.Warn().Str("cmd", command).Int("attempt", attempt).Int("tries", e.tries).Int("exit_code", out.ExitCode)
		if err != nil {
			event = event.Err(err)
		}
		event.Str("stderr", strings.TrimSpace(out.Stderr)).Msg("command failed")

		if attempt < e.tries && e.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Errorf("running %q: %w", command, ctx.Err())
			case <-time.After(e.retryDelay):
			}
		}
	}

	return nil, &CommandError{
		Command:  command,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
		Attempts: e.tries,
		Remote:   e.remote,
		Err:      err,
	}
}

// Task is a unit of work for RunTasks.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunTasks runs tasks with at most parallelism in flight. The first failing
// task cancels the context handed to the others and its error is returned.
func RunTasks(ctx context.Context, parallelism int, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, task := range tasks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return task.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Serialize wraps r so that at most one command runs on it at a time.
func Serialize(r Runner) Runner {
	return &serialized{runner: r}
}

type serialized struct {
	mu     sync.Mutex
	runner Runner
}

func (s *serialized) Run(ctx context.Context, command string) (*Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner.Run(ctx, command)
}

func (s *serialized) Remote() bool {
	r, ok := s.runner.(remoteRunner)
	return ok && r.Remote()
}

func (s *serialized) Multiplexed() bool { return true }
