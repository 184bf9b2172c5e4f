package executor

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing(ctx context.Context, command string) (*Output, error) {
	return &Output{Stderr: "boom\n", ExitCode: 2}, nil
}

func TestRunBatchAllSucceed(t *testing.T) {
	runner := &fakeRunner{}
	commands := []string{"a", "b", "c", "d"}

	err := New(runner, 2, 3).RunBatch(context.Background(), commands)
	require.NoError(t, err)
	assert.ElementsMatch(t, commands, runner.recorded())
}

func TestRunBatchEmpty(t *testing.T) {
	runner := &fakeRunner{}
	require.NoError(t, New(runner, 4, 1).RunBatch(context.Background(), nil))
	assert.Empty(t, runner.recorded())
}

func TestRetryBudgetExhaustedNotExceeded(t *testing.T) {
	for _, tries := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("tries=%d", tries), func(t *testing.T) {
			runner := &fakeRunner{runFunc: failing}

			err := New(runner, 1, tries).RunBatch(context.Background(), []string{"false"})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCommandFailed)

			var cmdErr *CommandError
			require.ErrorAs(t, err, &cmdErr)
			assert.Equal(t, "false", cmdErr.Command)
			assert.Equal(t, tries, cmdErr.Attempts)
			assert.Equal(t, 2, cmdErr.ExitCode)
			assert.Contains(t, cmdErr.Error(), "boom")
			assert.Equal(t, tries, runner.count("false"))
		})
	}
}

func TestRetrySucceedsWithinBudget(t *testing.T) {
	calls := 0
	runner := &fakeRunner{runFunc: func(ctx context.Context, command string) (*Output, error) {
		calls++
		if calls < 3 {
			return &Output{ExitCode: 1}, nil
		}
		return &Output{Stdout: "ok"}, nil
	}}

	out, err := New(runner, 1, 3).Run(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Stdout)
	assert.Equal(t, 3, calls)
}

func TestRunnerErrorIsRetried(t *testing.T) {
	runner := &fakeRunner{runFunc: func(ctx context.Context, command string) (*Output, error) {
		return nil, fmt.Errorf("session closed")
	}}

	_, err := New(runner, 1, 2).Run(context.Background(), "x")
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, -1, cmdErr.ExitCode)
	assert.Contains(t, err.Error(), "session closed")
	assert.Equal(t, 2, runner.count("x"))
}

func TestNonPositiveSettings(t *testing.T) {
	e := New(&fakeRunner{}, 0, 0)
	assert.Equal(t, 1, e.Parallelism())
	assert.Equal(t, 1, e.tries)
}

func TestParallelismBound(t *testing.T) {
	runner := &fakeRunner{hold: 20 * time.Millisecond}
	commands := make([]string, 12)
	for i := range commands {
		commands[i] = fmt.Sprintf("cmd-%d", i)
	}

	require.NoError(t, New(runner, 3, 1).RunBatch(context.Background(), commands))
	assert.LessOrEqual(t, runner.maxInFlight.Load(), int32(3))
	assert.Greater(t, runner.maxInFlight.Load(), int32(1))
}

func TestRemoteRunnerWithoutMultiplexingIsSerialized(t *testing.T) {
	runner := &fakeRunner{remote: true, hold: 10 * time.Millisecond}
	e := New(runner, 4, 1)
	assert.True(t, e.Remote())

	require.NoError(t, e.RunBatch(context.Background(), []string{"a", "b", "c", "d"}))
	assert.Equal(t, int32(1), runner.maxInFlight.Load())
}

func TestMultiplexedRemoteRunnerRunsConcurrently(t *testing.T) {
	runner := &fakeRunner{remote: true, mux: true, hold: 20 * time.Millisecond}

	require.NoError(t, New(runner, 4, 1).RunBatch(context.Background(), []string{"a", "b", "c", "d"}))
	assert.Greater(t, runner.maxInFlight.Load(), int32(1))
}

func TestFailureCancelsBatch(t *testing.T) {
	runner := &fakeRunner{runFunc: func(ctx context.Context, command string) (*Output, error) {
		if command == "bad" {
			return &Output{ExitCode: 1, Stderr: "nope"}, nil
		}
		select {
		case <-ctx.Done():
			return &Output{ExitCode: -1}, nil
		case <-time.After(5 * time.Second):
			return &Output{}, nil
		}
	}}

	start := time.Now()
	err := New(runner, 4, 1).RunBatch(context.Background(), []string{"slow-1", "bad", "slow-2"})
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "bad", cmdErr.Command)
	assert.Less(t, time.Since(start), 4*time.Second, "siblings are cancelled")
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{}
	err := New(runner, 2, 3).RunBatch(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrCommandFailed)
}

func TestCommandsAreRecordedBeforeExecution(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)
	ctx := log.WithContext(context.Background())

	runner := &fakeRunner{runFunc: func(ctx context.Context, command string) (*Output, error) {
		assert.Contains(t, buf.String(), `"cmd":"echo hi"`)
		return &Output{}, nil
	}}

	require.NoError(t, New(runner, 1, 1).RunBatch(ctx, []string{"echo hi"}))
}

func TestBrokenLogSinkDoesNotFailBatch(t *testing.T) {
	log := zerolog.New(brokenWriter{}).Level(zerolog.DebugLevel)
	ctx := log.WithContext(context.Background())

	require.NoError(t, New(&fakeRunner{}, 1, 1).RunBatch(ctx, []string{"a"}))
}

type brokenWriter struct{}

func (brokenWriter) Write(p []byte) (int, error) { return 0, fmt.Errorf("sink unavailable") }

func TestRetryDelay(t *testing.T) {
	runner := &fakeRunner{runFunc: failing}

	start := time.Now()
	_, err := New(runner, 1, 3).WithRetryDelay(10*time.Millisecond).Run(context.Background(), "x")
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRunTasks(t *testing.T) {
	results := make([]int, 5)
	tasks := make([]Task, 0, len(results))
	for i := range results {
		tasks = append(tasks, Task{Name: fmt.Sprint(i), Run: func(ctx context.Context) error {
			results[i] = i * i
			return nil
		}})
	}

	require.NoError(t, RunTasks(context.Background(), 2, tasks))
	assert.Equal(t, []int{0, 1, 4, 9, 16}, results)
}

func TestRunTasksReturnsFirstError(t *testing.T) {
	err := RunTasks(context.Background(), 1, []Task{
		{Name: "ok", Run: func(ctx context.Context) error { return nil }},
		{Name: "bad", Run: func(ctx context.Context) error { return fmt.Errorf("bad task") }},
	})
	assert.EqualError(t, err, "bad task")
}
