package extract

import (
	"archive/zip"
	"compress/gzip"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/parallel-sync/pkg/executor"
)

func TestCommands(t *testing.T) {
	got := Commands([]string{
		"/dst/a.txt",
		"/dst/sub/data.tar.gz",
		"/dst/log.gz",
		"/dst/with space/b.zip",
	})
	assert.Equal(t, []string{
		`cd "/dst/sub" && tar -zxf "data.tar.gz"`,
		`cd "/dst" && gunzip -f "log.gz"`,
		`cd "/dst/with space" && unzip -o "b.zip"`,
	}, got)
}

type recordingRunner struct {
	mu       sync.Mutex
	commands []string
}

func (r *recordingRunner) Run(ctx context.Context, command string) (*executor.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
	return &executor.Output{}, nil
}

func TestRunNoArchivesIsNoop(t *testing.T) {
	runner := &recordingRunner{}
	require.NoError(t, Run(context.Background(), []string{"/dst/a.txt", "/dst/b.md"}, executor.New(runner, 10, 3)))
	assert.Empty(t, runner.commands)
}

func TestRunIssuesOneCommandPerArchive(t *testing.T) {
	runner := &recordingRunner{}
	require.NoError(t, Run(context.Background(), []string{"/dst/a.gz", "/dst/b.zip", "/dst/c"}, executor.New(runner, 10, 3)))
	assert.ElementsMatch(t, []string{
		`cd "/dst" && gunzip -f "a.gz"`,
		`cd "/dst" && unzip -o "b.zip"`,
	}, runner.commands)
}

func TestRunFailure(t *testing.T) {
	runner := executorFunc(func(ctx context.Context, command string) (*executor.Output, error) {
		return &executor.Output{ExitCode: 2, Stderr: "gzip: not in gzip format"}, nil
	})
	err := Run(context.Background(), []string{"/dst/a.gz"}, executor.New(runner, 1, 1))
	assert.ErrorIs(t, err, executor.ErrCommandFailed)
}

type executorFunc func(ctx context.Context, command string) (*executor.Output, error)

func (f executorFunc) Run(ctx context.Context, command string) (*executor.Output, error) {
	return f(ctx, command)
}

func TestRunExtractsLocally(t *testing.T) {
	for _, tool := range []string{"gunzip", "unzip"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available", tool)
		}
	}
	dir := t.TempDir()

	gzPath := filepath.Join(dir, "log.txt.gz")
	f, err := os.Create(gzPath)
	require.NoError(t, err)
	gw := gzip.NewWriter(f)
	_, err = gw.Write([]byte("log line\n"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	require.NoError(t, f.Close())

	zipPath := filepath.Join(dir, "bundle.zip")
	f, err = os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("inner.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("inner"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	require.NoError(t, Run(context.Background(), []string{gzPath, zipPath}, executor.New(executor.NewLocalRunner(), 2, 1)))

	got, err := os.ReadFile(filepath.Join(dir, "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "log line\n", string(got))
	assert.NoFileExists(t, gzPath)

	got, err = os.ReadFile(filepath.Join(dir, "inner.txt"))
	require.NoError(t, err)
	assert.Equal(t, "inner", string(got))
}
