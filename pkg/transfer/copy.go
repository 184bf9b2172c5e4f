package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/yuya-takeyama/parallel-sync/pkg/checksum"
	"github.com/yuya-takeyama/parallel-sync/pkg/dirs"
	"github.com/yuya-takeyama/parallel-sync/pkg/executor"
	"github.com/yuya-takeyama/parallel-sync/pkg/extract"
	"github.com/yuya-takeyama/parallel-sync/pkg/logger"
	"github.com/yuya-takeyama/parallel-sync/pkg/planner"
)

// Copy copies source to dest on the local host. Files whose destination
// already holds the same bytes are left alone.
func (s *Syncer) Copy(ctx context.Context, source, dest string, opts Options) error {
	if err := requirePaths(source, dest); err != nil {
		return err
	}
	opts = opts.withDefaults()
	filter, err := opts.filter()
	if err != nil {
		return err
	}

	start := time.Now()
	root, err := localRoot(source)
	if err != nil {
		return err
	}
	res, err := resolveLocal(ctx, root, filter)
	if err != nil {
		return err
	}
	if len(res.Files) == 0 {
		warnNoSource(ctx, source)
		return nil
	}

	plan := planner.Build(root, filepath.ToSlash(dest), res.Dirs, res.Files)
	files := plan.Files()

	phase := logger.PhaseStart(ctx, "materialize", len(plan.Directories))
	if err := dirs.MaterializeLocal(ctx, plan.Directories); err != nil {
		return err
	}
	phase.Complete(len(plan.Directories))

	phase = logger.PhaseStart(ctx, "transfer", len(plan.Units))
	tasks := make([]executor.Task, 0, len(plan.Units))
	for _, u := range plan.Units {
		tasks = append(tasks, executor.Task{
			Name: u.Source,
			Run: func(ctx context.Context) error {
				action, err := copyUnit(ctx, u, opts.Tries)
				if err != nil {
					return err
				}
				phase.ItemProcessed(u.Dest, action)
				return nil
			},
		})
	}
	if err := executor.RunTasks(ctx, opts.Parallelism, tasks); err != nil {
		return errors.Errorf("copy %s: %w", root, err)
	}
	phase.Complete(len(plan.Units))

	if opts.Validate {
		pairs := make([]checksum.Pair, 0, len(files))
		for _, u := range files {
			pairs = append(pairs, checksum.Pair{Local: u.Source, Remote: u.Dest})
		}
		phase = logger.PhaseStart(ctx, "validate", len(pairs))
		if err := checksum.Validate(ctx, pairs, nil, opts.Parallelism); err != nil {
			return err
		}
		phase.Complete(len(pairs))
	}

	if opts.Extract {
		dests := destinations(files)
		phase = logger.PhaseStart(ctx, "extract", len(dests))
		if err := extract.Run(ctx, dests, executor.New(s.local, opts.Parallelism, opts.Tries)); err != nil {
			return err
		}
		phase.Complete(len(dests))
	}

	logger.PrintSummary(ctx, logger.Summary{
		Operation:   planner.Local.String(),
		Files:       len(files),
		Directories: len(plan.Units) - len(files),
		Bytes:       totalSize(files),
		Duration:    time.Since(start),
	})
	return nil
}

// copyUnit performs one unit with up to tries attempts and reports what it
// did.
func copyUnit(ctx context.Context, u planner.Unit, tries int) (string, error) {
	if u.IsDir {
		if err := os.MkdirAll(filepath.FromSlash(u.Dest), 0o755); err != nil {
			return "", errors.Errorf("creating %s: %w", u.Dest, err)
		}
		return "mkdir", nil
	}

	if same, _ := identical(u.Source, filepath.FromSlash(u.Dest)); same {
		return "skip", nil
	}

	var err error
	for attempt := 1; attempt <= tries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if err = copyFile(u.Source, filepath.FromSlash(u.Dest)); err == nil {
			return "copy", nil
		}
		zerolog.Ctx(ctx).Warn().Err(err).Str("source", u.Source).Int("attempt", attempt).Int("tries", tries).Msg("copy failed")
	}
	return "", errors.Errorf("copying %s to %s after %d attempt(s): %w", u.Source, u.Dest, tries, err)
}

func identical(a, b string) (bool, error) {
	ia, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if !ib.Mode().IsRegular() || ia.Size() != ib.Size() {
		return false, nil
	}
	sa, err := checksum.File(a)
	if err != nil {
		return false, err
	}
	sb, err := checksum.File(b)
	if err != nil {
		return false, err
	}
	return sa == sb, nil
}

// copyFile writes src to a temporary file next to dst and renames it into
// place, so a failed attempt never leaves a truncated dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Errorf("open file: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return errors.Errorf("stat file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return errors.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return errors.Errorf("write %s: %w", dst, err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		return errors.Errorf("chmod %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Errorf("close %s: %w", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return errors.Errorf("rename into %s: %w", dst, err)
	}
	return nil
}
