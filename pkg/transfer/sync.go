package transfer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/yuya-takeyama/parallel-sync/pkg/checksum"
	"github.com/yuya-takeyama/parallel-sync/pkg/credential"
	"github.com/yuya-takeyama/parallel-sync/pkg/dirs"
	"github.com/yuya-takeyama/parallel-sync/pkg/executor"
	"github.com/yuya-takeyama/parallel-sync/pkg/extract"
	"github.com/yuya-takeyama/parallel-sync/pkg/logger"
	"github.com/yuya-takeyama/parallel-sync/pkg/pattern"
	"github.com/yuya-takeyama/parallel-sync/pkg/planner"
	"github.com/yuya-takeyama/parallel-sync/pkg/remote"
	"github.com/yuya-takeyama/parallel-sync/pkg/resolver"
	"github.com/yuya-takeyama/parallel-sync/pkg/transport"
)

// Upload copies the local source to dest on the host described by cred. The
// source is resolved before any connection is made, so an empty source never
// touches the network.
func (s *Syncer) Upload(ctx context.Context, source, dest string, cred credential.Credential, opts Options) error {
	if err := requirePaths(source, dest); err != nil {
		return err
	}
	if err := cred.Validate(); err != nil {
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

	session, err := s.connect(ctx, cred)
	if err != nil {
		return err
	}
	defer session.Close()

	return s.run(ctx, job{
		direction: planner.Upload,
		root:      root,
		dest:      dest,
		resolved:  res,
		cred:      cred,
		remote:    executor.New(session, opts.Parallelism, opts.Tries),
		opts:      opts,
		start:     start,
	})
}

// Download copies source on the host described by cred to the local dest.
func (s *Syncer) Download(ctx context.Context, source, dest string, cred credential.Credential, opts Options) error {
	if err := requirePaths(source, dest); err != nil {
		return err
	}
	if err := cred.Validate(); err != nil {
		return err
	}
	opts = opts.withDefaults()
	filter, err := opts.filter()
	if err != nil {
		return err
	}

	start := time.Now()
	session, err := s.connect(ctx, cred)
	if err != nil {
		return err
	}
	defer session.Close()
	remoteExec := executor.New(session, opts.Parallelism, opts.Tries)

	root := resolver.CleanRemote(source)
	phase := logger.PhaseStart(ctx, "resolve", 1)
	res, err := resolver.Remote(ctx, root, filter, remoteExec)
	if err != nil {
		return err
	}
	phase.Complete(len(res.Files) + len(res.Dirs))
	if len(res.Files) == 0 {
		warnNoSource(ctx, source)
		return nil
	}

	return s.run(ctx, job{
		direction: planner.Download,
		root:      root,
		dest:      dest,
		resolved:  res,
		cred:      cred,
		remote:    remoteExec,
		opts:      opts,
		start:     start,
	})
}

func (s *Syncer) connect(ctx context.Context, cred credential.Credential) (remote.Session, error) {
	session, err := s.provider.Connect(ctx, cred)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Debug().Stringer("host", cred).Msg("connected")
	return session, nil
}

// job is one upload or download after its source has been resolved.
type job struct {
	direction planner.Direction
	root      string
	dest      string
	resolved  resolver.Result
	cred      credential.Credential
	remote    *executor.Executor
	opts      Options
	start     time.Time
}

func (s *Syncer) run(ctx context.Context, j job) error {
	localExec := executor.New(s.local, j.opts.Parallelism, j.opts.Tries)
	plan := planner.Build(j.root, j.dest, j.resolved.Dirs, j.resolved.Files)
	files := plan.Files()

	phase := logger.PhaseStart(ctx, "materialize", len(plan.Directories))
	if j.direction.DestRemote() {
		err := dirs.MaterializeRemote(ctx, plan.Directories, j.remote)
		if err != nil {
			return err
		}
	} else if err := dirs.MaterializeLocal(ctx, plan.Directories); err != nil {
		return err
	}
	phase.Complete(len(plan.Directories))

	selector := transport.New(j.cred, s.fastSync(), j.opts.TransportArgs)
	commands := make([]string, 0, len(plan.Units))
	for _, u := range plan.Units {
		cmd, err := selector.Command(j.direction, u)
		if err != nil {
			return err
		}
		commands = append(commands, cmd)
	}
	phase = logger.PhaseStart(ctx, "transfer", len(commands))
	if err := localExec.RunBatch(ctx, commands); err != nil {
		return errors.Errorf("%s %s: %w", j.direction, j.root, err)
	}
	phase.Complete(len(commands))

	if j.opts.Validate {
		pairs := make([]checksum.Pair, 0, len(files))
		for _, u := range files {
			if j.direction.DestRemote() {
				pairs = append(pairs, checksum.Pair{Local: u.Source, Remote: u.Dest})
			} else {
				pairs = append(pairs, checksum.Pair{Local: u.Dest, Remote: u.Source})
			}
		}
		phase = logger.PhaseStart(ctx, "validate", len(pairs))
		if err := checksum.Validate(ctx, pairs, j.remote, j.opts.Parallelism); err != nil {
			return err
		}
		phase.Complete(len(pairs))
	}

	if j.opts.Extract {
		dests := destinations(files)
		destExec := localExec
		if j.direction.DestRemote() {
			destExec = j.remote
		}
		phase = logger.PhaseStart(ctx, "extract", len(dests))
		if err := extract.Run(ctx, dests, destExec); err != nil {
			return err
		}
		phase.Complete(len(dests))
	}

	summary := logger.Summary{
		Operation:   j.direction.String(),
		Files:       len(files),
		Directories: len(plan.Units) - len(files),
		Duration:    time.Since(j.start),
	}
	if !j.direction.SourceRemote() {
		summary.Bytes = totalSize(files)
	}
	logger.PrintSummary(ctx, summary)
	return nil
}

// localRoot makes source absolute so every resolved path carries the root
// as a prefix, including a root given as ".".
func localRoot(source string) (string, error) {
	root, err := filepath.Abs(source)
	if err != nil {
		return "", errors.Errorf("%w: source %q: %w", ErrInvalidArgument, source, err)
	}
	return root, nil
}

// resolveLocal treats a regular file root as a single unit. Filters do not
// apply to it.
func resolveLocal(ctx context.Context, root string, filter *pattern.Filter) (resolver.Result, error) {
	phase := logger.PhaseStart(ctx, "resolve", 1)
	info, err := os.Stat(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		phase.Complete(0)
		return resolver.Result{}, nil
	case err != nil:
		return resolver.Result{}, errors.Errorf("stat %s: %w", root, err)
	case !info.IsDir():
		phase.Complete(1)
		return resolver.Result{Files: []string{root}}, nil
	}

	res, err := resolver.Local(ctx, root, filter)
	if err != nil {
		return resolver.Result{}, err
	}
	phase.Complete(len(res.Files) + len(res.Dirs))
	return res, nil
}

func warnNoSource(ctx context.Context, source string) {
	zerolog.Ctx(ctx).Warn().Str("source", source).Msg("No source files found")
}

func destinations(units []planner.Unit) []string {
	out := make([]string, 0, len(units))
	for _, u := range units {
		out = append(out, u.Dest)
	}
	return out
}

func totalSize(units []planner.Unit) int64 {
	var n int64
	for _, u := range units {
		if info, err := os.Stat(u.Source); err == nil {
			n += info.Size()
		}
	}
	return n
}
