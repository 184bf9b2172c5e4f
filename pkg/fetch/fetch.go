// Package fetch downloads a list of URLs into a directory, on the local host
// or on a remote one. http and https URLs go through wget; s3:// URLs go
// through the S3 transfer manager locally and the aws CLI remotely.
package fetch

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/yuya-takeyama/parallel-sync/pkg/credential"
	"github.com/yuya-takeyama/parallel-sync/pkg/dirs"
	"github.com/yuya-takeyama/parallel-sync/pkg/executor"
	"github.com/yuya-takeyama/parallel-sync/pkg/extract"
	"github.com/yuya-takeyama/parallel-sync/pkg/logger"
	"github.com/yuya-takeyama/parallel-sync/pkg/remote"
	"github.com/yuya-takeyama/parallel-sync/pkg/s3client"
)

// DefaultTimeout is wget's network timeout.
const DefaultTimeout = 40 * time.Second

// Options tune a download.
type Options struct {
	// Filenames, when set, name each downloaded file in URL order.
	Filenames   []string
	Tries       int
	Timeout     time.Duration
	Parallelism int
	// Extract decompresses downloaded archives in the target directory.
	Extract bool
}

func (o Options) withDefaults() Options {
	if o.Tries <= 0 {
		o.Tries = executor.DefaultTries
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Parallelism <= 0 {
		o.Parallelism = executor.DefaultParallelism
	}
	return o
}

// ObjectDownloader fetches one s3:// object to a local file.
type ObjectDownloader interface {
	Download(ctx context.Context, uri, dest string) (int64, error)
}

// Fetcher downloads URLs.
type Fetcher struct {
	provider remote.Provider
	local    executor.Runner
	objects  func(ctx context.Context) (ObjectDownloader, error)
}

// Option configures a Fetcher.
type Option func(*Fetcher)

func WithProvider(p remote.Provider) Option {
	return func(f *Fetcher) { f.provider = p }
}

func WithLocalRunner(r executor.Runner) Option {
	return func(f *Fetcher) { f.local = r }
}

func WithObjectDownloader(d ObjectDownloader) Option {
	return func(f *Fetcher) {
		f.objects = func(context.Context) (ObjectDownloader, error) { return d, nil }
	}
}

// WithObjectLoader defers building the ObjectDownloader until an s3:// URL
// is fetched locally.
func WithObjectLoader(load func(ctx context.Context) (ObjectDownloader, error)) Option {
	return func(f *Fetcher) { f.objects = load }
}

// New returns a Fetcher using SSH sessions, the local shell and the default
// AWS configuration. AWS configuration is only loaded when an s3:// URL is
// fetched locally.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		provider: remote.SSH{},
		local:    executor.NewLocalRunner(),
		objects: func(ctx context.Context) (ObjectDownloader, error) {
			return s3client.NewFromEnvironment(ctx, 0)
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Download fetches urls into targetDir on the local host.
func Download(ctx context.Context, targetDir string, urls []string, opts Options) error {
	return New().Download(ctx, targetDir, urls, opts)
}

// DownloadRemote fetches urls into targetDir on the host described by cred.
func DownloadRemote(ctx context.Context, targetDir string, urls []string, cred credential.Credential, opts Options) error {
	return New().DownloadRemote(ctx, targetDir, urls, cred, opts)
}

// target is one URL and where it lands.
type target struct {
	url  string
	path string
	s3   bool
}

func (f *Fetcher) Download(ctx context.Context, targetDir string, urls []string, opts Options) error {
	opts = opts.withDefaults()
	targets, err := plan(targetDir, urls, opts.Filenames)
	if err != nil || len(targets) == 0 {
		return err
	}

	if err := os.MkdirAll(filepath.FromSlash(targetDir), 0o755); err != nil {
		return errors.Errorf("creating %s: %w", targetDir, err)
	}

	var objects ObjectDownloader
	for _, t := range targets {
		if t.s3 {
			if objects, err = f.objects(ctx); err != nil {
				return err
			}
			break
		}
	}

	wget := executor.New(f.local, opts.Parallelism, 1)
	phase := logger.PhaseStart(ctx, "download", len(targets))
	tasks := make([]executor.Task, 0, len(targets))
	for _, t := range targets {
		tasks = append(tasks, executor.Task{
			Name: t.url,
			Run: func(ctx context.Context) error {
				if t.s3 {
					return downloadObject(ctx, objects, t, opts.Tries)
				}
				_, err := wget.Run(ctx, wgetCommand(t, opts))
				return err
			},
		})
	}
	if err := executor.RunTasks(ctx, opts.Parallelism, tasks); err != nil {
		return errors.Errorf("downloading into %s: %w", targetDir, err)
	}
	phase.Complete(len(targets))

	if opts.Extract {
		return extract.Run(ctx, paths(targets), executor.New(f.local, opts.Parallelism, opts.Tries))
	}
	return nil
}

func (f *Fetcher) DownloadRemote(ctx context.Context, targetDir string, urls []string, cred credential.Credential, opts Options) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	opts = opts.withDefaults()
	targets, err := plan(targetDir, urls, opts.Filenames)
	if err != nil || len(targets) == 0 {
		return err
	}

	session, err := f.provider.Connect(ctx, cred)
	if err != nil {
		return err
	}
	defer session.Close()
	remoteExec := executor.New(session, opts.Parallelism, opts.Tries)

	if err := dirs.MaterializeRemote(ctx, []string{targetDir}, remoteExec); err != nil {
		return err
	}

	commands := make([]string, 0, len(targets))
	for _, t := range targets {
		if t.s3 {
			commands = append(commands, "aws s3 cp "+executor.Quote(t.url)+" "+executor.Quote(t.path))
		} else {
			commands = append(commands, wgetCommand(t, opts))
		}
	}
	phase := logger.PhaseStart(ctx, "download", len(commands))
	if err := remoteExec.RunBatch(ctx, commands); err != nil {
		return errors.Errorf("downloading into %s on %s: %w", targetDir, cred, err)
	}
	phase.Complete(len(commands))

	if opts.Extract {
		return extract.Run(ctx, paths(targets), remoteExec)
	}
	return nil
}

func plan(targetDir string, urls, filenames []string) ([]target, error) {
	if targetDir == "" {
		return nil, errors.Errorf("%w: target directory is required", credential.ErrInvalidArgument)
	}
	if filenames != nil && len(filenames) != len(urls) {
		return nil, errors.Errorf("%w: %d filenames for %d urls", credential.ErrInvalidArgument, len(filenames), len(urls))
	}

	dir := strings.TrimRight(filepath.ToSlash(targetDir), "/")
	targets := make([]target, 0, len(urls))
	for i, raw := range urls {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, errors.Errorf("%w: %s: %w", credential.ErrInvalidArgument, raw, err)
		}
		switch u.Scheme {
		case "http", "https", "ftp", "s3":
		default:
			return nil, errors.Errorf("%w: unsupported url %s", credential.ErrInvalidArgument, raw)
		}

		var name string
		if filenames != nil {
			name = filenames[i]
		} else {
			name = FilenameFromURL(u)
		}
		if name == "" || name == "." || name == "/" || strings.ContainsAny(name, `/\`) {
			return nil, errors.Errorf("%w: no usable filename for %s", credential.ErrInvalidArgument, raw)
		}

		targets = append(targets, target{
			url:  u.String(),
			path: dir + "/" + name,
			s3:   u.Scheme == "s3",
		})
	}
	return targets, nil
}

// FilenameFromURL is the last path element of u with a trailing "?"
// removed.
func FilenameFromURL(u *url.URL) string {
	p := u.Path
	if u.Scheme == "s3" && p == "" {
		return ""
	}
	return strings.TrimSuffix(strings.TrimSpace(path.Base(p)), "?")
}

func wgetCommand(t target, opts Options) string {
	return "wget -O " + executor.Quote(t.path) +
		" -t " + strconv.Itoa(opts.Tries) +
		" -T " + strconv.Itoa(int(opts.Timeout.Seconds())) +
		" " + executor.Quote(t.url)
}

func downloadObject(ctx context.Context, objects ObjectDownloader, t target, tries int) error {
	var err error
	for attempt := 1; attempt <= tries; attempt++ {
		var n int64
		if n, err = objects.Download(ctx, t.url, filepath.FromSlash(t.path)); err == nil {
			zerolog.Ctx(ctx).Debug().Str("url", t.url).Int64("bytes", n).Msg("downloaded")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		zerolog.Ctx(ctx).Warn().Err(err).Str("url", t.url).Int("attempt", attempt).Msg("download failed")
	}
	return err
}

func paths(targets []target) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.path)
	}
	return out
}
