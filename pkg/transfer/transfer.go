// Package transfer moves a file or a directory tree between the local host
// and a remote host, or between two local locations.
//
// Every operation runs the same phases in order: resolve the source, plan
// destinations, create destination directories, transfer, then optionally
// validate checksums and extract archives. A phase starts only after the
// previous one finished for every unit. Operations either succeed entirely
// or return an error; there is no partial result.
package transfer

import (
	"context"

	"gitlab.com/tozd/go/errors"

	"github.com/yuya-takeyama/parallel-sync/pkg/checksum"
	"github.com/yuya-takeyama/parallel-sync/pkg/credential"
	"github.com/yuya-takeyama/parallel-sync/pkg/executor"
	"github.com/yuya-takeyama/parallel-sync/pkg/pattern"
	"github.com/yuya-takeyama/parallel-sync/pkg/remote"
	"github.com/yuya-takeyama/parallel-sync/pkg/transport"
)

// Error kinds returned by every operation. Use errors.Is to test for them.
var (
	ErrInvalidArgument  = credential.ErrInvalidArgument
	ErrConnection       = remote.ErrConnection
	ErrCommandFailed    = executor.ErrCommandFailed
	ErrChecksumMismatch = checksum.ErrChecksumMismatch
)

// Options tune a single operation. The zero value transfers everything with
// default parallelism and retries.
type Options struct {
	// Tries is the number of attempts per command.
	Tries int
	// Include selects files by glob; empty means every file.
	Include string
	// Exclude drops files and whole directories by glob.
	Exclude []string
	// Parallelism bounds the commands in flight.
	Parallelism int
	// Extract decompresses transferred archives at the destination.
	Extract bool
	// Validate compares md5 digests of both sides after the transfer.
	Validate bool
	// TransportArgs are appended to the rsync or scp invocation.
	TransportArgs []string
}

func (o Options) withDefaults() Options {
	if o.Tries <= 0 {
		o.Tries = executor.DefaultTries
	}
	if o.Parallelism <= 0 {
		o.Parallelism = executor.DefaultParallelism
	}
	if o.Include == "" {
		o.Include = pattern.MatchAll
	}
	return o
}

func (o Options) filter() (*pattern.Filter, error) {
	f, err := pattern.NewFilter(o.Include, o.Exclude)
	if err != nil {
		return nil, errors.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return f, nil
}

// Syncer runs transfers. Its collaborators can be replaced, which is how the
// tests drive it without a network.
type Syncer struct {
	provider remote.Provider
	local    executor.Runner
	fastSync func() bool
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithProvider sets how remote sessions are established.
func WithProvider(p remote.Provider) Option {
	return func(s *Syncer) {
		s.provider = p
	}
}

// WithLocalRunner sets the runner for commands on the local host.
func WithLocalRunner(r executor.Runner) Option {
	return func(s *Syncer) {
		s.local = r
	}
}

// WithFastSync forces the choice between rsync and scp instead of probing
// the local host.
func WithFastSync(available bool) Option {
	return func(s *Syncer) {
		s.fastSync = func() bool { return available }
	}
}

// NewSyncer returns a Syncer using SSH sessions, the local shell and rsync
// when it is installed.
func NewSyncer(opts ...Option) *Syncer {
	s := &Syncer{
		provider: remote.SSH{},
		local:    executor.NewLocalRunner(),
		fastSync: transport.Probe,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload copies the local source to dest on the host described by cred.
func Upload(ctx context.Context, source, dest string, cred credential.Credential, opts Options) error {
	return NewSyncer().Upload(ctx, source, dest, cred, opts)
}

// Download copies source on the host described by cred to the local dest.
func Download(ctx context.Context, source, dest string, cred credential.Credential, opts Options) error {
	return NewSyncer().Download(ctx, source, dest, cred, opts)
}

// Copy copies source to dest on the local host.
func Copy(ctx context.Context, source, dest string, opts Options) error {
	return NewSyncer().Copy(ctx, source, dest, opts)
}

func requirePaths(source, dest string) error {
	if source == "" {
		return errors.Errorf("%w: source is required", ErrInvalidArgument)
	}
	if dest == "" {
		return errors.Errorf("%w: destination is required", ErrInvalidArgument)
	}
	return nil
}
