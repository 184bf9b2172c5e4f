// Package checksum compares file contents on both sides of a transfer.
//
// The local digest is computed by reading the file directly; the remote
// digest comes from md5sum run on the remote host. Both are lowercase hex
// md5, so they compare as plain strings.
package checksum

import (
	"bufio"
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/yuya-takeyama/parallel-sync/pkg/executor"
)

const bufferSize = 64 * 1024

// ErrChecksumMismatch is the kind of every *MismatchError.
var ErrChecksumMismatch = errors.Base("checksum mismatch")

// MismatchError names a pair whose digests differ.
type MismatchError struct {
	Local     string
	Remote    string
	LocalSum  string
	RemoteSum string
}

func (e *MismatchError) Error() string {
	return "checksum mismatch: " + e.Local + " (" + e.LocalSum + ") != " + e.Remote + " (" + e.RemoteSum + ")"
}

func (e *MismatchError) Unwrap() error { return ErrChecksumMismatch }

// Pair is a local file and its transferred counterpart. For local-to-local
// copies Remote is a local path too.
type Pair struct {
	Local  string
	Remote string
}

// File returns the md5 of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Errorf("open file: %w", err)
	}
	defer f.Close()

	return Reader(f)
}

// Reader returns the md5 of everything r yields.
func Reader(r io.Reader) (string, error) {
	h := md5.New() //nolint:gosec
	if err := copyInto(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyInto(h hash.Hash, r io.Reader) error {
	buffer := make([]byte, bufferSize)
	for {
		n, err := r.Read(buffer)
		if n > 0 {
			if _, werr := h.Write(buffer[:n]); werr != nil {
				return errors.Errorf("write to hash: %w", werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Errorf("read: %w", err)
		}
	}
}

// RemoteCommand prints the md5 of path followed by the path, md5sum style.
func RemoteCommand(path string) string {
	return "md5sum " + executor.Quote(path)
}

// Remote computes the md5 of path through exec.
func Remote(ctx context.Context, exec *executor.Executor, path string) (string, error) {
	out, err := exec.Run(ctx, RemoteCommand(path))
	if err != nil {
		return "", errors.Errorf("remote checksum of %s: %w", path, err)
	}
	return parseSum(out.Stdout)
}

func parseSum(stdout string) (string, error) {
	fields := strings.Fields(stdout)
	if len(fields) == 0 {
		return "", errors.New("empty md5sum output")
	}
	sum := strings.ToLower(strings.TrimPrefix(fields[0], `\`))
	if len(sum) != hex.EncodedLen(md5.Size) {
		return "", errors.Errorf("unexpected md5sum output %q", firstLine(stdout))
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return "", errors.Errorf("unexpected md5sum output %q", firstLine(stdout))
	}
	return sum, nil
}

func firstLine(s string) string {
	sc := bufio.NewScanner(strings.NewReader(s))
	if sc.Scan() {
		return sc.Text()
	}
	return ""
}

// Validate compares every pair with at most parallelism comparisons in
// flight and returns a *MismatchError for the first pair that differs.
// When exec is nil both files are read locally.
func Validate(ctx context.Context, pairs []Pair, exec *executor.Executor, parallelism int) error {
	log := zerolog.Ctx(ctx)

	tasks := make([]executor.Task, 0, len(pairs))
	for _, p := range pairs {
		tasks = append(tasks, executor.Task{
			Name: p.Local,
			Run: func(ctx context.Context) error {
				localSum, err := File(p.Local)
				if err != nil {
					return errors.Errorf("checksum of %s: %w", p.Local, err)
				}

				var remoteSum string
				if exec == nil {
					remoteSum, err = File(p.Remote)
				} else {
					remoteSum, err = Remote(ctx, exec, p.Remote)
				}
				if err != nil {
					return errors.Errorf("checksum of %s: %w", p.Remote, err)
				}

				if localSum != remoteSum {
					return &MismatchError{Local: p.Local, Remote: p.Remote, LocalSum: localSum, RemoteSum: remoteSum}
				}
				log.Debug().Str("local", p.Local).Str("remote", p.Remote).Str("md5", localSum).Msg("checksum ok")
				return nil
			},
		})
	}
	return executor.RunTasks(ctx, parallelism, tasks)
}
