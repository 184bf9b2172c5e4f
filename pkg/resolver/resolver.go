// Package resolver enumerates the directories and files under a source root,
// on the local filesystem or on a remote host.
package resolver

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/yuya-takeyama/parallel-sync/pkg/executor"
	"github.com/yuya-takeyama/parallel-sync/pkg/pattern"
)

// Result holds two disjoint, sorted, duplicate-free path lists. The root
// itself is never listed as a directory.
type Result struct {
	Dirs  []string
	Files []string
}

// Empty reports whether nothing was found.
func (r Result) Empty() bool {
	return len(r.Dirs) == 0 && len(r.Files) == 0
}

// Local walks root on the local filesystem. A missing root yields an empty
// Result. A root that is itself a symbolic link is followed and the results
// are reported under root. Below the root, symbolic links to files are listed
// and links to directories are not followed.
func Local(ctx context.Context, root string, filter *pattern.Filter) (Result, error) {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return Result{}, nil
	}

	walkRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return Result{}, errors.Errorf("resolving %s: %w", root, err)
	}

	dirs := make(map[string]struct{})
	files := make(map[string]struct{})

	err = filepath.WalkDir(walkRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == walkRoot {
			return nil
		}

		rel, err := filepath.Rel(walkRoot, p)
		if err != nil {
			return errors.Errorf("relative path of %s: %w", p, err)
		}
		listed := filepath.Join(root, rel)
		rel = filepath.ToSlash(rel)

		isDir := d.IsDir()
		if d.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(p)
			if err != nil || info.IsDir() {
				return nil
			}
		}

		switch {
		case isDir && !filter.Dir(rel):
			return filepath.SkipDir
		case isDir:
			dirs[listed] = struct{}{}
		case d.Type().IsRegular() || d.Type()&fs.ModeSymlink != 0:
			if filter.File(rel) {
				files[listed] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, errors.Errorf("walking %s: %w", root, err)
	}

	return newResult(dirs, files), nil
}

// RemoteListCommand lists root on a POSIX host in one command, tagging each
// entry with "F: " or "D: ". It lists the same entries as Local: a symlinked
// root is followed, links to files are files and links to directories are
// skipped. A missing root lists nothing and succeeds; unreadable
// subdirectories are reported on stderr but do not fail.
func RemoteListCommand(root string) string {
	q := executor.Quote(root)
	return `if [ -e ` + q + ` ]; then find -H ` + q +
		` \( -type f -exec printf 'F: %s\n' {} + \) -o \( -type d -exec printf 'D: %s\n' {} + \)` +
		` -o \( -type l -exec sh -c 'for p; do [ -f "$p" ] && printf "F: %s\n" "$p"; done; exit 0' sh {} + \); ` +
		`rc=$?; [ $rc -le 1 ] || exit $rc; fi`
}

// Remote lists root on the host behind exec with a single command.
func Remote(ctx context.Context, root string, filter *pattern.Filter, exec *executor.Executor) (Result, error) {
	root = CleanRemote(root)

	out, err := exec.Run(ctx, RemoteListCommand(root))
	if err != nil {
		return Result{}, errors.Errorf("listing %s: %w", root, err)
	}
	if stderr := strings.TrimSpace(out.Stderr); stderr != "" {
		zerolog.Ctx(ctx).Warn().Str("root", root).Str("stderr", stderr).Msg("remote listing reported errors")
	}

	return ParseListing(root, out.Stdout, filter), nil
}

// ParseListing turns RemoteListCommand output into a Result. A file whose
// path equals root is a single file root and is kept without filtering.
func ParseListing(root, listing string, filter *pattern.Filter) Result {
	dirs := make(map[string]struct{})
	files := make(map[string]struct{})

	scanner := bufio.NewScanner(strings.NewReader(listing))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if len(line) < 3 || line[1:3] != ": " {
			continue
		}
		tag, p := line[0], line[3:]
		if p == root {
			if tag == 'F' {
				files[p] = struct{}{}
			}
			continue
		}

		rel := strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
		switch tag {
		case 'D':
			if filter.Dir(rel) {
				dirs[p] = struct{}{}
			}
		case 'F':
			if filter.File(rel) {
				files[p] = struct{}{}
			}
		}
	}

	return newResult(dirs, files)
}

// CleanRemote normalizes a remote root without touching a bare "/".
func CleanRemote(root string) string {
	if root == "" {
		return root
	}
	return path.Clean(root)
}

func newResult(dirs, files map[string]struct{}) Result {
	r := Result{
		Dirs:  make([]string, 0, len(dirs)),
		Files: make([]string, 0, len(files)),
	}
	for d := range dirs {
		r.Dirs = append(r.Dirs, d)
	}
	for f := range files {
		r.Files = append(r.Files, f)
	}
	sort.Strings(r.Dirs)
	sort.Strings(r.Files)
	return r
}
