// Package dirs creates destination directories before any file lands in them.
package dirs

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/yuya-takeyama/parallel-sync/pkg/executor"
)

// maxCommandBytes keeps a batched mkdir well below common ARG_MAX limits.
const maxCommandBytes = 64 * 1024

// MaterializeLocal creates every directory and its missing parents. Existing
// directories are not an error.
func MaterializeLocal(ctx context.Context, dirs []string) error {
	for _, dir := range unique(dirs) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.FromSlash(dir), 0o755); err != nil {
			return errors.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// MaterializeRemote creates every directory through exec using as few
// commands as possible. The commands go through exec's retry policy.
func MaterializeRemote(ctx context.Context, dirs []string, exec *executor.Executor) error {
	commands := MkdirCommands(dirs)
	if len(commands) == 0 {
		return nil
	}
	zerolog.Ctx(ctx).Debug().Int("dirs", len(dirs)).Int("commands", len(commands)).Msg("creating remote directories")
	if err := exec.RunBatch(ctx, commands); err != nil {
		return errors.Errorf("creating remote directories: %w", err)
	}
	return nil
}

// MkdirCommands packs dirs into "mkdir -p" commands. There is exactly one
// command unless the arguments would not fit in one command line.
func MkdirCommands(dirs []string) []string {
	var (
		commands []string
		b        strings.Builder
	)
	for _, dir := range unique(dirs) {
		arg := executor.Quote(dir)
		if b.Len() > 0 && b.Len()+1+len(arg) > maxCommandBytes {
			commands = append(commands, b.String())
			b.Reset()
		}
		if b.Len() == 0 {
			b.WriteString("mkdir -p")
		}
		b.WriteByte(' ')
		b.WriteString(arg)
	}
	if b.Len() > 0 {
		commands = append(commands, b.String())
	}
	return commands
}

func unique(dirs []string) []string {
	seen := make(map[string]struct{}, len(dirs))
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
