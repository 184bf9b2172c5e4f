// Package extract decompresses transferred archives where they landed.
package extract

import (
	"context"
	"path"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/yuya-takeyama/parallel-sync/pkg/archive"
	"github.com/yuya-takeyama/parallel-sync/pkg/executor"
)

// Commands returns one decompression command per recognized archive in
// paths. Each command changes into the archive's directory first.
func Commands(paths []string) []string {
	var commands []string
	for _, p := range paths {
		p = strings.ReplaceAll(p, `\`, "/")
		cmd, ok := archive.Classify(path.Base(p))
		if !ok {
			continue
		}
		commands = append(commands, "cd "+executor.Quote(path.Dir(p))+" && "+cmd+" "+executor.Quote(path.Base(p)))
	}
	return commands
}

// Run extracts every recognized archive in paths through exec, which must
// run on the side where the paths live. Nothing is executed when no path is
// an archive.
func Run(ctx context.Context, paths []string, exec *executor.Executor) error {
	commands := Commands(paths)
	if len(commands) == 0 {
		return nil
	}
	zerolog.Ctx(ctx).Info().Int("archives", len(commands)).Bool("remote", exec.Remote()).Msg("extracting")
	if err := exec.RunBatch(ctx, commands); err != nil {
		return errors.Errorf("extracting archives: %w", err)
	}
	return nil
}
