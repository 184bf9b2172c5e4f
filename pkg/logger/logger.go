// Package logger builds the zerolog logger used by the CLI and the phase
// logging shared by every transfer operation.
package logger

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to w. Console output is human readable;
// otherwise every event is one JSON line.
func New(w io.Writer, level zerolog.Level, console bool) zerolog.Logger {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Phase tracks one stage of a transfer: resolve, materialize, transfer,
// validate or extract.
type Phase struct {
	log   *zerolog.Logger
	name  string
	start time.Time
}

// PhaseStart logs the beginning of a phase over totalItems items.
func PhaseStart(ctx context.Context, name string, totalItems int) *Phase {
	log := zerolog.Ctx(ctx)
	log.Info().Str("phase", name).Int("items", totalItems).Msg("starting phase")
	return &Phase{log: log, name: name, start: time.Now()}
}

// ItemProcessed logs what happened to a single item.
func (p *Phase) ItemProcessed(item, action string) {
	p.log.Debug().Str("phase", p.name).Str("action", action).Str("item", item).Msg("item processed")
}

// Complete logs the end of the phase.
func (p *Phase) Complete(processedItems int) {
	p.log.Info().
		Str("phase", p.name).
		Int("processed", processedItems).
		Dur("elapsed", time.Since(p.start)).
		Msg("phase complete")
}

// Summary describes a finished operation.
type Summary struct {
	Operation   string
	Files       int
	Directories int
	Bytes       int64
	Duration    time.Duration
}

// PrintSummary logs s at info level.
func PrintSummary(ctx context.Context, s Summary) {
	zerolog.Ctx(ctx).Info().
		Str("operation", s.Operation).
		Int("files", s.Files).
		Int("directories", s.Directories).
		Str("size", FormatBytes(s.Bytes)).
		Str("duration", s.Duration.Round(time.Millisecond).String()).
		Msg("summary")
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
