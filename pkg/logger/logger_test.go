package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{3 * 1024 * 1024 * 1024, "3.0 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}

func decode(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		events = append(events, e)
	}
	return events
}

func TestPhase(t *testing.T) {
	var buf bytes.Buffer
	ctx := New(&buf, zerolog.DebugLevel, false).WithContext(context.Background())

	p := PhaseStart(ctx, "transfer", 2)
	p.ItemProcessed("/src/a", "upload")
	p.Complete(2)

	events := decode(t, &buf)
	require.Len(t, events, 3)
	assert.Equal(t, "starting phase", events[0]["message"])
	assert.Equal(t, "transfer", events[0]["phase"])
	assert.EqualValues(t, 2, events[0]["items"])
	assert.Equal(t, "debug", events[1]["level"])
	assert.Equal(t, "/src/a", events[1]["item"])
	assert.Equal(t, "phase complete", events[2]["message"])
	assert.EqualValues(t, 2, events[2]["processed"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	ctx := New(&buf, zerolog.InfoLevel, false).WithContext(context.Background())

	PhaseStart(ctx, "resolve", 0).ItemProcessed("x", "skip")
	events := decode(t, &buf)
	require.Len(t, events, 1)
	assert.Equal(t, "info", events[0]["level"])
}

func TestWithoutLoggerIsSilent(t *testing.T) {
	p := PhaseStart(context.Background(), "extract", 1)
	p.ItemProcessed("x", "extract")
	p.Complete(1)
	PrintSummary(context.Background(), Summary{Operation: "upload"})
}

func TestConsoleAndSummary(t *testing.T) {
	var buf bytes.Buffer
	ctx := New(&buf, zerolog.InfoLevel, true).WithContext(context.Background())

	PrintSummary(ctx, Summary{Operation: "upload", Files: 3, Bytes: 2048, Duration: 1500 * time.Millisecond})
	out := buf.String()
	assert.Contains(t, out, "summary")
	assert.Contains(t, out, "2.0 KiB")
}
