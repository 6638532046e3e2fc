package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeLines parses every JSON line written by a JSON logger.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestJSONLogger_AllLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSONLogger(&buf, "debug")
	ctx := context.Background()

	log.Debug(ctx, "peer found", "peer", "p1")
	log.Info(ctx, "paste added", "paste_id", 7)
	log.Warn(ctx, "retrying", "attempt", 2)
	log.Error(ctx, "sync failed", "err", "boom")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 4)

	assert.Equal(t, "DEBUG", lines[0]["level"])
	assert.Equal(t, "peer found", lines[0]["msg"])
	assert.Equal(t, "p1", lines[0]["peer"])

	assert.Equal(t, "INFO", lines[1]["level"])
	assert.EqualValues(t, 7, lines[1]["paste_id"])

	assert.Equal(t, "WARN", lines[2]["level"])
	assert.Equal(t, "ERROR", lines[3]["level"])
	assert.Equal(t, "boom", lines[3]["err"])
}

func TestJSONLogger_WithCarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := NewJSONLogger(&buf, "info")

	scoped := base.With("component", "syncmgr").With("peer", "p2")
	scoped.Info(context.Background(), "state changed", "state", "CONNECTED")
	base.Info(context.Background(), "plain")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "syncmgr", lines[0]["component"])
	assert.Equal(t, "p2", lines[0]["peer"])
	assert.Equal(t, "CONNECTED", lines[0]["state"])
	assert.NotContains(t, lines[1], "component")
}

func TestJSONLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSONLogger(&buf, "warn")
	log.Debug(context.Background(), "hidden")
	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["msg"])
}

func TestSlogLogger_WrapsExisting(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	l.Info(context.TODO(), "text", "k", "v")
	assert.Contains(t, buf.String(), "k=v")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.With("a", 1).Error(context.Background(), "ignored")
		l.Debug(context.Background(), "ignored")
	})
}
