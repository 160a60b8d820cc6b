package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "info", "json")

	logger.Debug("hidden")
	logger.Info("ingest complete", "rows", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ingest complete", entry["msg"])
	assert.EqualValues(t, 3, entry["rows"])
}

func TestNewWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "debug", "text")

	logger.Debug("recompute", "year", "2024-2025")

	assert.Contains(t, buf.String(), "year=2024-2025")
}

func TestStdLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "info", "text")

	StdLogger(logger, slog.LevelWarn).Print("slow query")

	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "slow query")
}
