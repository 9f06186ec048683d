package lfalloc

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l.WithClass(3).LogOutOfMemory(context.Background(), 512, ErrOutOfMemory)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "out of memory", rec["msg"])
	assert.Equal(t, float64(3), rec["class"])
	assert.Equal(t, float64(512), rec["size"])
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	l.LogRefill(context.Background(), 4096, nil)
	assert.Empty(t, buf.String(), "successful refills log at debug")

	l.LogRefill(context.Background(), 4096, ErrOutOfMemory)
	assert.Contains(t, buf.String(), "chunk refill failed")
}

func TestNoopLogger(t *testing.T) {
	l := NoopLogger()
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
	l.LogClose(context.Background(), 1, nil)
}
