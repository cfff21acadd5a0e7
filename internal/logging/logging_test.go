package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiLogHandler_RespectsLevels(t *testing.T) {
	var info, debug bytes.Buffer
	h := NewMultiLogHandler(
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	logger := slog.New(h)

	logger.Debug("listed", "files", 3)
	logger.Info("sync pass", "uploads", 1)

	assert.NotContains(t, info.String(), "listed")
	assert.Contains(t, info.String(), "uploads=1")
	assert.Contains(t, debug.String(), "files=3")
	assert.Contains(t, debug.String(), "uploads=1")
}

func TestMultiLogHandler_WithAttrsAndGroup(t *testing.T) {
	var a, b bytes.Buffer
	logger := slog.New(NewMultiLogHandler(
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, nil),
	)).With("pass", "1234abcd").WithGroup("op")

	logger.Info("done", "path", "a.txt")

	for _, out := range []string{a.String(), b.String()} {
		assert.Contains(t, out, "pass=1234abcd")
		assert.Contains(t, out, "op.path=a.txt")
	}
}

func TestMultiLogHandler_Enabled(t *testing.T) {
	h := NewMultiLogHandler(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestSetup_ConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "logs", "drivesync.log")

	logger, closer, err := Setup(Options{Console: &console, ConsoleLevel: slog.LevelInfo, File: logFile})
	require.NoError(t, err)

	logger.Debug("debug only in file")
	logger.Info("hello", "path", "a.txt")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "hello")
	assert.NotContains(t, console.String(), "debug only in file")
	// not a terminal, so no escape codes
	assert.NotContains(t, console.String(), "\x1b[")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug only in file")
	assert.Contains(t, string(data), "path=a.txt")
}

func TestSetup_ConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	logger, closer, err := Setup(Options{Console: &console})
	require.NoError(t, err)
	logger.Info("ready")
	assert.NoError(t, closer.Close())
	assert.Contains(t, console.String(), "ready")
}
