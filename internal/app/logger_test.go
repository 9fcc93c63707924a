package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerHonoursLevel(t *testing.T) {
	logger := NewLogger(&Config{LogFormat: "json", LogLevel: "debug"})
	require.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger = NewLogger(&Config{LogFormat: "pretty", LogLevel: "warn"})
	require.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	require.True(t, logger.Enabled(context.Background(), slog.LevelWarn))

	// Unknown levels fall back to info.
	logger = NewLogger(&Config{LogLevel: "noisy"})
	require.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	require.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}
