package env

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	require.Equal(t, 50, c.BatchSize)
	require.Equal(t, 500*time.Millisecond, c.Linger())
	require.Equal(t, "none", c.Compression)
	require.Equal(t, "nightglow", c.TopicPrefix)
	require.Equal(t, 15*time.Second, c.MetricsInterval)
	require.True(t, c.AutoEnableInstruments)
	require.Equal(t, 10, c.MaxContinuous)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("NIGHTGLOW_BATCH_SIZE", "10")
	t.Setenv("NIGHTGLOW_LINGER_MS", "50")
	t.Setenv("NIGHTGLOW_COMPRESSION", "lz4")
	t.Setenv("NIGHTGLOW_TOPIC_PREFIX", "staging")
	t.Setenv("NIGHTGLOW_LOG_LEVEL", "debug")

	c, err := Load()
	require.NoError(t, err)

	require.Equal(t, 10, c.BatchSize)
	require.Equal(t, 50*time.Millisecond, c.Linger())
	require.Equal(t, "lz4", c.Compression)
	require.Equal(t, "staging", c.TopicPrefix)
	require.Equal(t, slog.LevelDebug, c.SlogLevel())
}

func TestLoadRejectsUnknownCompression(t *testing.T) {
	t.Setenv("NIGHTGLOW_COMPRESSION", "zstd")

	_, err := Load()
	require.ErrorContains(t, err, "unsupported compression")
}
