package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.Session.ConnectTimeout)
	assert.Equal(t, 3, cfg.Session.RetryBudget)
	assert.Equal(t, 30, cfg.Media.FPS)
	assert.Equal(t, uint64(1<<20), cfg.DataChannel.HighWatermark)
	assert.Less(t, cfg.ABR.MinBitrate, cfg.ABR.StartBitrate)
	assert.Less(t, cfg.ABR.StartBitrate, cfg.ABR.MaxBitrate)

	// Sections are copied into the per-session struct.
	assert.Equal(t, cfg.Media, cfg.Session.Media)
	assert.Equal(t, cfg.ABR, cfg.Session.ABR)
	assert.Equal(t, cfg.DataChannel, cfg.Session.DataChannel)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte(`
mode: debug
port: 9090
session:
  retry_budget: 5
  connect_timeout: 2s
abr:
  max_bitrate: 1000000
datachannel:
  high_watermark: 4096
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644))

	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5, cfg.Session.RetryBudget)
	assert.Equal(t, 2*time.Second, cfg.Session.ConnectTimeout)
	assert.Equal(t, 1_000_000, cfg.Session.ABR.MaxBitrate)
	assert.Equal(t, uint64(4096), cfg.Session.DataChannel.HighWatermark)
	// Untouched keys keep their defaults.
	assert.Equal(t, 30, cfg.Media.FPS)
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "nope")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Port, cfg.Port)
}
