package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{
		"REELQUEUE_HARD_WORKER_CAP",
		"REELQUEUE_POLL_INTERVAL_SECONDS",
		"REELQUEUE_PER_STAGE_TIMEOUT_SECONDS",
		"REELQUEUE_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, 4, cfg.HardWorkerCap)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Minute, cfg.PerStageTimeout)
	assert.Equal(t, time.Minute, cfg.ShutdownTimeout)
	assert.Equal(t, 85.0, cfg.CPUWarnPercent)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REELQUEUE_HARD_WORKER_CAP", "8")
	t.Setenv("REELQUEUE_POLL_INTERVAL_SECONDS", "500ms")
	t.Setenv("REELQUEUE_SHUTDOWN_TIMEOUT_SECONDS", "10")
	t.Setenv("REELQUEUE_DISK_WARN_PERCENT", "75.5")
	t.Setenv("REELQUEUE_LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, 8, cfg.HardWorkerCap)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 75.5, cfg.DiskWarnPercent)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REELQUEUE_HARD_WORKER_CAP", "-3")
	t.Setenv("REELQUEUE_POLL_INTERVAL_SECONDS", "soon")

	cfg := Load()
	assert.Equal(t, 4, cfg.HardWorkerCap)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	// godotenv.Load skips keys that are present, even when empty.
	for _, key := range []string{"REELQUEUE_OUTPUT_SUBDIR", "REELQUEUE_HARD_WORKER_CAP", "REELQUEUE_STAGES_FILE"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("REELQUEUE_OUTPUT_SUBDIR=renders\nREELQUEUE_HARD_WORKER_CAP=6\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"),
		[]byte("REELQUEUE_HARD_WORKER_CAP=3\nREELQUEUE_STAGES_FILE=local.yaml\n"), 0o644))

	cfg := Load()
	assert.Equal(t, "renders", cfg.OutputSubdir)
	assert.Equal(t, 3, cfg.HardWorkerCap, ".env.local overrides .env")
	assert.Equal(t, "local.yaml", cfg.StagesFile)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("project admitted", "project_id", "ab12cd34")

	assert.Contains(t, stderr.String(), "project_id=ab12cd34")
	assert.Contains(t, file.String(), `"project_id":"ab12cd34"`)
	assert.NotContains(t, file.String(), "hidden")
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reelqueue.log")
	logger, closeFn := SetupLogger(path, slog.LevelInfo)
	logger.Info("scheduler started")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"scheduler started"`))
}

func TestSetupLoggerCreatesLogDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nested", "reelqueue.log")
	logger, closeFn := SetupLogger(path, slog.LevelInfo)
	logger.Info("scheduler started")
	require.NoError(t, closeFn())

	assert.FileExists(t, path)
}

func TestSetupLoggerWithoutFile(t *testing.T) {
	logger, closeFn := SetupLogger("", slog.LevelWarn)
	require.NotNil(t, logger)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.NoError(t, closeFn())
}
