// Package config loads reelqueue settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values.
type Config struct {
	// HTTP API
	ServerAddr string
	ServerURL  string

	// Resource monitor
	CPUWarnPercent  float64
	MemWarnPercent  float64
	DiskWarnPercent float64
	DiskPath        string
	SampleInterval  time.Duration
	HardWorkerCap   int

	// Scheduler
	PollInterval    time.Duration
	PerStageTimeout time.Duration
	ShutdownTimeout time.Duration

	// Pipeline
	StagesFile   string
	OutputSubdir string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables after applying .env,
// .env.<ENV> and .env.local from the working directory. Variables already set
// take precedence over .env; the other two files override everything.
func Load() Config {
	if err := loadEnvFiles(); err != nil {
		slog.Warn("failed to load env files", "error", err)
	}

	return Config{
		ServerAddr: getEnv("REELQUEUE_SERVER_ADDR", ":8585"),
		ServerURL:  getEnv("REELQUEUE_SERVER_URL", "http://localhost:8585"),

		CPUWarnPercent:  getFloat("REELQUEUE_CPU_WARN_PERCENT", 85),
		MemWarnPercent:  getFloat("REELQUEUE_MEM_WARN_PERCENT", 85),
		DiskWarnPercent: getFloat("REELQUEUE_DISK_WARN_PERCENT", 90),
		DiskPath:        getEnv("REELQUEUE_DISK_PATH", "/"),
		SampleInterval:  getSeconds("REELQUEUE_SAMPLE_INTERVAL_SECONDS", 5),
		HardWorkerCap:   getInt("REELQUEUE_HARD_WORKER_CAP", 4),

		PollInterval:    getSeconds("REELQUEUE_POLL_INTERVAL_SECONDS", 2),
		PerStageTimeout: getSeconds("REELQUEUE_PER_STAGE_TIMEOUT_SECONDS", 1800),
		ShutdownTimeout: getSeconds("REELQUEUE_SHUTDOWN_TIMEOUT_SECONDS", 60),

		StagesFile:   getEnv("REELQUEUE_STAGES_FILE", "reelqueue.stages.yaml"),
		OutputSubdir: getEnv("REELQUEUE_OUTPUT_SUBDIR", "output"),

		LogFile:  getEnv("REELQUEUE_LOG_FILE", "/tmp/reelqueue.log"),
		LogLevel: parseLogLevel(getEnv("REELQUEUE_LOG_LEVEL", "INFO")),
	}
}

// loadEnvFiles loads .env files in order of precedence.
func loadEnvFiles() error {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}

	if env := os.Getenv("ENV"); env != "" {
		envFile := ".env." + env
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Overload(envFile); err != nil {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Overload(".env.local"); err != nil {
			return fmt.Errorf("load .env.local: %w", err)
		}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		slog.Warn("ignoring invalid integer setting", "key", key, "value", raw)
		return defaultVal
	}
	return v
}

func getFloat(key string, defaultVal float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v < 0 {
		slog.Warn("ignoring invalid numeric setting", "key", key, "value", raw)
		return defaultVal
	}
	return v
}

// getSeconds reads a whole number of seconds. Go duration strings ("90s",
// "15m") are accepted too.
func getSeconds(key string, defaultSeconds int) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return time.Duration(defaultSeconds) * time.Second
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	slog.Warn("ignoring invalid duration setting", "key", key, "value", raw)
	return time.Duration(defaultSeconds) * time.Second
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
