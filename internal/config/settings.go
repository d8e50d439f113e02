package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ytget/fetchd/internal/platform"
)

// Environment keys
const (
	KeyAddr        = "FETCHD_ADDR"
	KeyDataDir     = "FETCHD_DATA_DIR"
	KeyDBPath      = "FETCHD_DB_PATH"
	KeyBinary      = "FETCHD_BIN"
	KeyMaxParallel = "FETCHD_MAX_PARALLEL"
	KeyMaxPerOwner = "FETCHD_MAX_PER_OWNER"
	KeyGracePeriod = "FETCHD_GRACE_PERIOD"
	KeyLogBuffer   = "FETCHD_LOG_BUFFER"
	KeySaveRoot    = "FETCHD_SAVE_ROOT"
)

// Default values
const (
	DefaultAddr        = ":8080"
	DefaultMaxParallel = 2
	DefaultMaxPerOwner = 1
	DefaultGracePeriod = 5 * time.Second
	DefaultLogBuffer   = 500

	MinParallel = 1
	MaxParallel = 16
)

// Settings holds the daemon configuration resolved from the environment
type Settings struct {
	Addr        string
	DataDir     string
	DBPath      string
	BinaryPath  string // optional override for the downloader executable
	SaveRoot    string
	MaxParallel int
	MaxPerOwner int
	GracePeriod time.Duration
	LogBuffer   int
}

// Load reads settings from the environment, applying defaults and clamping
// concurrency limits to a sane range.
func Load() Settings {
	dataDir := getenv(KeyDataDir, filepath.Join(os.TempDir(), "fetchd"))

	return Settings{
		Addr:        getenv(KeyAddr, DefaultAddr),
		DataDir:     dataDir,
		DBPath:      getenv(KeyDBPath, filepath.Join(dataDir, "jobs.db")),
		BinaryPath:  os.Getenv(KeyBinary),
		SaveRoot:    getenv(KeySaveRoot, platform.DefaultSaveRoot()),
		MaxParallel: clampParallel(getenvInt(KeyMaxParallel, DefaultMaxParallel)),
		MaxPerOwner: clampParallel(getenvInt(KeyMaxPerOwner, DefaultMaxPerOwner)),
		GracePeriod: getenvDuration(KeyGracePeriod, DefaultGracePeriod),
		LogBuffer:   getenvInt(KeyLogBuffer, DefaultLogBuffer),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}

func clampParallel(value int) int {
	if value < MinParallel {
		return MinParallel
	}
	if value > MaxParallel {
		return MaxParallel
	}
	return value
}
