package profile

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"log/slog"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server and CLI.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for the admin server
	Addr string
	// Port is the binding port for the admin server
	Port int
	// Data is the data directory; device-local stores live under it
	Data string
	// DSN points to the hosted PostgreSQL store
	DSN string
	// Driver is the hosted store driver (postgres)
	Driver string
	// Version is the current version of the server
	Version string
	// InstanceURL is the public URL of this instance
	InstanceURL string

	// Secret signs and verifies admin tokens (HS256).
	Secret string // FUKUSHU_SECRET

	// Device / sync configuration.
	User    string // FUKUSHU_USER: account the device CLI acts as; empty means guest
	Premium bool   // FUKUSHU_PREMIUM: enables cloud sync for the device CLI

	// Sync tuning.
	SyncBatchSize    int     // FUKUSHU_SYNC_BATCH_SIZE (default: 500)
	SyncRatePerSec   float64 // FUKUSHU_SYNC_RATE_PER_SEC (default: 10)
	SyncFlushMinutes int     // FUKUSHU_SYNC_FLUSH_MINUTES (default: 5)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsSyncEnabled returns true if the device CLI should mirror writes to the
// hosted store: a signed-in premium user and a DSN to reach.
func (p *Profile) IsSyncEnabled() bool {
	return p.Premium && p.User != "" && p.DSN != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads the FUKUSHU_* configuration from environment variables.
// Values already set by flags are only overridden when the variable is present.
func (p *Profile) FromEnv() {
	getIntEnv := func(key string, defaultValue int) int {
		raw := os.Getenv(key)
		if raw == "" {
			return defaultValue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			slog.Warn("ignoring non-numeric environment value", slog.String("key", key), slog.String("value", raw))
			return defaultValue
		}
		return v
	}
	getFloatEnv := func(key string, defaultValue float64) float64 {
		raw := os.Getenv(key)
		if raw == "" {
			return defaultValue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			slog.Warn("ignoring non-numeric environment value", slog.String("key", key), slog.String("value", raw))
			return defaultValue
		}
		return v
	}

	p.Secret = getEnvOrDefault("FUKUSHU_SECRET", p.Secret)
	p.User = getEnvOrDefault("FUKUSHU_USER", p.User)
	p.Premium = os.Getenv("FUKUSHU_PREMIUM") == "true" || p.Premium

	p.SyncBatchSize = getIntEnv("FUKUSHU_SYNC_BATCH_SIZE", 500)
	p.SyncRatePerSec = getFloatEnv("FUKUSHU_SYNC_RATE_PER_SEC", 10)
	p.SyncFlushMinutes = getIntEnv("FUKUSHU_SYNC_FLUSH_MINUTES", 5)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver == "" {
		p.Driver = "postgres"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "fukushu")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/fukushu"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.SyncBatchSize <= 0 {
		p.SyncBatchSize = 500
	}
	if p.SyncRatePerSec <= 0 {
		p.SyncRatePerSec = 10
	}
	if p.SyncFlushMinutes <= 0 {
		p.SyncFlushMinutes = 5
	}

	return nil
}
