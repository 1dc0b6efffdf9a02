// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env      string
	HTTPAddr string // sync-service ops API

	// Ops API bearer token; empty disables the manual-trigger endpoint
	// outside dev.
	OpsToken string

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string

	Sync SyncSettings
}

// SyncSettings tunes a sync pass. Values come from SYNC_SETTINGS_FILE
// (YAML) when present, else from env, else defaults. The retry budget is
// deliberately configurable: the providers document no hard policy.
type SyncSettings struct {
	Interval        time.Duration `yaml:"interval"`
	HTTPTimeout     time.Duration `yaml:"http_timeout"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	PageSize        int           `yaml:"page_size"`
	MaxDeleteRatio  float64       `yaml:"max_delete_ratio"`
	MinGuardRecords int           `yaml:"min_guard_records"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
}

func defaultSyncSettings() SyncSettings {
	return SyncSettings{
		Interval:        envDur("SYNC_INTERVAL_SEC", 3600) * time.Second,
		HTTPTimeout:     envDur("SYNC_HTTP_TIMEOUT_SEC", 30) * time.Second,
		RetryAttempts:   envInt("SYNC_RETRY_ATTEMPTS", 1),
		PageSize:        envInt("SYNC_PAGE_SIZE", 200),
		MaxDeleteRatio:  envFloat("SYNC_MAX_DELETE_RATIO", 0.90),
		MinGuardRecords: envInt("SYNC_MIN_GUARD_RECORDS", 10),
		LockTTL:         envDur("SYNC_LOCK_TTL_SEC", 900) * time.Second,
	}
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:         env("DIRSYNC_ENV", "dev"),
		HTTPAddr:    env("DIRSYNC_HTTP_ADDR", ":8080"),
		OpsToken:    env("OPS_TOKEN", ""),
		RedisURL:    env("REDIS_URL", ""),
		DatabaseURL: env("DATABASE_URL", ""),
		Sync:        defaultSyncSettings(),
	}
	if path := os.Getenv("SYNC_SETTINGS_FILE"); path != "" {
		if err := loadSyncFile(path, &cfg.Sync); err != nil {
			log.Printf("[WARN] sync settings file %s: %v (using env/defaults)", path, err)
		}
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set — using in-memory stores for dev")
	}
	return cfg
}

// loadSyncFile overlays non-zero YAML values onto s.
func loadSyncFile(path string, s *SyncSettings) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file SyncSettings
	if err := yaml.Unmarshal(b, &file); err != nil {
		return err
	}
	if file.Interval > 0 {
		s.Interval = file.Interval
	}
	if file.HTTPTimeout > 0 {
		s.HTTPTimeout = file.HTTPTimeout
	}
	if file.RetryAttempts > 0 {
		s.RetryAttempts = file.RetryAttempts
	}
	if file.PageSize > 0 {
		s.PageSize = file.PageSize
	}
	if file.MaxDeleteRatio > 0 {
		s.MaxDeleteRatio = file.MaxDeleteRatio
	}
	if file.MinGuardRecords > 0 {
		s.MinGuardRecords = file.MinGuardRecords
	}
	if file.LockTTL > 0 {
		s.LockTTL = file.LockTTL
	}
	return nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
