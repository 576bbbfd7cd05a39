package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/titanous/json5"
)

// Storage modes.
const (
	ModeFile     = "file"     // JSON files plus a SQLite key-value store
	ModeSQLite   = "sqlite"   // everything in SQLite
	ModePostgres = "postgres" // everything in Postgres
	ModeRedis    = "redis"    // files for large stores, Redis for small keys
	ModeMemory   = "memory"   // in-process only, nothing survives exit
)

const maskedValue = "********"

// Config is the cellstore configuration file. Fields are read under the
// embedded lock when a hot-reload watcher may replace them.
type Config struct {
	Storage   StorageConfig   `json:"storage"`
	Secrets   SecretsConfig   `json:"secrets"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Backup    BackupConfig    `json:"backup"`

	mu sync.RWMutex
}

type StorageConfig struct {
	Mode       string `json:"mode"`
	DataDir    string `json:"data_dir"`
	DebounceMS int    `json:"debounce_ms"`

	// HistoryDebounceMS applies to the request history store, which changes
	// on every request.
	HistoryDebounceMS int `json:"history_debounce_ms"`

	SQLitePath  string `json:"sqlite_path,omitempty"`
	PostgresDSN string `json:"postgres_dsn,omitempty"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	RedisDB     int    `json:"redis_db,omitempty"`
	RedisPass   string `json:"redis_password,omitempty"`

	CacheSize     int     `json:"cache_size"`
	WritesPerSec  float64 `json:"writes_per_sec,omitempty"` // 0 = unthrottled; network modes only
	WatchExternal bool    `json:"watch_external"`
}

type SecretsConfig struct {
	KeyringService string `json:"keyring_service"`
	// EncryptionKey enables encrypted-at-rest secrets in the key-value store
	// instead of the OS keyring.
	EncryptionKey string `json:"encryption_key,omitempty"`
}

type TelemetryConfig struct {
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol"` // grpc or http
	Insecure    bool   `json:"insecure"`
	ServiceName string `json:"service_name"`
}

type BackupConfig struct {
	Dir      string `json:"dir"`
	Bucket   string `json:"s3_bucket,omitempty"`
	Region   string `json:"s3_region,omitempty"`
	Prefix   string `json:"s3_prefix,omitempty"`
	Endpoint string `json:"s3_endpoint,omitempty"` // S3-compatible servers such as MinIO
	KeyID    string `json:"s3_access_key_id,omitempty"`
	Secret   string `json:"s3_secret_access_key,omitempty"`
	MaxKeeps int    `json:"max_keeps"`
	Schedule string `json:"schedule,omitempty"` // cron expression; empty = no scheduled backups
}

// DefaultPath is ~/.cellstore/config.json.
func DefaultPath() string {
	if p := os.Getenv("CELLSTORE_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(homeDir(), ".cellstore", "config.json")
}

// Default returns a config with every field set to its default.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Mode:              ModeFile,
			DataDir:           filepath.Join(homeDir(), ".cellstore", "data"),
			DebounceMS:        0,
			HistoryDebounceMS: 500,
			CacheSize:         512,
		},
		Secrets: SecretsConfig{
			KeyringService: "cellstore",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "cellstore",
		},
		Backup: BackupConfig{
			Dir:      filepath.Join(homeDir(), ".cellstore", "backups"),
			MaxKeeps: 10,
		},
	}
}

// Load reads a JSON5 config file on top of Default and applies env overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.expandPaths()
	return cfg, nil
}

// Save writes cfg as indented JSON, creating the directory if needed.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnvOverrides lets CELLSTORE_* variables win over file values.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CELLSTORE_STORAGE_MODE", &c.Storage.Mode)
	envStr("CELLSTORE_DATA_DIR", &c.Storage.DataDir)
	envStr("CELLSTORE_POSTGRES_DSN", &c.Storage.PostgresDSN)
	envStr("CELLSTORE_REDIS_ADDR", &c.Storage.RedisAddr)
	envStr("CELLSTORE_REDIS_PASSWORD", &c.Storage.RedisPass)
	envStr("CELLSTORE_SECRET", &c.Secrets.EncryptionKey)
	envStr("CELLSTORE_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CELLSTORE_S3_BUCKET", &c.Backup.Bucket)
	envStr("CELLSTORE_BACKUP_SCHEDULE", &c.Backup.Schedule)
	envStr("CELLSTORE_S3_ENDPOINT", &c.Backup.Endpoint)

	if v := os.Getenv("CELLSTORE_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Storage.DebounceMS = n
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.Storage
	switch s.Mode {
	case ModeFile, ModeSQLite, ModeMemory:
	case ModePostgres:
		if s.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required in postgres mode")
		}
	case ModeRedis:
		if s.RedisAddr == "" {
			return errors.New("storage.redis_addr is required in redis mode")
		}
	default:
		return fmt.Errorf("storage.mode %q: want one of file, sqlite, postgres, redis, memory", s.Mode)
	}
	if s.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if s.DebounceMS < 0 || s.HistoryDebounceMS < 0 {
		return errors.New("storage debounce must not be negative")
	}
	if s.CacheSize < 0 {
		return errors.New("storage.cache_size must not be negative")
	}
	if s.WritesPerSec < 0 {
		return errors.New("storage.writes_per_sec must not be negative")
	}
	if p := c.Telemetry.Protocol; p != "" && p != "grpc" && p != "http" {
		return fmt.Errorf("telemetry.protocol %q: want grpc or http", p)
	}
	if c.Backup.Bucket != "" && c.Backup.Region == "" {
		return errors.New("backup.s3_region is required when s3_bucket is set")
	}
	if (c.Backup.KeyID == "") != (c.Backup.Secret == "") {
		return errors.New("backup.s3_access_key_id and s3_secret_access_key must be set together")
	}
	if expr := c.Backup.Schedule; expr != "" && !gronx.New().IsValid(expr) {
		return fmt.Errorf("backup.schedule %q is not a valid cron expression", expr)
	}
	return nil
}

// Debounce converts DebounceMS.
func (c *Config) Debounce() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Storage.DebounceMS) * time.Millisecond
}

// HistoryDebounce converts HistoryDebounceMS.
func (c *Config) HistoryDebounce() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Storage.HistoryDebounceMS) * time.Millisecond
}

// SQLitePath defaults to <data_dir>/kv.db.
func (c *Config) SQLitePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath
	}
	return filepath.Join(c.Storage.DataDir, "kv.db")
}

// Hash identifies the current content, for change detection on reload.
func (c *Config) Hash() string {
	c.mu.RLock()
	data, _ := json.Marshal(c)
	c.mu.RUnlock()
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// ReplaceFrom copies src's settings into c in place, so holders of c see the
// reloaded values.
func (c *Config) ReplaceFrom(src *Config) {
	src.mu.RLock()
	storage, secrets, telemetry, backup := src.Storage, src.Secrets, src.Telemetry, src.Backup
	src.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Storage, c.Secrets, c.Telemetry, c.Backup = storage, secrets, telemetry, backup
}

// MaskedCopy returns a copy safe to print: passwords, DSNs and keys are
// masked.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := &Config{Storage: c.Storage, Secrets: c.Secrets, Telemetry: c.Telemetry, Backup: c.Backup}
	mask := func(s *string) {
		if *s != "" {
			*s = maskedValue
		}
	}
	mask(&cp.Storage.PostgresDSN)
	mask(&cp.Storage.RedisPass)
	mask(&cp.Secrets.EncryptionKey)
	mask(&cp.Backup.Secret)
	return cp
}

func (c *Config) expandPaths() {
	c.Storage.DataDir = ExpandHome(c.Storage.DataDir)
	c.Storage.SQLitePath = ExpandHome(c.Storage.SQLitePath)
	c.Backup.Dir = ExpandHome(c.Backup.Dir)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}
