package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Normalize.
const (
	DefaultListen   = "127.0.0.1:8080"
	DefaultTimezone = "UTC"
	DefaultLogLevel = "info"
	DefaultDatabase = "./var/famschedule.db"
	DefaultCacheDir = "./var/feed-cache"
	DefaultSync     = "*/15 * * * *"
	DefaultSyncDays = 30
)

// Environment variables that override the YAML file.
const (
	EnvListen   = "FAMSCHEDULE_LISTEN"
	EnvTimezone = "FAMSCHEDULE_TIMEZONE"
	EnvDatabase = "FAMSCHEDULE_DATABASE"
	EnvLogLevel = "FAMSCHEDULE_LOG_LEVEL"
)

// FeedConfig describes one subscribed ICS calendar.
type FeedConfig struct {
	// ID tags imported events (Event.Source) and must be unique.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// Color is applied to imported events.
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
	// Owner is the participant ID whose busy time this feed describes.
	// Empty means the application user.
	Owner string `yaml:"owner,omitempty" json:"owner,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for views and slot searches.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Database is the SQLite file path.
	Database string `yaml:"database" json:"database"`

	// CacheDir holds per-feed HTTP cache entries.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Sync is a cron spec for periodic feed refresh.
	Sync string `yaml:"sync" json:"sync"`

	// SyncDays is how far ahead feed events are imported.
	SyncDays int `yaml:"sync_days" json:"sync_days"`

	// DemoBusy gives participants without stored events a placeholder
	// schedule so group suggestions have something to work with.
	DemoBusy bool `yaml:"demo_busy" json:"demo_busy"`

	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   DefaultListen,
		Timezone: DefaultTimezone,
		LogLevel: DefaultLogLevel,
		Database: DefaultDatabase,
		CacheDir: DefaultCacheDir,
		Sync:     DefaultSync,
		SyncDays: DefaultSyncDays,
		Feeds:    []FeedConfig{},
	}
}

// Normalize fills in missing values and drops feeds without a URL. Feeds
// without an ID fall back to their name, then their URL.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.Sync == "" {
		c.Sync = DefaultSync
	}
	if c.SyncDays <= 0 {
		c.SyncDays = DefaultSyncDays
	}

	feeds := make([]FeedConfig, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		if strings.TrimSpace(f.URL) == "" {
			continue
		}
		if f.ID == "" {
			f.ID = f.Name
		}
		if f.ID == "" {
			f.ID = f.URL
		}
		feeds = append(feeds, f)
	}
	c.Feeds = feeds
}

// ApplyEnv overrides fields from FAMSCHEDULE_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvTimezone); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv(EnvDatabase); v != "" {
		c.Database = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Location resolves Timezone, falling back to time.Local when it is empty or
// unknown.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read and normalized.
//
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Return cfg anyway so the caller can decide.
				cfg.ApplyEnv()
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".famschedule-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
