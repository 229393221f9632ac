package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"weeklycal/internal/source"
)

const (
	DefaultListen     = "127.0.0.1:8080"
	DefaultTimezone   = "America/New_York"
	DefaultLanguage   = "en"
	DefaultWeekStart  = "sunday"
	DefaultRefresh    = "*/15 * * * *"
	DefaultStaleAfter = time.Hour
	DefaultCacheDir   = "/var/lib/weeklycal/cache"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the web UI and API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CaptureConfig controls the periodic PNG snapshot of the weekly view.
type CaptureConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Output  string `yaml:"output" json:"output"`
	Width   int    `yaml:"width" json:"width"`
	Height  int    `yaml:"height" json:"height"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the display zone. It must be present in the source
	// document's zone table.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Language selects localized event fields.
	Language string `yaml:"language" json:"language"`

	// WeekStart is "sunday" (default) or "monday" for the HTML view.
	WeekStart string `yaml:"week_start" json:"week_start"`

	Source   source.Source `yaml:"source" json:"source"`
	CacheDir string        `yaml:"cache_dir" json:"cache_dir"`

	// RefreshCron is how often the source document is checked for staleness.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// StaleAfterRaw is a duration string such as "90m", "6h" or "1d".
	StaleAfterRaw string `yaml:"stale_after" json:"stale_after"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Capture CaptureConfig `yaml:"capture" json:"capture"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing or unknown values with defaults.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	switch c.WeekStart = strings.ToLower(c.WeekStart); c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = DefaultWeekStart
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.RefreshCron == "" {
		c.RefreshCron = DefaultRefresh
	}
	if c.StaleAfterRaw == "" {
		c.StaleAfterRaw = "1h"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Capture.Output == "" {
		c.Capture.Output = "/var/lib/weeklycal/preview.png"
	}
}

// StaleAfter returns the parsed stale_after duration. Unparseable or
// non-positive values yield DefaultStaleAfter.
func (c *Config) StaleAfter() time.Duration {
	d, err := str2duration.ParseDuration(c.StaleAfterRaw)
	if err != nil || d <= 0 {
		return DefaultStaleAfter
	}
	return d
}

// MondayFirst reports whether weeks start on Monday.
func (c *Config) MondayFirst() bool {
	return c.WeekStart == "monday"
}

// Load reads the YAML config at path. A missing file is created with the
// defaults (0600) and the defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file and rename) with 0600
// permissions, creating the parent directory if needed.
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

	tmp, err := os.CreateTemp(dir, ".weeklycal-config-*.tmp")
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
