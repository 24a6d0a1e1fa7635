package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	appLog "planner/internal/log"
)

const (
	defaultListen        = "127.0.0.1:8080"
	defaultTimezone      = "Asia/Seoul"
	defaultWeekStart     = "monday"
	defaultLogLevel      = "info"
	defaultDataPath      = "/var/lib/planner/data.yaml"
	defaultCacheDir      = "/var/lib/planner/ics-cache"
	defaultSyncCron      = "*/30 * * * *"
	defaultMaxWindowDays = 400
)

// CalendarConfig describes an external ICS calendar subscribed into a
// workspace.
type CalendarConfig struct {
	// ID is an internal identifier, stored on imported events as their source.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// Workspace receives the imported events.
	Workspace string `yaml:"workspace" json:"workspace"`
}

// SourceID returns ID, falling back to Name and then URL.
func (c CalendarConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
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

	// Timezone is the IANA zone used to interpret "today" and to render
	// occurrences (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday"; used for week windows.
	WeekStart string `yaml:"week_start" json:"week_start"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// DataPath is the YAML file holding workspaces, plans, tasks and events.
	DataPath string `yaml:"data_path" json:"data_path"`

	// CacheDir stores HTTP cache metadata for calendar subscriptions.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// SyncCron is a standard 5-field cron spec for subscription sync.
	SyncCron string `yaml:"sync" json:"sync"`

	// MaxWindowDays bounds query windows accepted by the API.
	MaxWindowDays int `yaml:"max_window_days" json:"max_window_days"`

	// Calendars is the list of subscribed ICS sources.
	Calendars []CalendarConfig `yaml:"calendars" json:"calendars"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        defaultListen,
		Timezone:      defaultTimezone,
		WeekStart:     defaultWeekStart,
		LogLevel:      defaultLogLevel,
		DataPath:      defaultDataPath,
		CacheDir:      defaultCacheDir,
		SyncCron:      defaultSyncCron,
		MaxWindowDays: defaultMaxWindowDays,
		Calendars:     []CalendarConfig{},
		BasicAuth:     nil,
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}

	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		c.WeekStart = defaultWeekStart
	}

	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.DataPath == "" {
		c.DataPath = defaultDataPath
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}

	if c.SyncCron == "" {
		c.SyncCron = defaultSyncCron
	} else if _, err := cron.ParseStandard(c.SyncCron); err != nil {
		appLog.Error("config: invalid sync schedule, using default", err, "sync", c.SyncCron)
		c.SyncCron = defaultSyncCron
	}

	if c.MaxWindowDays <= 0 {
		c.MaxWindowDays = defaultMaxWindowDays
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Error("config: failed to load timezone; falling back to local", err, "name", c.Timezone)
		return time.Local
	}
	return loc
}

// FirstWeekday returns the weekday that starts a week.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there with
//     0600 perms and returned.
//   - Otherwise the YAML is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
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

	tmp, err := os.CreateTemp(dir, ".planner-config-*.tmp")
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

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
