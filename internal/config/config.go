// Package config loads the trail YAML configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/trail/config.yaml"

// Config holds all trail configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Logging   LoggingConfig   `yaml:"logging"`
	Search    SearchConfig    `yaml:"search"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Retention RetentionConfig `yaml:"retention"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Capture   CaptureConfig   `yaml:"capture"`
}

type StorageConfig struct {
	Path              string `yaml:"path"`
	SQLiteFile        string `yaml:"sqlite_file"`
	StateDir          string `yaml:"state_dir"`
	SQLiteJournalMode string `yaml:"sqlite_journal_mode"`
}

type DaemonConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	AuthToken      string `yaml:"auth_token"`
	MaxRequestSize int    `yaml:"max_request_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	FacetsSize   int `yaml:"facets_size"`
	MaxBuckets   int `yaml:"max_buckets"`
	// Timezone names the zone timeline buckets are computed in. Empty
	// means the local zone.
	Timezone string `yaml:"timezone"`
}

type JobsConfig struct {
	Concurrency    int `yaml:"concurrency"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type RetentionConfig struct {
	IntervalHours int `yaml:"interval_hours"`
}

type TrackerConfig struct {
	StaleAfterHours    int `yaml:"stale_after_hours"`
	PurgeIntervalHours int `yaml:"purge_interval_hours"`
}

type CrawlerConfig struct {
	Enabled           bool    `yaml:"enabled"`
	HistoryPath       string  `yaml:"history_path"`
	IntervalHours     int     `yaml:"interval_hours"`
	FloorSeconds      int     `yaml:"floor_seconds"`
	MaxResults        int     `yaml:"max_results"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	ScheduleMinutes   int     `yaml:"schedule_minutes"`
}

type CaptureConfig struct {
	DenylistProtocols []string `yaml:"denylist_protocols"`
	DenylistHosts     []string `yaml:"denylist_hosts"`
	// SensitiveHosts adds DefaultSensitiveHosts to the host denylist.
	SensitiveHosts bool `yaml:"sensitive_hosts"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read or contains invalid YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", c.Logging.Format)
	}
	if c.Daemon.Port < 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("invalid daemon.port %d", c.Daemon.Port)
	}
	if c.Jobs.Concurrency < 0 {
		return fmt.Errorf("invalid jobs.concurrency %d", c.Jobs.Concurrency)
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid crawler.requests_per_second %v", c.Crawler.RequestsPerSecond)
	}
	if c.Search.Timezone != "" {
		if _, err := time.LoadLocation(c.Search.Timezone); err != nil {
			return fmt.Errorf("invalid search.timezone: %w", err)
		}
	}
	return nil
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// DBPath returns the expanded path of the session database.
func (c *Config) DBPath() (string, error) {
	if c.Storage.SQLiteFile == ":memory:" {
		return c.Storage.SQLiteFile, nil
	}
	dir, err := ExpandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// StateDir returns the expanded directory of the key-value state store.
func (c *Config) StateDir() (string, error) {
	dir, err := ExpandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.StateDir), nil
}

// Addr returns the daemon listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Daemon.Host, strconv.Itoa(c.Daemon.Port))
}

// Location returns the zone timeline buckets are computed in.
func (c *Config) Location() *time.Location {
	if c.Search.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Search.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// DenyHosts returns the configured host denylist.
func (c *Config) DenyHosts() []string {
	hosts := append([]string(nil), c.Capture.DenylistHosts...)
	if c.Capture.SensitiveHosts {
		hosts = append(hosts, DefaultSensitiveHosts()...)
	}
	return hosts
}

func hours(n int) time.Duration { return time.Duration(n) * time.Hour }

// JobTimeout returns the queue timeout. Zero disables it.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutSeconds) * time.Second
}

// RetentionInterval returns how often the retention policy runs.
func (c *Config) RetentionInterval() time.Duration { return hours(c.Retention.IntervalHours) }

// StaleAfter returns the age at which pending navigations are dropped.
func (c *Config) StaleAfter() time.Duration { return hours(c.Tracker.StaleAfterHours) }

// PurgeInterval returns how often stale pending navigations are purged.
func (c *Config) PurgeInterval() time.Duration { return hours(c.Tracker.PurgeIntervalHours) }

// CrawlSchedule returns how often the history crawler runs.
func (c *Config) CrawlSchedule() time.Duration {
	return time.Duration(c.Crawler.ScheduleMinutes) * time.Minute
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := ExpandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}
