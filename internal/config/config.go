// Package config handles configuration loading and validation for
// filewatchd.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Watch configuration for file monitoring.
	Watch WatchConfig `toml:"watch" json:"watch" yaml:"watch"`

	// Journal configuration for the change log.
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// WatchConfig holds file watching configuration.
type WatchConfig struct {
	// Paths lists the files and directories to monitor. Directories are
	// expanded to the files they contain at startup.
	Paths []string `toml:"paths" json:"paths" yaml:"paths"`

	// IncludePatterns are glob patterns for files to include when a
	// directory is expanded. Empty means all files.
	IncludePatterns []string `toml:"include_patterns" json:"include_patterns" yaml:"include_patterns"`

	// ExcludePatterns are glob patterns for files to exclude.
	ExcludePatterns []string `toml:"exclude_patterns" json:"exclude_patterns" yaml:"exclude_patterns"`

	// ChecksumIntervalSec re-checks content every this many seconds in
	// addition to OS events. 0 disables periodic re-checks.
	ChecksumIntervalSec int `toml:"checksum_interval_sec" json:"checksum_interval_sec" yaml:"checksum_interval_sec"`

	// ChecksumSizeLimitKB limits fingerprinting to the leading N KiB of
	// each file. -1 hashes whole files.
	ChecksumSizeLimitKB int `toml:"checksum_size_limit_kb" json:"checksum_size_limit_kb" yaml:"checksum_size_limit_kb"`

	// PollIntervalMs is the scan interval for paths on network mounts,
	// where native notification is unreliable.
	PollIntervalMs int `toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`

	// Algorithm selects the fingerprint hash: "sha256" or "blake2b".
	Algorithm string `toml:"algorithm" json:"algorithm" yaml:"algorithm"`
}

// JournalConfig holds change-log configuration.
type JournalConfig struct {
	// Enabled turns change recording on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database location.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// File, when set, receives the log output instead of stderr.
	File string `toml:"file" json:"file" yaml:"file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Watch: WatchConfig{
			ChecksumIntervalSec: 0,
			ChecksumSizeLimitKB: -1,
			PollIntervalMs:      2000,
			Algorithm:           "sha256",
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    defaultJournalPath(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultJournalPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "filewatchd", "journal.db")
}

// Load reads the configuration file at path on top of the defaults, applies
// environment overrides, and validates the result. TOML, YAML, and JSON are
// accepted, chosen by file extension.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("config: unsupported format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides lets FILEWATCHD_* variables override file values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("FILEWATCHD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FILEWATCHD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("FILEWATCHD_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("FILEWATCHD_POLL_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Watch.PollIntervalMs = ms
		}
	}
}

// Validate checks the configuration before the daemon starts with it.
func (c *Config) Validate() error {
	switch c.Watch.Algorithm {
	case "", "sha256", "blake2b":
	default:
		return fmt.Errorf("config: unknown checksum algorithm %q", c.Watch.Algorithm)
	}
	if c.Watch.ChecksumIntervalSec < 0 {
		return fmt.Errorf("config: checksum_interval_sec must not be negative")
	}
	if c.Watch.ChecksumSizeLimitKB < -1 {
		return fmt.Errorf("config: checksum_size_limit_kb must be -1 or greater")
	}
	if c.Watch.PollIntervalMs <= 0 {
		return fmt.Errorf("config: poll_interval_ms must be positive")
	}
	for _, pattern := range append(append([]string{}, c.Watch.IncludePatterns...), c.Watch.ExcludePatterns...) {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("config: invalid glob pattern %q", pattern)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Logging.Format)
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("config: journal is enabled but journal.path is empty")
	}
	return nil
}
