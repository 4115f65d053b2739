package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "filewatchd.toml", `
[watch]
paths = ["/docs"]
include_patterns = ["**/*.md"]
checksum_interval_sec = 30
checksum_size_limit_kb = 512
algorithm = "blake2b"

[journal]
enabled = false

[logging]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/docs"}, cfg.Watch.Paths)
	assert.Equal(t, []string{"**/*.md"}, cfg.Watch.IncludePatterns)
	assert.Equal(t, 30, cfg.Watch.ChecksumIntervalSec)
	assert.Equal(t, 512, cfg.Watch.ChecksumSizeLimitKB)
	assert.Equal(t, "blake2b", cfg.Watch.Algorithm)
	assert.False(t, cfg.Journal.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Unset fields keep their defaults.
	assert.Equal(t, 2000, cfg.Watch.PollIntervalMs)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "filewatchd.yaml", `
watch:
  paths:
    - /notes
  exclude_patterns:
    - "**/*.tmp"
logging:
  level: warn
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/notes"}, cfg.Watch.Paths)
	assert.Equal(t, []string{"**/*.tmp"}, cfg.Watch.ExcludePatterns)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "filewatchd.json", `{"watch": {"paths": ["/x"]}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/x"}, cfg.Watch.Paths)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeConfig(t, "filewatchd.ini", "[watch]")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad algorithm", func(c *Config) { c.Watch.Algorithm = "md5" }},
		{"negative interval", func(c *Config) { c.Watch.ChecksumIntervalSec = -1 }},
		{"bad size limit", func(c *Config) { c.Watch.ChecksumSizeLimitKB = -2 }},
		{"zero poll interval", func(c *Config) { c.Watch.PollIntervalMs = 0 }},
		{"bad include glob", func(c *Config) { c.Watch.IncludePatterns = []string{"[unclosed"} }},
		{"bad exclude glob", func(c *Config) { c.Watch.ExcludePatterns = []string{"[unclosed"} }},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"journal without path", func(c *Config) { c.Journal.Enabled = true; c.Journal.Path = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FILEWATCHD_LOG_LEVEL", "error")
	t.Setenv("FILEWATCHD_JOURNAL_PATH", "/tmp/override.db")
	t.Setenv("FILEWATCHD_POLL_INTERVAL_MS", "500")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, "/tmp/override.db", cfg.Journal.Path)
	assert.Equal(t, 500, cfg.Watch.PollIntervalMs)
}
