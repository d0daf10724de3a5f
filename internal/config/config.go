// Package config handles configuration file loading and validation
// for the tabarch daemon.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Providing defaults for unset values
//   - Validating the resulting configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/tabarch/config"
)

// Config represents the complete daemon configuration.
type Config struct {
	// Feed configures the table subscription.
	Feed FeedConfig `yaml:"feed"`

	// Archive configures the rotating writer and migration.
	Archive ArchiveConfig `yaml:"archive"`

	// Log configures logging output.
	Log LogConfig `yaml:"log"`
}

// FeedConfig configures the table subscription.
type FeedConfig struct {
	// URL is the websocket endpoint of the table feed server.
	URL string `yaml:"url"`

	// Table is the name of the table stream to subscribe to.
	Table string `yaml:"table"`
}

// ArchiveConfig configures the rotating writer and migration.
type ArchiveConfig struct {
	// Scratch is the actively written file location.
	// Default: <tmpdir>/tabarch_<table>.h5
	Scratch string `yaml:"scratch"`

	// Outfile is the final path template, expanded with strftime directives
	// using the finished file's modification time in UTC.
	Outfile string `yaml:"outfile"`

	// Group is the root group path for table columns.
	// Default: "/"
	Group string `yaml:"group"`

	// SizeLimit is the rotation size threshold.
	// Supports "500MB", "2GB", or plain bytes. Zero means 25% of the
	// scratch filesystem's total capacity, computed once at startup.
	SizeLimit ByteSize `yaml:"size_limit"`

	// Period is the rotation age threshold.
	// Format: "30m", "1h", or plain seconds. Default: 1h.
	Period Duration `yaml:"period"`

	// Compression enables gzip compression of column chunks.
	Compression bool `yaml:"compression"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// JSON switches log output from text to JSON.
	JSON bool `yaml:"json"`
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{
			Group:  config.DefaultGroup,
			Period: Duration(config.DefaultPeriod),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	return cfg, nil
}

// applyDefaults fills in values derivable from other settings.
func (c *Config) applyDefaults() {
	if c.Archive.Scratch == "" && c.Feed.Table != "" {
		name := strings.Map(func(r rune) rune {
			if r == '/' || r == '\\' {
				return '_'
			}
			return r
		}, c.Feed.Table)
		c.Archive.Scratch = filepath.Join(os.TempDir(), "tabarch_"+name+".h5")
	}
	if c.Archive.Group == "" {
		c.Archive.Group = config.DefaultGroup
	}
	if c.Archive.Period.Duration() <= 0 {
		c.Archive.Period = Duration(config.DefaultPeriod)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if c.Feed.Table == "" {
		return fmt.Errorf("feed.table is required")
	}
	if c.Archive.Outfile == "" {
		return fmt.Errorf("archive.outfile is required")
	}
	if c.Archive.Scratch == "" {
		return fmt.Errorf("archive.scratch is required")
	}
	if c.Archive.SizeLimit < 0 {
		return fmt.Errorf("archive.size_limit must not be negative")
	}
	if !strings.HasPrefix(c.Archive.Group, "/") {
		return fmt.Errorf("archive.group must be an absolute group path")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// Duration is a time.Duration that can be unmarshaled from YAML.
// Supports: "30m", "1h", or plain seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Try as int (seconds)
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ByteSize is a size in bytes that can be unmarshaled from YAML.
// Supports: "100MB", "1GB", "500KB", or plain bytes.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Try as int64
		var i int64
		if err := unmarshal(&i); err != nil {
			return err
		}
		*b = ByteSize(i)
		return nil
	}
	size, err := parseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(size)
	return nil
}

// parseByteSize parses a size string like "100MB" or "1GB".
func parseByteSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}

	s = strings.TrimSpace(s)
	s = strings.ToUpper(s)

	units := []struct {
		suffix     string
		multiplier int64
	}{
		{"KB", 1024},
		{"MB", 1024 * 1024},
		{"GB", 1024 * 1024 * 1024},
		{"TB", 1024 * 1024 * 1024 * 1024},
		{"B", 1},
	}

	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			var n int64
			if _, err := fmt.Sscanf(numStr, "%d", &n); err != nil {
				return 0, fmt.Errorf("parse byte size %q: %w", s, err)
			}
			return n * u.multiplier, nil
		}
	}

	// Try as plain number
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("parse byte size %q: %w", s, err)
	}
	return n, nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}
