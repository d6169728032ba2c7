// Package config loads the purge tool configuration: built-in defaults, then
// an optional YAML file, then CALDORA_PURGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/cyp0633/caldora-purge/recurrence"
)

// EnvPrefix prefixes every environment variable the config reads.
const EnvPrefix = "CALDORA_PURGE_"

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// StoreConfig selects the calendar store.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "memory".
	Driver string `yaml:"driver" env:"DRIVER"`
	// Path is the SQLite database file.
	Path string `yaml:"path" env:"PATH"`
}

// Config is the top-level application configuration.
type Config struct {
	Store StoreConfig `yaml:"store" envPrefix:"STORE_"`

	// DirectoryFile is a YAML accounts file. Empty disables directory
	// lookups.
	DirectoryFile string `yaml:"directory_file" env:"DIRECTORY_FILE"`

	// JournalPath is the Badger directory of the purge journal. Empty
	// disables the journal.
	JournalPath string `yaml:"journal_path" env:"JOURNAL_PATH"`

	// LockFile guards against two purge runs at once.
	LockFile string `yaml:"lock_file" env:"LOCK_FILE"`

	// PastEvents is "retain" or "delete": what happens to fully past,
	// non-recurring meetings organized by the purged principal.
	PastEvents string `yaml:"past_events" env:"PAST_EVENTS"`

	Concurrency int           `yaml:"concurrency" env:"CONCURRENCY"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Completely  bool          `yaml:"completely" env:"COMPLETELY"`
	Proxies     bool          `yaml:"proxies" env:"PROXIES"`

	// Schedule is the cron expression used by the watch command.
	Schedule string `yaml:"schedule" env:"SCHEDULE"`
	// Principals is the queue of UIDs the watch command purges.
	Principals []string `yaml:"principals" env:"PRINCIPALS" envSeparator:","`

	// OTLPEndpoint enables trace export when set, e.g. "localhost:4318".
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store:       StoreConfig{Driver: DriverSQLite, Path: "caldora.db"},
		LockFile:    "caldora-purge.lock",
		PastEvents:  "retain",
		Concurrency: 4,
		Timeout:     30 * time.Minute,
		Completely:  true,
		Schedule:    "0 3 * * *",
		Principals:  []string{},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.Driver == DriverSQLite && c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.LockFile == "" {
		c.LockFile = def.LockFile
	}
	c.PastEvents = strings.ToLower(strings.TrimSpace(c.PastEvents))
	if c.PastEvents == "" {
		c.PastEvents = def.PastEvents
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Timeout < 0 {
		c.Timeout = 0
	}
	if c.Schedule == "" {
		c.Schedule = def.Schedule
	}

	var uids []string
	for _, uid := range c.Principals {
		if uid = strings.TrimSpace(uid); uid != "" {
			uids = append(uids, uid)
		}
	}
	c.Principals = uids
	if c.Principals == nil {
		c.Principals = []string{}
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if _, err := recurrence.ParsePastEventPolicy(c.PastEvents); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}
	return nil
}

// PastEventPolicy returns the engine policy selected by PastEvents.
func (c *Config) PastEventPolicy() recurrence.PastEventPolicy {
	p, err := recurrence.ParsePastEventPolicy(c.PastEvents)
	if err != nil {
		return recurrence.RetainPastEvents
	}
	return p
}

// Load builds the configuration. An empty path skips the file. Environment
// variables override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any CALDORA_PURGE_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save writes cfg to path with 0600 permissions, replacing the file
// atomically.
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

	tmp, err := os.CreateTemp(dir, ".caldora-purge-config-*.tmp")
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
