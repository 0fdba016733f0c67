// Package config loads organism settings from a YAML or TOML file with
// environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvHome      = "ORGANISM_HOME"
	EnvLogLevel  = "ORGANISM_LOG_LEVEL"
	EnvLogFormat = "ORGANISM_LOG_FORMAT"
)

// DBFile is the long-term memory database inside Home.
const DBFile = "memory.db"

// Config holds all organism settings.
type Config struct {
	// Home is the data directory for the database, run log and playbooks.
	Home string `yaml:"home" toml:"home"`

	Budget  BudgetConfig  `yaml:"budget" toml:"budget"`
	Memory  MemoryConfig  `yaml:"memory" toml:"memory"`
	Reset   ResetConfig   `yaml:"reset" toml:"reset"`
	Meta    MetaConfig    `yaml:"meta" toml:"meta"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// BudgetConfig configures the Budget Governor.
type BudgetConfig struct {
	DefaultMs int64 `yaml:"default_ms" toml:"default_ms"`
}

// MemoryConfig configures the memory tiers.
type MemoryConfig struct {
	StreamCapacity       int    `yaml:"stream_capacity" toml:"stream_capacity"`
	HighActivityCapacity int    `yaml:"high_activity_capacity" toml:"high_activity_capacity"`
	WorkingMaxAge        string `yaml:"working_max_age" toml:"working_max_age"`
	ReinforceWindow      string `yaml:"reinforce_window" toml:"reinforce_window"`
	ArchiveAfter         string `yaml:"archive_after" toml:"archive_after"`
	ArchiveEvery         string `yaml:"archive_every" toml:"archive_every"`
}

// ResetConfig configures the Reset Controller.
type ResetConfig struct {
	Window        int    `yaml:"window" toml:"window"`
	PlanStaleness string `yaml:"plan_staleness" toml:"plan_staleness"`
}

// MetaConfig configures the Meta-Loop.
type MetaConfig struct {
	ScanWindow        int     `yaml:"scan_window" toml:"scan_window"`
	MinSuccess        int     `yaml:"min_success" toml:"min_success"`
	StaleAfter        string  `yaml:"stale_after" toml:"stale_after"`
	UsageHistoryLimit int     `yaml:"usage_history_limit" toml:"usage_history_limit"`
	ValueAlpha        float64 `yaml:"value_alpha" toml:"value_alpha"`
	LowValue          float64 `yaml:"low_value" toml:"low_value"`
	Hysteresis        int     `yaml:"hysteresis" toml:"hysteresis"`
	WatchDebounce     string  `yaml:"watch_debounce" toml:"watch_debounce"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, console
}

// DefaultHome returns ~/.organism, or .organism when no home directory is known.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".organism"
	}
	return filepath.Join(home, ".organism")
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Home:   DefaultHome(),
		Budget: BudgetConfig{DefaultMs: 30000},
		Memory: MemoryConfig{
			StreamCapacity:       20,
			HighActivityCapacity: 50,
			WorkingMaxAge:        "30m",
			ReinforceWindow:      "10m",
			ArchiveAfter:         "720h",
			ArchiveEvery:         "1h",
		},
		Reset: ResetConfig{Window: 3, PlanStaleness: "5s"},
		Meta: MetaConfig{
			ScanWindow:        200,
			MinSuccess:        3,
			StaleAfter:        "720h",
			UsageHistoryLimit: 100,
			ValueAlpha:        0.3,
			LowValue:          0.3,
			Hysteresis:        3,
			WatchDebounce:     "250ms",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the configuration at path on top of the defaults. An empty
// path or a missing file yields the defaults. Files ending in .toml are
// decoded as TOML, everything else as YAML. Environment overrides are
// applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, goerr.Wrap(err, "read config", goerr.V("path", path))
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, err
			}
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return goerr.Wrap(err, "parse toml config", goerr.V("path", path))
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return goerr.Wrap(err, "parse yaml config", goerr.V("path", path))
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return goerr.Wrap(err, "create config directory", goerr.V("path", path))
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return goerr.Wrap(err, "marshal config")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return goerr.Wrap(err, "write config", goerr.V("path", path))
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvHome); v != "" {
		c.Home = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
	}
}

// DBPath returns the long-term memory database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.Home, DBFile)
}

func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// WorkingMaxAge returns how long Working Memory entries live.
func (c *Config) WorkingMaxAge() time.Duration {
	return duration(c.Memory.WorkingMaxAge, 30*time.Minute)
}

// ReinforceWindow returns the window in which repeated uses promote a belief.
func (c *Config) ReinforceWindow() time.Duration {
	return duration(c.Memory.ReinforceWindow, 10*time.Minute)
}

// ArchiveAfter returns the disuse period after which long-term entries are archived.
func (c *Config) ArchiveAfter() time.Duration {
	return duration(c.Memory.ArchiveAfter, 30*24*time.Hour)
}

// ArchiveEvery returns how often the kernel sweeps for unused entries.
func (c *Config) ArchiveEvery() time.Duration {
	return duration(c.Memory.ArchiveEvery, time.Hour)
}

// PlanStaleness returns how long new information may go unplanned.
func (c *Config) PlanStaleness() time.Duration {
	return duration(c.Reset.PlanStaleness, 5*time.Second)
}

// StaleAfter returns the playbook staleness threshold.
func (c *Config) StaleAfter() time.Duration {
	return duration(c.Meta.StaleAfter, 30*24*time.Hour)
}

// WatchDebounce returns the playbook watcher debounce interval.
func (c *Config) WatchDebounce() time.Duration {
	return duration(c.Meta.WatchDebounce, 250*time.Millisecond)
}
