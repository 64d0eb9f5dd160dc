package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvRunsDir names the environment variable consulted for the runs
// directory when no flag is given.
const EnvRunsDir = "RUNS_DIR"

// DefaultRunsDir is the runs directory, relative to the working directory,
// used when neither a flag nor RUNS_DIR is set.
const DefaultRunsDir = "runs"

type Config struct {
	Monitor MonitorConfig `yaml:"monitor"`
	Server  ServerConfig  `yaml:"server"`
}

type MonitorConfig struct {
	RunsDir         string        `yaml:"runs_dir"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	SummaryInterval time.Duration `yaml:"summary_interval"`
	// Notify wakes the poll loop on filesystem events in addition to the
	// ticker. NotifyDebounce is the minimum gap between such extra ticks.
	Notify                 bool          `yaml:"notify"`
	NotifyDebounce         time.Duration `yaml:"notify_debounce"`
	HealthWarningThreshold int           `yaml:"health_warning_threshold"`
}

// ServerConfig controls the optional live feed. An empty Listen disables it.
type ServerConfig struct {
	Listen            string        `yaml:"listen"`
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	AuthToken         string        `yaml:"auth_token"`
}

func defaultConfig() *Config {
	return &Config{
		Monitor: MonitorConfig{
			PollInterval:           500 * time.Millisecond,
			SummaryInterval:        5 * time.Second,
			NotifyDebounce:         50 * time.Millisecond,
			HealthWarningThreshold: 3,
		},
		Server: ServerConfig{
			BroadcastThrottle: 100 * time.Millisecond,
			SnapshotInterval:  5 * time.Second,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads the YAML file at path on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file (or an empty path)
// yields the defaults instead of an error.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return defaultConfig(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return Load(path)
}

// Validate checks that the timings make sense.
func (c *Config) Validate() error {
	if c.Monitor.PollInterval <= 0 {
		return errors.Errorf("monitor.poll_interval must be positive, got %s", c.Monitor.PollInterval)
	}
	if c.Monitor.SummaryInterval <= 0 {
		return errors.Errorf("monitor.summary_interval must be positive, got %s", c.Monitor.SummaryInterval)
	}
	if c.Monitor.NotifyDebounce < 0 {
		return errors.Errorf("monitor.notify_debounce must not be negative, got %s", c.Monitor.NotifyDebounce)
	}
	if c.Monitor.HealthWarningThreshold < 0 {
		return errors.Errorf("monitor.health_warning_threshold must not be negative, got %d", c.Monitor.HealthWarningThreshold)
	}
	if c.Server.Listen != "" && c.Server.BroadcastThrottle <= 0 {
		return errors.Errorf("server.broadcast_throttle must be positive, got %s", c.Server.BroadcastThrottle)
	}
	if c.Server.Listen != "" && c.Server.SnapshotInterval <= 0 {
		return errors.Errorf("server.snapshot_interval must be positive, got %s", c.Server.SnapshotInterval)
	}
	return nil
}

// Seconds converts a fractional number of seconds, as accepted on the
// command line, to a Duration.
func Seconds(s float64) (time.Duration, error) {
	if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
		return 0, errors.Errorf("interval must be a positive number of seconds, got %v", s)
	}
	return time.Duration(s * float64(time.Second)), nil
}

// ResolveRunsDir picks the runs directory: explicit wins, then the
// RUNS_DIR environment variable, then DefaultRunsDir under the working
// directory. A leading ~ is expanded and the result is absolute.
func ResolveRunsDir(explicit string, getenv func(string) string) (string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	dir := explicit
	if dir == "" {
		dir = getenv(EnvRunsDir)
	}
	if dir == "" {
		dir = DefaultRunsDir
	}

	expanded, err := expandHome(dir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", errors.Wrapf(err, "resolving runs dir %s", dir)
	}
	return abs, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "expanding ~")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
