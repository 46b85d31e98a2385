package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// FileEnv names the environment variable holding an optional config file path.
const FileEnv = "HANDOFF_CONFIG"

// Config holds all application configuration.
type Config struct {
	Handoff HandoffConfig `yaml:"handoff" toml:"handoff"`
	Logging LogConfig     `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
	Breaker BreakerConfig `yaml:"breaker" toml:"breaker"`
	Cleanup CleanupConfig `yaml:"cleanup" toml:"cleanup"`
}

// HandoffConfig holds session behaviour.
type HandoffConfig struct {
	DrainGrace      time.Duration `envconfig:"HANDOFF_DRAIN_GRACE" yaml:"drain_grace" toml:"drain_grace"`
	KillTimeout     time.Duration `envconfig:"HANDOFF_KILL_TIMEOUT" yaml:"kill_timeout" toml:"kill_timeout"`
	DefaultRows     uint16        `envconfig:"HANDOFF_DEFAULT_ROWS" yaml:"default_rows" toml:"default_rows"`
	DefaultCols     uint16        `envconfig:"HANDOFF_DEFAULT_COLS" yaml:"default_cols" toml:"default_cols"`
	Term            string        `envconfig:"HANDOFF_TERM" yaml:"term" toml:"term"`
	Raw             bool          `envconfig:"HANDOFF_RAW" yaml:"raw" toml:"raw"`
	WatchWindowSize bool          `envconfig:"HANDOFF_WATCH_WINCH" yaml:"watch_window_size" toml:"watch_window_size"`
	ResizeRate      float64       `envconfig:"HANDOFF_RESIZE_RATE" yaml:"resize_rate" toml:"resize_rate"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
	File        string `envconfig:"LOG_FILE" yaml:"file" toml:"file"`
}

// MetricsConfig holds the optional status/metrics HTTP listener.
type MetricsConfig struct {
	Address           string   `envconfig:"METRICS_ADDR" yaml:"address" toml:"address"`
	RequestsPerSecond int      `envconfig:"METRICS_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int      `envconfig:"METRICS_BURST" yaml:"burst" toml:"burst"`
	CORSOrigins       []string `envconfig:"METRICS_CORS_ORIGINS" yaml:"cors_origins" toml:"cors_origins"`
	MaxConnections    int      `envconfig:"METRICS_MAX_CONNS" yaml:"max_connections" toml:"max_connections"`
}

// BreakerConfig holds the spawn circuit breaker settings.
type BreakerConfig struct {
	Threshold uint32        `envconfig:"BREAKER_THRESHOLD" yaml:"threshold" toml:"threshold"`
	Cooldown  time.Duration `envconfig:"BREAKER_COOLDOWN" yaml:"cooldown" toml:"cooldown"`
}

// CleanupConfig holds the release cleanup defaults.
type CleanupConfig struct {
	Root     string   `envconfig:"CLEANUP_ROOT" yaml:"root" toml:"root"`
	Keep     []string `envconfig:"CLEANUP_KEEP" yaml:"keep" toml:"keep"`
	MaxDepth int      `envconfig:"CLEANUP_MAX_DEPTH" yaml:"max_depth" toml:"max_depth"`
}

// Load builds configuration from defaults, then the file named by
// HANDOFF_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeFile reads path as TOML when it has a .toml extension and as YAML
// otherwise.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects values the handoff core cannot work with.
func (c *Config) Validate() error {
	if c.Handoff.DrainGrace < 0 {
		return fmt.Errorf("drain grace must not be negative: %s", c.Handoff.DrainGrace)
	}
	if c.Handoff.KillTimeout <= 0 {
		return fmt.Errorf("kill timeout must be positive: %s", c.Handoff.KillTimeout)
	}
	if c.Handoff.ResizeRate <= 0 {
		return fmt.Errorf("resize rate must be positive: %v", c.Handoff.ResizeRate)
	}
	if c.Metrics.RequestsPerSecond <= 0 || c.Metrics.Burst <= 0 {
		return fmt.Errorf("metrics rate limit must be positive: %d rps, burst %d", c.Metrics.RequestsPerSecond, c.Metrics.Burst)
	}
	if c.Metrics.MaxConnections < 0 {
		return fmt.Errorf("metrics max connections must not be negative: %d", c.Metrics.MaxConnections)
	}
	if c.Cleanup.MaxDepth <= 0 {
		return fmt.Errorf("cleanup max depth must be positive: %d", c.Cleanup.MaxDepth)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Handoff: HandoffConfig{
			DrainGrace:      250 * time.Millisecond,
			KillTimeout:     2 * time.Second,
			DefaultRows:     24,
			DefaultCols:     80,
			Term:            "xterm-256color",
			Raw:             true,
			WatchWindowSize: true,
			ResizeRate:      30,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Metrics: MetricsConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			MaxConnections:    64,
		},
		Breaker: BreakerConfig{
			Threshold: 5,
			Cooldown:  30 * time.Second,
		},
		Cleanup: CleanupConfig{
			Root:     "build/Release",
			Keep:     []string{"terminal-handoff.node", "terminal-handoff.pdb"},
			MaxDepth: 32,
		},
	}
}
