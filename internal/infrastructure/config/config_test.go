package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Handoff config
	assert.Equal(t, 250*time.Millisecond, cfg.Handoff.DrainGrace)
	assert.Equal(t, 2*time.Second, cfg.Handoff.KillTimeout)
	assert.Equal(t, uint16(24), cfg.Handoff.DefaultRows)
	assert.Equal(t, uint16(80), cfg.Handoff.DefaultCols)
	assert.Equal(t, "xterm-256color", cfg.Handoff.Term)
	assert.True(t, cfg.Handoff.Raw)
	assert.True(t, cfg.Handoff.WatchWindowSize)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Metrics listener is off unless asked for
	assert.Empty(t, cfg.Metrics.Address)
	assert.Equal(t, 20, cfg.Metrics.RequestsPerSecond)
	assert.Equal(t, 40, cfg.Metrics.Burst)
	assert.Empty(t, cfg.Metrics.CORSOrigins)
	assert.Equal(t, 64, cfg.Metrics.MaxConnections)

	// Breaker config
	assert.Equal(t, uint32(5), cfg.Breaker.Threshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.Cooldown)

	// Cleanup config
	assert.Equal(t, "build/Release", cfg.Cleanup.Root)
	assert.Equal(t, []string{"terminal-handoff.node", "terminal-handoff.pdb"}, cfg.Cleanup.Keep)

	require.NoError(t, cfg.Validate())
}

func TestLoadOrDefault(t *testing.T) {
	// Should return default when no env vars set
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, 250*time.Millisecond, cfg.Handoff.DrainGrace)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"HANDOFF_DRAIN_GRACE":  "500ms",
		"HANDOFF_KILL_TIMEOUT": "5s",
		"HANDOFF_DEFAULT_ROWS": "50",
		"HANDOFF_DEFAULT_COLS": "132",
		"HANDOFF_TERM":         "vt100",
		"HANDOFF_RAW":          "false",
		"HANDOFF_WATCH_WINCH":  "false",
		"HANDOFF_RESIZE_RATE":  "5",
		"LOG_LEVEL":            "debug",
		"LOG_DEV":              "true",
		"METRICS_ADDR":         "127.0.0.1:9464",
		"BREAKER_THRESHOLD":    "2",
		"BREAKER_COOLDOWN":     "1m",
		"CLEANUP_KEEP":         "*.node,*.pdb",
	}

	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Handoff.DrainGrace)
	assert.Equal(t, 5*time.Second, cfg.Handoff.KillTimeout)
	assert.Equal(t, uint16(50), cfg.Handoff.DefaultRows)
	assert.Equal(t, uint16(132), cfg.Handoff.DefaultCols)
	assert.Equal(t, "vt100", cfg.Handoff.Term)
	assert.False(t, cfg.Handoff.Raw)
	assert.False(t, cfg.Handoff.WatchWindowSize)
	assert.Equal(t, 5.0, cfg.Handoff.ResizeRate)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Address)

	assert.Equal(t, uint32(2), cfg.Breaker.Threshold)
	assert.Equal(t, time.Minute, cfg.Breaker.Cooldown)
	assert.Equal(t, []string{"*.node", "*.pdb"}, cfg.Cleanup.Keep)
}

func TestLoadWithPartialEnvironmentVariables(t *testing.T) {
	t.Setenv("HANDOFF_TERM", "screen")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Verify overridden values
	assert.Equal(t, "screen", cfg.Handoff.Term)
	assert.Equal(t, "warn", cfg.Logging.Level)

	// Verify default values still apply
	assert.Equal(t, 250*time.Millisecond, cfg.Handoff.DrainGrace)
	assert.Equal(t, uint16(80), cfg.Handoff.DefaultCols)
	assert.True(t, cfg.Handoff.Raw)
}

func TestLoadFileLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handoff.yaml")
	content := `
handoff:
  term: linux
  default_rows: 40
  raw: false
logging:
  level: error
cleanup:
  root: out/Release
  keep:
    - "*.node"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	// Environment beats the file
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "linux", cfg.Handoff.Term)
	assert.Equal(t, uint16(40), cfg.Handoff.DefaultRows)
	assert.False(t, cfg.Handoff.Raw)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "out/Release", cfg.Cleanup.Root)
	assert.Equal(t, []string{"*.node"}, cfg.Cleanup.Keep)

	// Untouched by file or environment
	assert.Equal(t, uint16(80), cfg.Handoff.DefaultCols)
	assert.Equal(t, 2*time.Second, cfg.Handoff.KillTimeout)
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handoff.toml")
	content := `
[handoff]
term = "screen-256color"
default_cols = 120

[metrics]
address = "127.0.0.1:9464"
cors_origins = ["http://localhost:3000"]

[cleanup]
keep = ["*.node", "*.pdb", "*.dll"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "screen-256color", cfg.Handoff.Term)
	assert.Equal(t, uint16(120), cfg.Handoff.DefaultCols)
	assert.Equal(t, uint16(24), cfg.Handoff.DefaultRows)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Address)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Metrics.CORSOrigins)
	assert.Equal(t, 20, cfg.Metrics.RequestsPerSecond)
	assert.Equal(t, []string{"*.node", "*.pdb", "*.dll"}, cfg.Cleanup.Keep)
}

func TestLoadFromConfigEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handoff.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metrics:\n  address: \":9100\"\n"), 0o600))
	t.Setenv(FileEnv, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Metrics.Address)
}

func TestLoadFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("handoff: [unterminated"), 0o600))

		_, err := LoadFile(path)
		assert.Error(t, err)
	})

	t.Run("malformed toml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("[handoff\nterm = "), 0o600))

		_, err := LoadFile(path)
		assert.Error(t, err)
	})

	t.Run("bad env value", func(t *testing.T) {
		t.Setenv("HANDOFF_DRAIN_GRACE", "soon")

		_, err := LoadFile("")
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "zero drain grace allowed",
			mutate:  func(c *Config) { c.Handoff.DrainGrace = 0 },
			wantErr: false,
		},
		{
			name:    "negative drain grace",
			mutate:  func(c *Config) { c.Handoff.DrainGrace = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero kill timeout",
			mutate:  func(c *Config) { c.Handoff.KillTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero resize rate",
			mutate:  func(c *Config) { c.Handoff.ResizeRate = 0 },
			wantErr: true,
		},
		{
			name:    "zero request rate",
			mutate:  func(c *Config) { c.Metrics.RequestsPerSecond = 0 },
			wantErr: true,
		},
		{
			name:    "zero cleanup depth",
			mutate:  func(c *Config) { c.Cleanup.MaxDepth = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
