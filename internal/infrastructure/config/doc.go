// Package config provides 12-factor configuration for the handoff tools.
//
// Configuration is layered: built-in defaults, then an optional YAML or TOML
// file (HANDOFF_CONFIG or the -config flag), then environment variables.
// Files ending in .toml are decoded as TOML, everything else as YAML.
//
// Configuration Sections:
//   - Handoff: drain grace, kill timeout, default size, TERM, raw mode, resize rate
//   - Logging: log level, output format, log file
//   - Metrics: optional status listener, its rate limit, CORS origins and connection cap
//   - Breaker: spawn circuit breaker threshold and cooldown
//   - Cleanup: release directory and whitelisted outputs
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		return err
//	}
//	fmt.Println(cfg.Handoff.DrainGrace)
//
// Environment Variables:
//   - HANDOFF_DRAIN_GRACE, HANDOFF_KILL_TIMEOUT, HANDOFF_TERM, HANDOFF_RAW
//   - HANDOFF_DEFAULT_ROWS, HANDOFF_DEFAULT_COLS, HANDOFF_WATCH_WINCH, HANDOFF_RESIZE_RATE
//   - LOG_LEVEL, LOG_DEV, LOG_FILE
//   - METRICS_ADDR, METRICS_RPS, METRICS_BURST, METRICS_CORS_ORIGINS, METRICS_MAX_CONNS
//   - BREAKER_THRESHOLD, BREAKER_COOLDOWN
//   - CLEANUP_ROOT, CLEANUP_KEEP, CLEANUP_MAX_DEPTH
package config
