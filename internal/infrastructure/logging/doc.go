// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// The handoff CLI owns the terminal while a session runs, so log output
// defaults to stderr and can be redirected to a file with OutputPaths.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("handoff started", zap.String("session", id.String()))
//	logger.Error("restore failed", zap.Error(err))
package logging
