// Package main runs a single command under a terminal handoff.
//
// The process's own terminal (stdin) is handed to the command, which runs on
// a fresh pseudo-terminal. Output, input and window size changes are relayed
// until the command exits, after which the terminal is restored.
//
// Usage:
//
//	handoff [-config file] [-metrics-addr addr] -- command [args...]
//
// Configuration:
//   - Config file (YAML, or TOML with a .toml extension)
//   - Environment variables (override the file)
//   - CLI flags (override both)
//
// Exit status is the command's own. A command killed by a signal exits with
// 128+signal, a cancelled handoff with 130, and a failed start with 1.
//
// Signals:
//   - SIGINT, SIGTERM: cancel the handoff and restore the terminal
package main
