// Package main empties a release folder while keeping its build artifacts.
//
// Usage:
//
//	handoff-clean [-root build/Release] [-keep terminal-handoff.node,terminal-handoff.pdb]
//
// Exits 0 on success and 1 on any error.
package main
