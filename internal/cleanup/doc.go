// Package cleanup empties a build output directory while preserving a
// whitelist of artifacts.
//
// The walk is iterative with a depth bound, and the whole tree is scanned
// before anything is deleted, so a tree that is too deep is left untouched.
//
//	plan, err := cleanup.Clean(cleanup.Options{
//		Root:     "build/Release",
//		Keep:     []string{"terminal-handoff.node", "terminal-handoff.pdb"},
//		MaxDepth: 32,
//	})
package cleanup
