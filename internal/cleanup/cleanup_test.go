package cleanup

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var releaseKeep = []string{"terminal-handoff.node", "terminal-handoff.pdb"}

// buildTree creates files (and their parent directories) under a temp root.
// Entries ending in "/" are empty directories.
func buildTree(t *testing.T, entries ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, e := range entries {
		full := filepath.Join(root, filepath.FromSlash(e))
		if strings.HasSuffix(e, "/") {
			require.NoError(t, os.MkdirAll(full, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(e), 0o644))
	}
	return root
}

// listTree returns every path below root, slash-separated and sorted.
func listTree(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			rel += "/"
		}
		out = append(out, rel)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}

func TestCleanReleaseFolder(t *testing.T) {
	root := buildTree(t,
		"terminal-handoff.node",
		"terminal-handoff.pdb",
		"terminal-handoff.exp",
		"obj/terminal-handoff/main.obj",
		"obj/terminal-handoff/deep/er/x.obj",
		"empty/",
		"nested/terminal-handoff.node",
	)

	plan, err := Clean(Options{Root: root, Keep: releaseKeep, MaxDepth: 32, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	// Only the root-level artifacts survive; a same-named file deeper down does not
	assert.Equal(t, []string{"terminal-handoff.node", "terminal-handoff.pdb"}, listTree(t, root))
	assert.Len(t, plan.Kept, 2)
	assert.Len(t, plan.Files, 4)
	assert.Len(t, plan.Dirs, 6)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "root is kept")
}

func TestCleanKeepsDirectoriesHoldingKeptFiles(t *testing.T) {
	root := buildTree(t,
		"lib/x64/handoff.dll",
		"lib/x64/handoff.ilk",
		"lib/arm64/handoff.ilk",
		"a.txt",
	)

	_, err := Clean(Options{Root: root, Keep: []string{"**/*.dll"}, MaxDepth: 8})
	require.NoError(t, err)

	assert.Equal(t, []string{"lib/", "lib/x64/", "lib/x64/handoff.dll"}, listTree(t, root))
}

func TestCleanDirsAreChildrenFirst(t *testing.T) {
	root := buildTree(t, "a/b/c/d/file", "a/e/file")

	plan, err := Scan(root, nil, 8)
	require.NoError(t, err)

	index := make(map[string]int)
	for i, dir := range plan.Dirs {
		index[dir] = i
	}
	for _, dir := range plan.Dirs {
		parent := filepath.Dir(dir)
		if parent == root {
			continue
		}
		assert.Less(t, index[dir], index[parent], "%s must come before %s", dir, parent)
	}
}

func TestCleanMissingRoot(t *testing.T) {
	plan, err := Clean(Options{Root: filepath.Join(t.TempDir(), "build", "Release"), Keep: releaseKeep, MaxDepth: 4})
	require.NoError(t, err)
	assert.Empty(t, plan.Files)
	assert.Empty(t, plan.Dirs)
}

func TestCleanTooDeepDeletesNothing(t *testing.T) {
	root := buildTree(t, "junk.txt", "a/b/c/d/e/file")
	before := listTree(t, root)

	_, err := Clean(Options{Root: root, MaxDepth: 3})
	assert.ErrorIs(t, err, ErrTooDeep)
	assert.Equal(t, before, listTree(t, root))
}

func TestCleanDryRun(t *testing.T) {
	root := buildTree(t, "terminal-handoff.node", "junk.txt", "obj/x.obj")
	before := listTree(t, root)

	plan, err := Clean(Options{Root: root, Keep: releaseKeep, MaxDepth: 4, DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, before, listTree(t, root))
	assert.ElementsMatch(t, []string{filepath.Join(root, "junk.txt"), filepath.Join(root, "obj", "x.obj")}, plan.Files)
	assert.Equal(t, []string{filepath.Join(root, "obj")}, plan.Dirs)
}

func TestCleanDoesNotFollowSymlinks(t *testing.T) {
	outside := buildTree(t, "precious.txt")
	root := buildTree(t, "junk.txt")
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	_, err := Clean(Options{Root: root, MaxDepth: 4})
	require.NoError(t, err)

	assert.Empty(t, listTree(t, root))
	assert.Equal(t, []string{"precious.txt"}, listTree(t, outside))
}

func TestCleanErrors(t *testing.T) {
	t.Run("bad pattern", func(t *testing.T) {
		_, err := Clean(Options{Root: t.TempDir(), Keep: []string{"[unclosed"}, MaxDepth: 4})
		assert.ErrorIs(t, err, ErrBadPattern)
	})

	t.Run("root is a file", func(t *testing.T) {
		root := buildTree(t, "file")
		_, err := Clean(Options{Root: filepath.Join(root, "file"), MaxDepth: 4})
		assert.Error(t, err)
	})
}
