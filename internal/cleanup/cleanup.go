package cleanup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/handoff/internal/infrastructure/logging"
)

var (
	// ErrTooDeep is returned when the tree is deeper than the configured bound.
	// Nothing is deleted in that case.
	ErrTooDeep = errors.New("directory tree too deep")

	// ErrBadPattern is returned for a keep pattern doublestar cannot parse.
	ErrBadPattern = errors.New("invalid keep pattern")
)

// Options configures a clean.
type Options struct {
	// Root is the directory to empty. It is never removed itself.
	Root string
	// Keep holds doublestar patterns matched against slash-separated paths
	// relative to Root, e.g. "terminal-handoff.node" or "**/*.pdb".
	Keep []string
	// MaxDepth bounds how many directory levels below Root are visited.
	MaxDepth int
	// DryRun plans without deleting.
	DryRun bool
	Logger *zap.Logger
}

// Plan lists what a clean removes. Paths are absolute or relative exactly as
// Root was given.
type Plan struct {
	Files []string
	// Dirs are ordered children first, so they can be removed in sequence.
	Dirs []string
	Kept []string
}

// Clean removes everything under opts.Root except files matching opts.Keep
// and the directories leading to them. A missing root is not an error.
func Clean(opts Options) (*Plan, error) {
	logger := logging.OrNop(opts.Logger)

	plan, err := Scan(opts.Root, opts.Keep, opts.MaxDepth)
	if err != nil {
		return nil, err
	}

	logger.Info("Cleaning release folder",
		zap.String("root", opts.Root),
		zap.Int("files", len(plan.Files)),
		zap.Int("dirs", len(plan.Dirs)),
		zap.Int("kept", len(plan.Kept)),
		zap.Bool("dry_run", opts.DryRun),
	)
	if opts.DryRun {
		return plan, nil
	}
	return plan, plan.Apply(logger)
}

type frame struct {
	rel   string // slash-separated, "" for the root
	depth int
}

// Scan walks root with an explicit stack and works out what Clean would do.
// Symbolic links are treated as files and never followed.
func Scan(root string, keep []string, maxDepth int) (*Plan, error) {
	for _, pattern := range keep {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
		}
	}

	plan := &Plan{}
	info, err := os.Lstat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return plan, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("clean %s: not a directory", root)
	}

	var (
		stack    = []frame{{rel: "", depth: 0}}
		preorder []string
		// holds every directory with a kept file somewhere below it
		occupied = make(map[string]bool)
	)

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(top.rel)))
		if err != nil {
			return nil, err
		}

		for _, entry := range entries {
			rel := path.Join(top.rel, entry.Name())

			if entry.IsDir() {
				if top.depth+1 > maxDepth {
					return nil, fmt.Errorf("%w: %s is more than %d levels below %s", ErrTooDeep, rel, maxDepth, root)
				}
				preorder = append(preorder, rel)
				stack = append(stack, frame{rel: rel, depth: top.depth + 1})
				continue
			}

			full := filepath.Join(root, filepath.FromSlash(rel))
			if matchesAny(keep, rel) {
				plan.Kept = append(plan.Kept, full)
				for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
					occupied[dir] = true
				}
				continue
			}
			plan.Files = append(plan.Files, full)
		}
	}

	// Reversed pre-order puts every directory after all of its descendants
	for i := len(preorder) - 1; i >= 0; i-- {
		if occupied[preorder[i]] {
			continue
		}
		plan.Dirs = append(plan.Dirs, filepath.Join(root, filepath.FromSlash(preorder[i])))
	}
	return plan, nil
}

func matchesAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Apply deletes the planned files, then the planned directories.
func (p *Plan) Apply(logger *zap.Logger) error {
	logger = logging.OrNop(logger)

	for _, file := range p.Files {
		if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		logger.Debug("Removed file", zap.String("path", file))
	}
	for _, dir := range p.Dirs {
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		logger.Debug("Removed directory", zap.String("path", dir))
	}
	return nil
}
