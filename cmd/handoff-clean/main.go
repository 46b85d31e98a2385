package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/handoff/internal/cleanup"
	"github.com/GriffinCanCode/handoff/internal/infrastructure/config"
	"github.com/GriffinCanCode/handoff/internal/infrastructure/logging"
)

const banner = "\x1b[32m> Cleaning release folder...\x1b[0m"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "handoff-clean: %v\n", err)
		os.Exit(1)
	}

	root := flag.String("root", cfg.Cleanup.Root, "Release folder to clean")
	keep := flag.String("keep", strings.Join(cfg.Cleanup.Keep, ","), "Comma-separated patterns to keep")
	dryRun := flag.Bool("dry-run", false, "Print what would be removed")
	flag.Parse()

	logger := logging.NewDefault()
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	}
	defer logger.Sync() //nolint:errcheck

	fmt.Println(banner)

	plan, err := cleanup.Clean(cleanup.Options{
		Root:     *root,
		Keep:     splitPatterns(*keep),
		MaxDepth: cfg.Cleanup.MaxDepth,
		DryRun:   *dryRun,
		Logger:   logger.Logger,
	})
	if err != nil {
		logger.Error("Cleanup failed", zap.String("root", *root), zap.Error(err))
		logger.Sync() //nolint:errcheck
		os.Exit(1)
	}

	if *dryRun {
		for _, p := range plan.Files {
			fmt.Println(p)
		}
		for _, p := range plan.Dirs {
			fmt.Println(p + string(os.PathSeparator))
		}
	}
}

func splitPatterns(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
