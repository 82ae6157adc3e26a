package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/convergence/pkg/watch"
)

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Rescan whenever a repository gets new commits",
		ArgsUsage: "[path...]",
		Description: `Runs a scan, then watches each repository's git metadata and rescans
when HEAD moves to a different commit. Unchanged commits come from the
score cache, so rescans only score what is new.`,
		Flags: append(scanFlags(),
			&cli.DurationFlag{
				Name:  "debounce",
				Value: watch.DefaultDebounce,
				Usage: "Quiet period before heads are compared",
			},
		),
		Action: runWatchCmd,
	}
}

func runWatchCmd(c *cli.Context) error {
	cfg, logger, err := scanSetup(c)
	if err != nil {
		return err
	}
	paths := scanPaths(c, cfg)

	ctx, cancel := signalContext(c)
	defer cancel()

	if err := runScan(ctx, c, cfg, logger, paths, false); err != nil {
		return err
	}

	watcher, err := watch.NewWatcher(paths,
		watch.WithDebounce(c.Duration("debounce")),
		watch.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Stop()

	watcher.SetCallback(func(changed []string) {
		color.New(color.FgYellow).Fprintf(writer(c), "\nNew commits in %s at %s\n",
			strings.Join(changed, ", "), time.Now().Format("15:04:05"))
		if err := runScan(ctx, c, cfg, logger, paths, false); err != nil {
			logger.WithError(err).Error("rescan failed")
		}
	})

	color.New(color.FgCyan).Fprintf(writer(c), "Watching %d repositories. Press Ctrl+C to stop.\n", len(paths))
	err = watcher.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
