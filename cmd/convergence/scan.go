package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/convergence/internal/output"
	"github.com/panbanda/convergence/internal/progress"
	"github.com/panbanda/convergence/internal/remote"
	"github.com/panbanda/convergence/internal/schema"
	"github.com/panbanda/convergence/internal/service/scan"
	"github.com/panbanda/convergence/pkg/config"
)

func scanCmd() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "Score commit history and estimate the convergence date",
		ArgsUsage: "[path...]",
		Description: `Reads the history of each repository, scores every commit against the
rubric, aggregates capability into time buckets, fits growth models and
estimates when capability reaches the target fraction of its asymptote.

Paths default to repos.paths from the config, then the current directory.
Remote repositories (owner/repo, host/path, or git URLs, with an optional
@ref) are cloned with full history into a temporary directory.

Examples:
  convergence scan
  convergence scan ../core ../tools --inception 2024-01-15
  convergence scan panbanda/agent@main
  convergence -f json scan --validate`,
		Flags: append(scanFlags(),
			&cli.BoolFlag{
				Name:  "validate",
				Usage: "Check the result against the published JSON schema before writing it",
			},
			&cli.BoolFlag{
				Name:  "no-progress",
				Usage: "Hide progress bars",
			},
		),
		Action: runScanCmd,
	}
}

func scanFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "inception",
			Usage: "Goal inception date (YYYY-MM-DD); earlier commits are excluded",
		},
		&cli.StringFlag{
			Name:  "bucket",
			Usage: "Time bucket width: 1d, 1w, 2w, 1m",
		},
		&cli.BoolFlag{
			Name:  "semantic",
			Usage: "Enable model-backed classification for commits the rubric misses",
		},
		&cli.BoolFlag{
			Name:  "native-git",
			Usage: "Read history through the git binary instead of go-git",
		},
	}
}

func runScanCmd(c *cli.Context) error {
	cfg, logger, err := scanSetup(c)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c)
	defer cancel()

	var cloneProgress io.Writer = io.Discard
	if !c.Bool("no-progress") {
		cloneProgress = c.App.ErrWriter
	}
	paths, cleanup, err := remote.Resolve(ctx, scanPaths(c, cfg), cloneProgress)
	if err != nil {
		return err
	}
	defer cleanup()

	return runScan(ctx, c, cfg, logger, paths, !c.Bool("no-progress"))
}

// scanSetup loads config and applies the scan flags shared by scan and watch.
func scanSetup(c *cli.Context) (*config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	if v := c.String("inception"); v != "" {
		cfg.Goal.InceptionDate = v
	}
	if v := c.String("bucket"); v != "" {
		cfg.Aggregation.Bucket = v
	}
	if c.Bool("semantic") {
		cfg.Semantic.Enabled = true
	}
	if c.Bool("native-git") {
		cfg.Repos.NativeGit = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(c, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func scanPaths(c *cli.Context, cfg *config.Config) []string {
	if c.Args().Len() > 0 || len(cfg.Repos.Paths) == 0 {
		return getPaths(c)
	}
	return cfg.Repos.Paths
}

func runScan(ctx context.Context, c *cli.Context, cfg *config.Config, logger logrus.FieldLogger, paths []string, showProgress bool) error {
	opts := []scan.Option{scan.WithConfig(cfg), scan.WithLogger(logger)}
	var tracker *progress.ScanTracker
	if showProgress {
		tracker = progress.NewScanTracker()
		opts = append(opts, scan.WithProgress(tracker.Update))
	}

	result, err := scan.New(opts...).Run(ctx, scan.Repos(paths))
	if tracker != nil {
		tracker.Finish()
	}
	if err != nil && !errors.Is(err, scan.ErrAllFailed) {
		return err
	}

	if c.Bool("validate") {
		if verr := schema.ValidateValue(result); verr != nil {
			return fmt.Errorf("scan result failed schema validation: %w", verr)
		}
	}

	formatter, ferr := newFormatter(c, cfg.Output.Format, cfg.Output.Color)
	if ferr != nil {
		return ferr
	}
	defer formatter.Close()

	if oerr := formatter.Output(output.NewScanReport("Convergence: "+cfg.Goal.Name, result)); oerr != nil {
		return oerr
	}
	return err
}
