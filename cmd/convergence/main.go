package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/convergence/internal/logging"
	"github.com/panbanda/convergence/internal/output"
	"github.com/panbanda/convergence/pkg/config"
)

var (
	version = "dev"
	commit  = "none"    //nolint:unused // set via ldflags at build time
	date    = "unknown" //nolint:unused // set via ldflags at build time
)

// getPaths returns paths from positional args, defaulting to ["."]
func getPaths(c *cli.Context) []string {
	if c.Args().Len() > 0 {
		return c.Args().Slice()
	}
	return []string{"."}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "convergence",
		Usage:   "Predict when a capability goal converges from commit history",
		Version: version,
		Description: `Convergence classifies every commit in one or more git repositories
against a weighted rubric, aggregates capability over time, fits a
logistic growth curve and estimates when the curve flattens out.

Configuration is read from convergence.toml (or .yaml/.json) in the
current directory or .convergence/, or from --config.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (TOML, YAML, or JSON)",
				EnvVars: []string{"CONVERGENCE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: text, json, markdown, toon (default from config)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write output to file",
			},
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "Disable score cache and state database",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level: trace, debug, info, warn, error (default from config)",
				EnvVars: []string{"CONVERGENCE_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			scanCmd(),
			rubricCmd(),
			historyCmd(),
			cacheCmd(),
			initCmd(),
			configCmd(),
			validateCmd(),
			reportCmd(),
			watchCmd(),
			mcpCmd(),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads --config, or searches the standard locations, and
// applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var opts []config.LoadOption
	if path := c.String("config"); path != "" {
		opts = append(opts, config.WithPath(path))
	}
	result, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, err
	}
	cfg := result.Config
	if c.Bool("no-cache") {
		cfg.Cache.Enabled = false
	}
	if f := c.String("format"); f != "" {
		cfg.Output.Format = f
	}
	return cfg, nil
}

func newLogger(c *cli.Context, cfg *config.Config) (*logrus.Logger, error) {
	level := cfg.Log.Level
	if l := c.String("log-level"); l != "" {
		level = l
	}
	if c.Bool("verbose") {
		level = "debug"
	}
	return logging.New(logging.Options{
		Level:  level,
		Format: cfg.Log.Format,
		Output: c.App.ErrWriter,
	})
}

// newFormatter writes to --output when set and to the app writer otherwise.
func newFormatter(c *cli.Context, format string, colored bool) (*output.Formatter, error) {
	if path := c.String("output"); path != "" {
		return output.NewFormatter(output.ParseFormat(format), path, false)
	}
	return output.NewWriterFormatter(output.ParseFormat(format), writer(c), colored), nil
}

func writer(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
}

func printf(c *cli.Context, format string, args ...any) {
	fmt.Fprintf(writer(c), format, args...)
}
