package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/convergence/pkg/config"
)

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize a new convergence configuration file",
		Description: `Creates convergence.toml in the current directory with the default
rubric and settings.

Examples:
  convergence init                                # Creates convergence.toml
  convergence init --path .convergence/conf.toml  # Custom location
  convergence init --force                        # Overwrite existing file`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "path",
				Value: "convergence.toml",
				Usage: "Config file path",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite existing config file",
			},
		},
		Action: runInitCmd,
	}
}

func runInitCmd(c *cli.Context) error {
	path := c.String("path")

	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("config file %q already exists (use --force to overwrite)", path)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %q: %w", dir, err)
		}
	}

	content, err := generateDefaultConfig()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	color.New(color.FgGreen).Fprintf(writer(c), "Created %s\n", path)
	printf(c, "Edit the rubric and goal.inception_date to match your project.\n")
	return nil
}

func generateDefaultConfig() (string, error) {
	content, err := config.DefaultConfig().Marshal("toml")
	if err != nil {
		return "", fmt.Errorf("failed to marshal config to TOML: %w", err)
	}

	var buf strings.Builder
	buf.WriteString("# Convergence configuration\n")
	buf.WriteString("# Rubric categories replace the defaults entirely when set.\n\n")
	buf.Write(content)
	return buf.String(), nil
}
