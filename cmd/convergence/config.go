package main

import (
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/convergence/pkg/config"
)

func configCmd() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration management",
		Subcommands: []*cli.Command{
			{
				Name:   "validate",
				Usage:  "Validate a configuration file",
				Action: runConfigValidateCmd,
			},
			{
				Name:  "show",
				Usage: "Show the effective configuration",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "as",
						Value: "toml",
						Usage: "Encoding: toml, yaml, json",
					},
				},
				Action: runConfigShowCmd,
			},
		},
	}
}

func loadResult(c *cli.Context) (*config.LoadResult, error) {
	var opts []config.LoadOption
	if path := c.String("config"); path != "" {
		opts = append(opts, config.WithPath(path))
	}
	return config.LoadConfig(opts...)
}

func runConfigValidateCmd(c *cli.Context) error {
	w := writer(c)
	result, err := loadResult(c)
	if err != nil {
		color.New(color.FgRed).Fprintln(w, "Configuration validation failed:")
		printf(c, "  - %s\n", err)
		return err
	}

	if result.Source != "" {
		color.New(color.FgGreen).Fprintf(w, "Configuration valid: %s\n", result.Source)
	} else {
		color.New(color.FgYellow).Fprintln(w, "No config file found. Default configuration is valid.")
	}
	return nil
}

func runConfigShowCmd(c *cli.Context) error {
	result, err := loadResult(c)
	if err != nil {
		return err
	}

	content, err := result.Config.Marshal(c.String("as"))
	if err != nil {
		return err
	}

	if c.String("as") == "toml" {
		if result.Source != "" {
			printf(c, "# Configuration from: %s\n\n", result.Source)
		} else {
			printf(c, "# Default configuration (no config file found)\n\n")
		}
	}
	printf(c, "%s\n", content)
	return nil
}
