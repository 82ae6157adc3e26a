package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/convergence/internal/schema"
)

func validateCmd() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate saved JSON scan output against the result schema",
		ArgsUsage: "<file.json>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "print-schema",
				Usage: "Print the JSON schema instead of validating",
			},
		},
		Action: runValidateCmd,
	}
}

func runValidateCmd(c *cli.Context) error {
	if c.Bool("print-schema") {
		printf(c, "%s", schema.Source())
		return nil
	}
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one file, got %d", c.Args().Len())
	}

	path := c.Args().First()
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := schema.Validate(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	color.New(color.FgGreen).Fprintf(writer(c), "%s is a valid scan result\n", path)
	return nil
}
