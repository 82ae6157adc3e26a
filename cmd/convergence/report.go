package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/convergence/internal/report"
)

func reportCmd() *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Render a saved JSON scan result as an HTML page",
		ArgsUsage: "<result.json>",
		Description: `Renders the output of "convergence -f json -o result.json scan" as a
standalone HTML report with the capability curve, projection and
confidence breakdown. Writes to --output, or stdout.`,
		Action: runReportCmd,
	}
}

func runReportCmd(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one result file, got %d", c.Args().Len())
	}
	input := c.Args().First()

	r, err := report.NewRenderer(version)
	if err != nil {
		return err
	}

	if out := c.String("output"); out != "" {
		if err := r.RenderToFile(input, out); err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(writer(c), "Report written to %s\n", out)
		return nil
	}
	return r.RenderFile(input, writer(c))
}
