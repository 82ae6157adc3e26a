package main

import (
	"github.com/urfave/cli/v2"

	"github.com/panbanda/convergence/internal/output"
)

func rubricCmd() *cli.Command {
	return &cli.Command{
		Name:   "rubric",
		Usage:  "Show the category rubric in effect",
		Action: runRubricCmd,
	}
}

func runRubricCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	r, err := cfg.BuildRubric()
	if err != nil {
		return err
	}

	formatter, err := newFormatter(c, cfg.Output.Format, cfg.Output.Color)
	if err != nil {
		return err
	}
	defer formatter.Close()
	return formatter.Output(output.NewRubricReport(r))
}
