package main

import (
	"github.com/urfave/cli/v2"

	"github.com/panbanda/convergence/internal/output"
	"github.com/panbanda/convergence/internal/service/scan"
)

func historyCmd() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List the estimates recorded by previous scans",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of scans to show (default from config)",
			},
		},
		Action: runHistoryCmd,
	}
}

func runHistoryCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	limit := cfg.Output.HistoryLimit
	if c.IsSet("limit") {
		limit = c.Int("limit")
	}

	history, err := scan.History(cfg.Cache.Dir, limit)
	if err != nil {
		return err
	}

	formatter, err := newFormatter(c, cfg.Output.Format, cfg.Output.Color)
	if err != nil {
		return err
	}
	defer formatter.Close()
	return formatter.Output(output.NewHistoryReport(history))
}
