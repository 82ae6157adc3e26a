package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/convergence/internal/cache"
	"github.com/panbanda/convergence/internal/output"
)

func cacheCmd() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect or clear the score cache and state database",
		Subcommands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Show cache statistics",
				Action: runCacheStatsCmd,
			},
			{
				Name:   "clear",
				Usage:  "Remove cached scores, semantic labels and scan history",
				Action: runCacheClearCmd,
			},
		},
	}
}

type cacheReport struct {
	*cache.Stats
	Labels    int `json:"labels"`
	Snapshots int `json:"snapshots"`
}

func runCacheStatsCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	cc, err := cache.New(cfg.Cache.Dir, true)
	if err != nil {
		return err
	}
	stats, err := cc.GetStats()
	if err != nil {
		return err
	}

	report := cacheReport{Stats: stats}
	// Opening the state database would create it; skip when absent.
	if _, err := os.Stat(filepath.Join(cfg.Cache.Dir, cache.StateFile)); err == nil {
		state, err := cache.OpenState(cfg.Cache.Dir)
		if err != nil {
			return err
		}
		report.Labels = state.LabelCount()
		snaps, err := state.Snapshots(0)
		state.Close()
		if err != nil {
			return err
		}
		report.Snapshots = len(snaps)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	formatter, err := newFormatter(c, cfg.Output.Format, cfg.Output.Color)
	if err != nil {
		return err
	}
	defer formatter.Close()

	valid := "no"
	if stats.Valid {
		valid = "yes"
	}
	version := stats.Version
	if version == "" {
		version = "-"
	}
	section := &output.Section{
		Title: "Cache",
		Lines: [][2]string{
			{"Directory", stats.Dir},
			{"Version", version},
			{"Scores", strconv.Itoa(stats.Entries)},
			{"Size", strconv.Itoa(int(stats.TotalSize)) + " bytes"},
			{"Valid", valid},
			{"Semantic labels", strconv.Itoa(report.Labels)},
			{"Recorded scans", strconv.Itoa(report.Snapshots)},
		},
	}
	return formatter.Output(&output.Report{Sections: []output.Renderable{section}, Data: report})
}

func runCacheClearCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	cc, err := cache.New(cfg.Cache.Dir, true)
	if err != nil {
		return err
	}
	if err := cc.Clear(); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(writer(c), "Cleared cache in %s\n", cfg.Cache.Dir)
	return nil
}
