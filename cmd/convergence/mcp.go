package main

import (
	"github.com/urfave/cli/v2"

	"github.com/panbanda/convergence/internal/mcpserver"
)

func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Start MCP (Model Context Protocol) server for LLM tool integration",
		Description: `Starts an MCP server over stdio transport that exposes convergence
scans as tools that LLMs can invoke.

To use with Claude Desktop, add to your config:
  {
    "mcpServers": {
      "convergence": {
        "command": "convergence",
        "args": ["mcp"]
      }
    }
  }

Available tools:
  - scan_convergence   Score history and estimate the convergence date
  - show_rubric        Show the category rubric in effect`,
		Action: runMCPCmd,
	}
}

func runMCPCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	server := mcpserver.NewServer(version,
		mcpserver.WithConfigPath(c.String("config")),
		mcpserver.WithLogger(logger),
	)
	return server.Run(ctx)
}
