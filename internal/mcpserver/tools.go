package mcpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/panbanda/convergence/internal/output"
	"github.com/panbanda/convergence/internal/remote"
	"github.com/panbanda/convergence/internal/service/scan"
	"github.com/panbanda/convergence/pkg/config"
)

// ScanInput is the input for scan_convergence.
type ScanInput struct {
	Paths     []string `json:"paths,omitempty" jsonschema:"Repository paths or remote URLs (owner/repo[@ref]) to scan. Defaults to the configured repos, or the current directory."`
	Config    string   `json:"config,omitempty" jsonschema:"Path to a convergence config file."`
	Inception string   `json:"inception,omitempty" jsonschema:"Goal inception date (YYYY-MM-DD). Earlier commits are excluded."`
	Bucket    string   `json:"bucket,omitempty" jsonschema:"Time bucket width: 1d, 1w, 2w or 1m. Default 1w."`
	NoCache   bool     `json:"no_cache,omitempty" jsonschema:"Rescore every commit without reading or writing caches."`
	Format    string   `json:"format,omitempty" jsonschema:"Output format: toon (default), json, or markdown."`
}

// RubricInput is the input for show_rubric.
type RubricInput struct {
	Config string `json:"config,omitempty" jsonschema:"Path to a convergence config file."`
	Format string `json:"format,omitempty" jsonschema:"Output format: toon (default), json, or markdown."`
}

func getFormat(format string) output.Format {
	switch format {
	case "json":
		return output.FormatJSON
	case "markdown", "md":
		return output.FormatMarkdown
	default:
		return output.FormatTOON
	}
}

func formatOutput(data any, format output.Format) (string, error) {
	var buf bytes.Buffer
	if err := output.NewWriterFormatter(format, &buf, false).Output(data); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func toolResult(data any, format output.Format) (*mcp.CallToolResult, any, error) {
	text, err := formatOutput(data, format)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, nil, nil
}

func toolError(msg string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Error: " + msg},
		},
		IsError: true,
	}, nil, nil
}

func (s *Server) loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = s.configPath
	}
	var opts []config.LoadOption
	if path != "" {
		opts = append(opts, config.WithPath(path))
	}
	result, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

func (s *Server) handleScan(ctx context.Context, req *mcp.CallToolRequest, input ScanInput) (*mcp.CallToolResult, any, error) {
	cfg, err := s.loadConfig(input.Config)
	if err != nil {
		return toolError(err.Error())
	}
	if input.Inception != "" {
		cfg.Goal.InceptionDate = input.Inception
	}
	if input.Bucket != "" {
		cfg.Aggregation.Bucket = input.Bucket
	}
	if input.NoCache {
		cfg.Cache.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return toolError(err.Error())
	}

	paths := input.Paths
	if len(paths) == 0 {
		paths = cfg.Repos.Paths
	}
	if len(paths) == 0 {
		paths = []string{"."}
	}

	paths, cleanup, err := remote.Resolve(ctx, paths, io.Discard)
	if err != nil {
		return toolError(err.Error())
	}
	defer cleanup()

	result, err := scan.New(scan.WithConfig(cfg), scan.WithLogger(s.logger)).Run(ctx, scan.Repos(paths))
	if errors.Is(err, scan.ErrAllFailed) {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.Repo, e.Error))
		}
		return toolError(strings.Join(msgs, "; "))
	}
	if err != nil {
		return toolError(err.Error())
	}
	return toolResult(output.NewScanReport("Convergence: "+cfg.Goal.Name, result), getFormat(input.Format))
}

func (s *Server) handleRubric(ctx context.Context, req *mcp.CallToolRequest, input RubricInput) (*mcp.CallToolResult, any, error) {
	cfg, err := s.loadConfig(input.Config)
	if err != nil {
		return toolError(err.Error())
	}
	r, err := cfg.BuildRubric()
	if err != nil {
		return toolError(err.Error())
	}
	return toolResult(output.NewRubricReport(r), getFormat(input.Format))
}
