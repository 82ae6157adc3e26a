package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/panbanda/convergence/internal/logging"
)

// Server wraps the MCP server and registers the convergence tools.
type Server struct {
	server     *mcp.Server
	configPath string
	logger     logrus.FieldLogger
}

// Option configures a Server.
type Option func(*Server)

// WithConfigPath sets the config file used when a tool call names none.
func WithConfigPath(path string) Option {
	return func(s *Server) {
		s.configPath = path
	}
}

// WithLogger sets the logger passed to scans.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new MCP server with all tools registered.
func NewServer(version string, opts ...Option) *Server {
	if version == "" {
		version = "dev"
	}
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "convergence",
			Version: version,
		},
		nil,
	)

	s := &Server{server: server, logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerPrompts()
	return s
}

// Run starts the MCP server over stdio transport.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "scan_convergence",
		Description: describeScan(),
	}, s.handleScan)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "show_rubric",
		Description: describeRubric(),
	}, s.handleRubric)
}
