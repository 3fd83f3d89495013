package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/repo-runner/internal/indexer"
	"github.com/bull/repo-runner/internal/jobs"
	"github.com/bull/repo-runner/internal/query"
)

// Jobs submits and looks up ingestion jobs.
type Jobs interface {
	Submit(ctx context.Context, req jobs.Request) (*jobs.Job, error)
	Get(ctx context.Context, id string) (*jobs.Job, error)
	Latest(ctx context.Context, slug string) (*jobs.Job, error)
}

// Index reports on indexed repositories.
type Index interface {
	Status(ctx context.Context, req indexer.StatusRequest) (*indexer.RepositoryStatus, error)
	ListRepositories(ctx context.Context) ([]string, error)
}

// Asker answers questions against the index.
type Asker interface {
	Ask(ctx context.Context, q query.Question) (*query.Answer, error)
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies.
type Config struct {
	Jobs    Jobs
	Index   Index
	Chat    Asker
	Version string
	Logger  *slog.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	impl := &mcp.Implementation{
		Name:    "repo-runner",
		Version: cfg.Version,
	}
	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_repository",
		Description: "Clone a repository and index its source files in the background. Returns a job id; poll get_job_status until the job succeeds before asking questions.",
	}, makeIngestHandler(cfg.Jobs, cfg.Logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_job_status",
		Description: "Get the state, counters and error of an ingestion job.",
	}, makeJobStatusHandler(cfg.Jobs))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_repository",
		Description: "Answer a question about ingested code. Retrieves the most relevant chunks and returns the answer with the files it was based on.",
	}, makeAskHandler(cfg.Chat))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_index_status",
		Description: "List indexed repositories, or for one repository report chunk count, indexed commit and how many commits the index is behind.",
	}, makeIndexStatusHandler(cfg.Jobs, cfg.Index))

	return &Server{server: server}
}

// Run serves over stdio until the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
