package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/repo-runner/internal/indexer"
	"github.com/bull/repo-runner/internal/jobs"
	"github.com/bull/repo-runner/internal/query"
	"github.com/bull/repo-runner/internal/repo"
)

func makeIngestHandler(svc Jobs, logger *slog.Logger) func(
	context.Context, *mcp.CallToolRequest, IngestInput,
) (*mcp.CallToolResult, IngestOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IngestInput) (
		*mcp.CallToolResult, IngestOutput, error,
	) {
		job, err := svc.Submit(ctx, jobs.Request{URL: input.URL, Branch: input.Branch})
		if err != nil {
			return nil, IngestOutput{}, fmt.Errorf("failed to start ingestion: %w", err)
		}
		logger.Info("Ingestion requested over MCP", "job_id", job.ID, "repository", job.Slug)
		return nil, IngestOutput{
			JobID:      job.ID,
			Repository: job.Slug,
			Message:    "Started ingestion for " + job.Slug,
		}, nil
	}
}

func makeJobStatusHandler(svc Jobs) func(
	context.Context, *mcp.CallToolRequest, JobStatusInput,
) (*mcp.CallToolResult, JobStatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input JobStatusInput) (
		*mcp.CallToolResult, JobStatusOutput, error,
	) {
		job, err := svc.Get(ctx, input.JobID)
		if errors.Is(err, jobs.ErrJobNotFound) {
			return nil, JobStatusOutput{Found: false}, nil
		}
		if err != nil {
			return nil, JobStatusOutput{}, fmt.Errorf("failed to get job: %w", err)
		}
		return nil, JobStatusOutput{Found: true, Job: job}, nil
	}
}

func makeAskHandler(chat Asker) func(
	context.Context, *mcp.CallToolRequest, AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskInput) (
		*mcp.CallToolResult, AskOutput, error,
	) {
		answer, err := chat.Ask(ctx, query.Question{Query: input.Query, Repository: input.Repository})
		if err != nil {
			return nil, AskOutput{}, err
		}
		sources := answer.Sources
		if sources == nil {
			sources = []query.Source{}
		}
		return nil, AskOutput{Response: answer.Response, Sources: sources}, nil
	}
}

// makeIndexStatusHandler lists repositories when none is named. For a named
// repository the newest job supplies the URL used for the staleness check.
func makeIndexStatusHandler(svc Jobs, index Index) func(
	context.Context, *mcp.CallToolRequest, IndexStatusInput,
) (*mcp.CallToolResult, IndexStatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IndexStatusInput) (
		*mcp.CallToolResult, IndexStatusOutput, error,
	) {
		slug := repo.NormalizeSlug(input.Repository)
		if slug == "" {
			names, err := index.ListRepositories(ctx)
			if err != nil {
				return nil, IndexStatusOutput{}, fmt.Errorf("qdrant_error: failed to list repositories: %w", err)
			}
			if names == nil {
				names = []string{}
			}
			return nil, IndexStatusOutput{Repositories: names}, nil
		}

		statusReq := indexer.StatusRequest{Slug: slug}
		if job, err := svc.Latest(ctx, slug); err == nil {
			statusReq.URL = job.URL
			statusReq.Branch = job.ResolvedBranch
		}
		status, err := index.Status(ctx, statusReq)
		if err != nil {
			return nil, IndexStatusOutput{}, fmt.Errorf("qdrant_error: %w", err)
		}
		return nil, IndexStatusOutput{Status: status}, nil
	}
}
