// Package mcp exposes ingestion and question answering as MCP tools.
package mcp

import (
	"github.com/bull/repo-runner/internal/indexer"
	"github.com/bull/repo-runner/internal/jobs"
	"github.com/bull/repo-runner/internal/query"
)

// IngestInput defines the input parameters for the ingest_repository tool.
type IngestInput struct {
	// URL is any clone URL go-git understands.
	URL string `json:"repo_url" jsonschema:"Clone URL of the repository to ingest"`
	// Branch to index; empty uses the remote default.
	Branch string `json:"branch,omitempty" jsonschema:"Branch to index (defaults to the remote default branch)"`
}

// IngestOutput acknowledges a scheduled ingestion.
type IngestOutput struct {
	JobID      string `json:"job_id"`
	Repository string `json:"repository"`
	Message    string `json:"message"`
}

// JobStatusInput defines the input parameters for the get_job_status tool.
type JobStatusInput struct {
	JobID string `json:"job_id" jsonschema:"Job id returned by ingest_repository"`
}

// JobStatusOutput wraps the job record. Found is false for unknown ids.
type JobStatusOutput struct {
	Found bool      `json:"found"`
	Job   *jobs.Job `json:"job,omitempty"`
}

// AskInput defines the input parameters for the ask_repository tool.
type AskInput struct {
	Query      string `json:"query" jsonschema:"Natural-language question about the code"`
	Repository string `json:"repository,omitempty" jsonschema:"Repository slug to search (defaults to all ingested repositories)"`
}

// AskOutput is the generated answer and its sources.
type AskOutput struct {
	Response string         `json:"response"`
	Sources  []query.Source `json:"sources"`
}

// IndexStatusInput defines the input parameters for the get_index_status tool.
type IndexStatusInput struct {
	Repository string `json:"repository,omitempty" jsonschema:"Repository slug; empty lists every indexed repository"`
}

// IndexStatusOutput reports either every indexed repository or one of them
// in detail, including staleness against the remote branch.
type IndexStatusOutput struct {
	Repositories []string                  `json:"repositories,omitempty"`
	Status       *indexer.RepositoryStatus `json:"status,omitempty"`
}
