// Package indexer drives one repository from remote URL to vector index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bull/repo-runner/internal/github"
	"github.com/bull/repo-runner/internal/jobs"
	"github.com/bull/repo-runner/internal/loader"
	"github.com/bull/repo-runner/internal/repo"
	"github.com/bull/repo-runner/internal/vectorindex"
)

// Stage names reported to a StageObserver.
const (
	StageFetch = "fetch"
	StageIndex = "index"
)

// StageObserver receives the duration of each pipeline stage.
type StageObserver interface {
	ObserveStage(stage string, d time.Duration)
}

// IndexStore is the read side of the vector store used for status reports.
type IndexStore interface {
	CountChunks(ctx context.Context, repository string) (int, error)
	GetCommitSHA(ctx context.Context, repository string) (string, error)
	ListRepositories(ctx context.Context) ([]string, error)
}

// Options configures where working copies live and what gets loaded.
type Options struct {
	WorkDir     string
	KeepWorkdir bool
	Loader      loader.Options
	Stages      StageObserver
}

// Pipeline orchestrates the full ingestion of one repository:
// clone, load, chunk, embed, store, clean up.
type Pipeline struct {
	fetcher   *repo.Fetcher
	index     *vectorindex.Index
	store     IndexStore
	inspector *github.Inspector
	opts      Options
	logger    *slog.Logger
}

// NewPipeline creates a new ingestion pipeline. inspector may be nil, in
// which case status reports carry no staleness information.
func NewPipeline(
	fetcher *repo.Fetcher,
	index *vectorindex.Index,
	store IndexStore,
	inspector *github.Inspector,
	opts Options,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WorkDir == "" {
		opts.WorkDir = "temp_repos"
	}
	return &Pipeline{
		fetcher:   fetcher,
		index:     index,
		store:     store,
		inspector: inspector,
		opts:      opts,
		logger:    logger,
	}
}

// Run ingests job.URL into the job.Slug namespace, recording progress on job.
// Each step depends on the previous one; the first failure is returned.
func (p *Pipeline) Run(ctx context.Context, job *jobs.Job) error {
	start := time.Now()
	logger := p.logger.With("job_id", job.ID, "repository", job.Slug)

	dir, err := filepath.Abs(filepath.Join(p.opts.WorkDir, job.Slug))
	if err != nil {
		return fmt.Errorf("resolve work directory: %w", err)
	}
	job.WorkDir = dir

	// The working copy is keyed by slug too, so refuse before touching it.
	if err := p.index.CheckSource(ctx, job.Slug, job.URL); err != nil {
		return err
	}

	// 1. Clone
	stageStart := time.Now()
	checkout, err := p.fetcher.Fetch(ctx, repo.FetchRequest{
		URL:       job.URL,
		Branch:    job.Branch,
		Directory: dir,
	})
	p.observe(StageFetch, stageStart)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if !p.opts.KeepWorkdir {
		defer func() {
			if err := p.fetcher.Cleanup(dir); err != nil {
				logger.Warn("Failed to remove working copy", "dir", dir, "error", err)
			}
		}()
	}
	job.ResolvedBranch = checkout.Branch
	job.CommitSHA = checkout.CommitSHA

	// 2. Load, chunk, embed and store
	ld, err := loader.New(p.opts.Loader, logger)
	if err != nil {
		return fmt.Errorf("loader: %w", err)
	}

	stageStart = time.Now()
	result, err := p.index.Build(ctx, vectorindex.BuildRequest{
		Repository: job.Slug,
		SourceURL:  job.URL,
		CommitSHA:  checkout.CommitSHA,
		Documents:  ld.Documents(ctx, dir),
	})
	p.observe(StageIndex, stageStart)

	stats := ld.Stats()
	job.Truncated = stats.Truncated
	if result != nil {
		job.Documents = result.Documents
		job.Chunks = result.Chunks
		job.FailedDocs = len(result.FailedDocs)
	}
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	logger.Info("Ingestion complete",
		"branch", job.ResolvedBranch,
		"commit", job.CommitSHA,
		"documents", job.Documents,
		"chunks", job.Chunks,
		"failed", job.FailedDocs,
		"skipped_ext", stats.SkippedExt,
		"skipped_binary", stats.SkippedBinary,
		"skipped_size", stats.SkippedSize,
		"truncated", stats.Truncated,
		"duration", time.Since(start),
	)
	return nil
}

func (p *Pipeline) observe(stage string, start time.Time) {
	if p.opts.Stages != nil {
		p.opts.Stages.ObserveStage(stage, time.Since(start))
	}
}

// StatusRequest identifies the repository to report on. URL and Branch come
// from the latest job and enable the staleness check.
type StatusRequest struct {
	Slug   string
	URL    string
	Branch string
}

// RepositoryStatus describes what the index holds for one repository.
type RepositoryStatus struct {
	Repository    string `json:"repository"`
	Indexed       bool   `json:"indexed"`
	Chunks        int    `json:"chunks"`
	CommitSHA     string `json:"commit_sha,omitempty"`
	CommitsBehind *int   `json:"commits_behind,omitempty"`
	StaleWarning  string `json:"stale_warning,omitempty"`
}

// ListRepositories returns the slugs that have chunks in the index.
func (p *Pipeline) ListRepositories(ctx context.Context) ([]string, error) {
	return p.store.ListRepositories(ctx)
}

// Status reports chunk count and indexed commit for req.Slug and, for
// GitHub-hosted repositories, how far the index lags the branch head.
// Staleness lookups are best effort.
func (p *Pipeline) Status(ctx context.Context, req StatusRequest) (*RepositoryStatus, error) {
	if req.Slug == "" {
		return nil, errors.New("repository is required")
	}

	count, err := p.store.CountChunks(ctx, req.Slug)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	status := &RepositoryStatus{
		Repository: req.Slug,
		Indexed:    count > 0,
		Chunks:     count,
	}
	if count == 0 {
		return status, nil
	}

	if status.CommitSHA, err = p.store.GetCommitSHA(ctx, req.Slug); err != nil {
		return nil, fmt.Errorf("get commit: %w", err)
	}

	if p.inspector == nil || status.CommitSHA == "" {
		return status, nil
	}
	coords, ok := github.ParseRepository(req.URL)
	if !ok {
		return status, nil
	}
	staleness, err := p.inspector.Staleness(ctx, coords, status.CommitSHA, req.Branch)
	if err != nil {
		p.logger.Warn("Staleness check failed", "repository", req.Slug, "error", err)
		return status, nil
	}
	status.CommitsBehind = &staleness.CommitsBehind
	status.StaleWarning = staleness.Warning
	return status, nil
}
