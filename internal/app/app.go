// Package app assembles the Repo Runner components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bull/repo-runner/internal/api"
	"github.com/bull/repo-runner/internal/config"
	"github.com/bull/repo-runner/internal/github"
	"github.com/bull/repo-runner/internal/indexer"
	"github.com/bull/repo-runner/internal/jobs"
	"github.com/bull/repo-runner/internal/llm"
	"github.com/bull/repo-runner/internal/loader"
	mcpserver "github.com/bull/repo-runner/internal/mcp"
	"github.com/bull/repo-runner/internal/metrics"
	"github.com/bull/repo-runner/internal/query"
	"github.com/bull/repo-runner/internal/repo"
	"github.com/bull/repo-runner/internal/storage"
	"github.com/bull/repo-runner/internal/vectorindex"
)

// App holds every long-lived component of one process.
type App struct {
	Config   *config.Config
	Store    *storage.QdrantStorage
	Provider *llm.Provider
	Index    *vectorindex.Index
	Pipeline *indexer.Pipeline
	JobStore jobs.Store
	Manager  *jobs.Manager
	Engine   *query.Engine
	Metrics  *metrics.Metrics
	MCP      *mcpserver.Server

	logger *slog.Logger
}

// New connects to Qdrant, ensures the collection exists and wires the
// ingestion and query paths. The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Metrics: metrics.New(), logger: logger}

	settings := llm.SettingsFromConfig(cfg.OpenAI)
	provider, err := llm.NewProvider(cfg.OpenAI, settings, logger)
	if err != nil {
		return nil, err
	}
	a.Provider = provider

	store, err := storage.NewQdrantStorage(ctx, storage.Config{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		Collection: cfg.Qdrant.Collection,
		Dimension:  settings.EmbeddingDimension,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	a.Store = store
	if err := store.EnsureCollection(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	ghClient, err := github.NewClient(cfg.GitHub.Token)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}

	a.Index = vectorindex.New(store, provider.Embedder(), vectorindex.Options{}, logger)

	fetcherOpts := []repo.Option{repo.WithDepth(cfg.Ingest.CloneDepth)}
	if cfg.GitHub.Token != "" {
		fetcherOpts = append(fetcherOpts, repo.WithToken(cfg.GitHub.Token))
	}
	a.Pipeline = indexer.NewPipeline(
		repo.NewFetcher(logger, fetcherOpts...),
		a.Index,
		store,
		github.NewInspector(ghClient, 0),
		indexer.Options{
			WorkDir:     cfg.Ingest.WorkDir,
			KeepWorkdir: cfg.Ingest.KeepWorkdir,
			Loader: loader.Options{
				Extensions:      cfg.Ingest.Extensions,
				ExcludeDirs:     cfg.Ingest.ExcludeDirs,
				ExcludePatterns: cfg.Ingest.ExcludePatterns,
				MaxFiles:        cfg.Ingest.MaxFiles,
				MaxFileBytes:    cfg.Ingest.MaxFileBytes,
				MaxTotalBytes:   cfg.Ingest.MaxTotalBytes,
			},
			Stages: a.Metrics,
		},
		logger,
	)

	jobStore, err := jobs.OpenStore(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	a.JobStore = jobStore
	a.Manager = jobs.NewManager(jobStore, a.Pipeline, a.Metrics, jobs.Options{
		MaxConcurrent: cfg.Ingest.MaxConcurrent,
		Timeout:       cfg.Ingest.Timeout,
	}, logger)

	a.Engine = query.NewEngine(a.Index, provider.Generator(), cfg.Query.TopK, logger)

	a.MCP = mcpserver.NewServer(&mcpserver.Config{
		Jobs:    a.Manager,
		Index:   a.Pipeline,
		Chat:    a.Engine,
		Version: version,
		Logger:  logger,
	})

	logger.Info("Application ready",
		"qdrant", fmt.Sprintf("%s:%d", cfg.Qdrant.Host, cfg.Qdrant.Port),
		"collection", store.Collection(),
		"chat_model", settings.ChatModel,
		"embedding_model", settings.EmbeddingModel,
		"job_store", jobStoreKind(jobStore),
	)
	return a, nil
}

// Router returns the HTTP handler for the API, metrics and MCP endpoints.
func (a *App) Router() http.Handler {
	cfg := api.Config{
		Jobs:           a.Manager,
		Status:         a.Pipeline,
		Repositories:   a.Pipeline,
		Chat:           a.Engine,
		Metrics:        a.Metrics,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		QueryTimeout:   a.Config.Query.Timeout,
		Logger:         a.logger,
	}
	if a.Store != nil {
		cfg.Ready = a.Store
	}
	if a.Config.Server.EnableMCP {
		cfg.MCP = mcpserver.NewHTTPHandler(a.MCP, nil)
	}
	return api.NewRouter(cfg)
}

// Close waits for running jobs, then releases the job store and the Qdrant
// connection.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Manager.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.JobStore.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close job store: %w", err))
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close qdrant: %w", err))
	}
	return errors.Join(errs...)
}

// RecoverInterruptedJobs fails the jobs a previous server left unfinished.
// Only the long-running server calls it; CLI commands share the database
// with a live server and must not touch its jobs.
func (a *App) RecoverInterruptedJobs(ctx context.Context) error {
	n, err := a.JobStore.FailInterrupted(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		a.logger.Warn("Marked interrupted jobs as failed", "count", n)
	}
	return nil
}

func jobStoreKind(store jobs.Store) string {
	if _, ok := store.(*jobs.SQLiteStore); ok {
		return "sqlite"
	}
	return "memory"
}
