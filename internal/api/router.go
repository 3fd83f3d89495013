// Package api serves the Repo Runner HTTP interface.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bull/repo-runner/internal/indexer"
	"github.com/bull/repo-runner/internal/jobs"
	"github.com/bull/repo-runner/internal/metrics"
	"github.com/bull/repo-runner/internal/query"
)

// DefaultQueryTimeout bounds a chat request when Config.QueryTimeout is unset.
const DefaultQueryTimeout = 2 * time.Minute

// JobService submits and looks up ingestion jobs.
type JobService interface {
	Submit(ctx context.Context, req jobs.Request) (*jobs.Job, error)
	Get(ctx context.Context, id string) (*jobs.Job, error)
	List(ctx context.Context) ([]*jobs.Job, error)
	Latest(ctx context.Context, slug string) (*jobs.Job, error)
}

// StatusReporter describes what the index holds for a repository.
type StatusReporter interface {
	Status(ctx context.Context, req indexer.StatusRequest) (*indexer.RepositoryStatus, error)
}

// RepositoryLister lists the repositories present in the index.
type RepositoryLister interface {
	ListRepositories(ctx context.Context) ([]string, error)
}

// Asker answers chat questions.
type Asker interface {
	Ask(ctx context.Context, q query.Question) (*query.Answer, error)
}

// Config wires the router to the application. Metrics, MCP and
// Repositories are optional.
type Config struct {
	Jobs           JobService
	Status         StatusReporter
	Repositories   RepositoryLister
	Chat           Asker
	Ready          HealthChecker
	Metrics        *metrics.Metrics
	MCP            http.Handler
	AllowedOrigins []string
	QueryTimeout   time.Duration
	Logger         *slog.Logger
}

// NewRouter builds the HTTP handler for every endpoint.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}

	h := &handlers{
		jobs:         cfg.Jobs,
		status:       cfg.Status,
		repositories: cfg.Repositories,
		chat:         cfg.Chat,
		metrics:      cfg.Metrics,
		queryTimeout: cfg.QueryTimeout,
		logger:       cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		corsMiddleware(cfg.AllowedOrigins),
		loggingMiddleware(cfg.Logger),
	)

	r.Get("/", h.root)
	r.Get("/health", liveHandler)
	if cfg.Ready != nil {
		r.Get("/health/ready", NewReadyHandler(cfg.Ready))
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}
	if cfg.MCP != nil {
		r.Handle("/mcp", cfg.MCP)
		r.Handle("/mcp/*", cfg.MCP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", h.ingest)
		r.Get("/jobs", h.listJobs)
		r.Get("/jobs/{id}", h.getJob)
		r.Get("/repositories", h.listRepositories)
		r.Get("/repositories/{slug}", h.repositoryStatus)
		r.Post("/chat", h.ask)
	})

	return r
}
