package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bull/repo-runner/internal/indexer"
	"github.com/bull/repo-runner/internal/jobs"
	"github.com/bull/repo-runner/internal/metrics"
	"github.com/bull/repo-runner/internal/query"
	"github.com/bull/repo-runner/internal/repo"
	"github.com/bull/repo-runner/internal/vectorindex"
)

type handlers struct {
	jobs         JobService
	status       StatusReporter
	repositories RepositoryLister
	chat         Asker
	metrics      *metrics.Metrics
	queryTimeout time.Duration
	logger       *slog.Logger
}

// IngestRequest is the body of POST /api/v1/ingest.
type IngestRequest struct {
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch"`
}

// IngestResponse acknowledges a scheduled ingestion.
type IngestResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	JobID      string `json:"job_id"`
	Repository string `json:"repository"`
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Query      string `json:"query"`
	Repository string `json:"repository,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type jobListResponse struct {
	Jobs []*jobs.Job `json:"jobs"`
}

type repositoryListResponse struct {
	Repositories []string `json:"repositories"`
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (h *handlers) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "active",
		"message": "Repo Runner API is running",
	})
}

func (h *handlers) ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobs.Submit(r.Context(), jobs.Request{URL: req.RepoURL, Branch: req.Branch})
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrSlugConflict):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, jobs.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		h.logger.Error("Failed to submit ingestion", "url", req.RepoURL, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{
		Status:     "processing",
		Message:    "Started ingestion for " + job.Slug,
		JobID:      job.ID,
		Repository: job.Slug,
	})
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	writeJSON(w, http.StatusOK, jobListResponse{Jobs: list})
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, jobs.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handlers) listRepositories(w http.ResponseWriter, r *http.Request) {
	if h.repositories == nil {
		writeError(w, http.StatusNotImplemented, "repository listing is not available")
		return
	}
	names, err := h.repositories.ListRepositories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, repositoryListResponse{Repositories: names})
}

// repositoryStatus reports index contents for a slug. The newest job for the
// slug supplies the URL and branch used for the staleness check.
func (h *handlers) repositoryStatus(w http.ResponseWriter, r *http.Request) {
	slug := repo.NormalizeSlug(chi.URLParam(r, "slug"))
	req := indexer.StatusRequest{Slug: slug}

	job, err := h.jobs.Latest(r.Context(), slug)
	switch {
	case err == nil:
		req.URL = job.URL
		req.Branch = job.ResolvedBranch
	case errors.Is(err, jobs.ErrJobNotFound):
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status, err := h.status.Status(r.Context(), req)
	if err != nil {
		h.logger.Error("Failed to read repository status", "repository", slug, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handlers) ask(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.observeChat(metrics.OutcomeInvalid, start)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	answer, err := h.chat.Ask(ctx, query.Question{Query: req.Query, Repository: req.Repository})
	switch {
	case err == nil:
		h.observeChat(metrics.OutcomeOK, start)
		writeJSON(w, http.StatusOK, answer)
	case errors.Is(err, query.ErrEmptyQuery):
		h.observeChat(metrics.OutcomeInvalid, start)
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, vectorindex.ErrIndexEmpty):
		h.observeChat(metrics.OutcomeEmptyIndex, start)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.observeChat(metrics.OutcomeError, start)
		h.logger.Error("Chat failed", "repository", req.Repository, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *handlers) observeChat(outcome string, start time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveChat(outcome, time.Since(start))
	}
}
