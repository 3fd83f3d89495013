// Package vectorindex builds and queries the per-repository vector index on
// top of a chunk store and an embedder.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bull/repo-runner/internal/chunker"
	"github.com/bull/repo-runner/internal/loader"
	"github.com/bull/repo-runner/internal/repo"
	"github.com/bull/repo-runner/internal/storage"
)

// ErrIndexEmpty is returned by Load when there is nothing to query.
var ErrIndexEmpty = errors.New("index is empty: ingest a repository first")

// ErrNamespaceConflict is returned when a repository namespace already holds
// chunks built from a different remote.
var ErrNamespaceConflict = errors.New("repository namespace is owned by another source")

// DefaultEmbedBatchSize is the number of chunks embedded and uploaded together.
const DefaultEmbedBatchSize = 100

// Store is the subset of the vector store the index needs.
type Store interface {
	UpsertChunks(ctx context.Context, chunks []*storage.Chunk) error
	SearchChunks(ctx context.Context, embedding []float32, limit int, repository string) ([]*storage.ScoredChunk, error)
	DeleteStale(ctx context.Context, repository, buildID string) error
	CountChunks(ctx context.Context, repository string) (int, error)
	GetSourceURL(ctx context.Context, repository string) (string, error)
}

// Embedder turns texts into vectors, one per text, in input order.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Options tunes chunking and upload batching.
type Options struct {
	Chunking  chunker.Options
	BatchSize int
}

// Index writes repositories into a Store and reads them back.
type Index struct {
	store     Store
	embedder  Embedder
	chunker   *chunker.Chunker
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Index.
func New(store Store, embedder Embedder, opts Options, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultEmbedBatchSize
	}
	return &Index{
		store:     store,
		embedder:  embedder,
		chunker:   chunker.New(opts.Chunking),
		batchSize: opts.BatchSize,
		logger:    logger,
		now:       time.Now,
	}
}

// BuildRequest names the repository namespace and the documents to index.
// SourceURL is recorded on every chunk; an empty SourceURL skips the
// ownership check.
type BuildRequest struct {
	Repository string
	SourceURL  string
	CommitSHA  string
	Documents  iter.Seq2[loader.Document, error]
}

// BuildResult contains statistics about a build.
type BuildResult struct {
	Documents  int
	Chunks     int
	FailedDocs []FailedDoc
	Duration   time.Duration
}

// FailedDoc represents a document that could not be read or chunked.
type FailedDoc struct {
	Path   string
	Reason string
}

// CheckSource returns ErrNamespaceConflict when repository already holds
// chunks from a remote other than sourceURL.
func (x *Index) CheckSource(ctx context.Context, repository, sourceURL string) error {
	if sourceURL == "" {
		return nil
	}
	existing, err := x.store.GetSourceURL(ctx, repository)
	if err != nil {
		return fmt.Errorf("read indexed source: %w", err)
	}
	if existing != "" && !repo.SameSource(existing, sourceURL) {
		return fmt.Errorf("%w: %q is indexed from %s", ErrNamespaceConflict, repository, existing)
	}
	return nil
}

// Build replaces the repository's vectors with chunks of req.Documents.
// Documents that cannot be read or chunked are recorded and skipped.
// New chunks overwrite the previous build in place and chunks the new build
// did not write are removed only after every batch is stored, so a failed
// build leaves the previous index queryable.
func (x *Index) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	if req.Repository == "" {
		return nil, errors.New("repository is required")
	}
	if err := x.CheckSource(ctx, req.Repository, req.SourceURL); err != nil {
		return nil, err
	}
	start := time.Now()
	result := &BuildResult{}

	buildID := uuid.NewString()
	indexedAt := x.now().UTC()
	var pending []*storage.Chunk
	var texts []string

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		embeddings, err := x.embedder.GenerateEmbeddings(ctx, texts)
		if err != nil {
			return fmt.Errorf("embeddings: %w", err)
		}
		if len(embeddings) != len(pending) {
			return fmt.Errorf("embeddings: got %d vectors for %d chunks", len(embeddings), len(pending))
		}
		for i, vec := range embeddings {
			pending[i].Embedding = vec
		}
		if err := x.store.UpsertChunks(ctx, pending); err != nil {
			return fmt.Errorf("store chunks: %w", err)
		}
		result.Chunks += len(pending)
		x.logger.Debug("Uploaded batch", "repository", req.Repository, "chunks", len(pending), "total", result.Chunks)
		pending, texts = nil, nil
		return nil
	}

	for doc, err := range req.Documents {
		if err != nil {
			var fileErr *loader.FileError
			if errors.As(err, &fileErr) {
				x.logger.Warn("Failed to read document", "path", fileErr.Path, "error", fileErr.Err)
				result.FailedDocs = append(result.FailedDocs, FailedDoc{Path: fileErr.Path, Reason: fileErr.Err.Error()})
				continue
			}
			return result, fmt.Errorf("load documents: %w", err)
		}

		chunks, err := x.chunker.Split(doc.Path, doc.Content)
		if err != nil {
			x.logger.Warn("Failed to chunk document", "path", doc.Path, "error", err)
			result.FailedDocs = append(result.FailedDocs, FailedDoc{Path: doc.Path, Reason: err.Error()})
			continue
		}
		result.Documents++

		for _, c := range chunks {
			pending = append(pending, &storage.Chunk{
				ID:         storage.ChunkID(req.Repository, doc.Path, c.Index),
				Repository: req.Repository,
				Path:       doc.Path,
				ChunkIndex: c.Index,
				HeaderPath: c.HeaderPath,
				StartLine:  c.StartLine,
				EndLine:    c.EndLine,
				Content:    c.RawContent, // Store without header prefix in payload
				CommitSHA:  req.CommitSHA,
				SourceURL:  req.SourceURL,
				BuildID:    buildID,
				IndexedAt:  indexedAt,
			})
			texts = append(texts, c.Content) // Content already has file and section prepended
		}

		if len(pending) >= x.batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	if err := x.store.DeleteStale(ctx, req.Repository, buildID); err != nil {
		return result, fmt.Errorf("remove stale chunks: %w", err)
	}

	result.Duration = time.Since(start)
	x.logger.Info("Index built",
		"repository", req.Repository,
		"documents", result.Documents,
		"failed", len(result.FailedDocs),
		"chunks", result.Chunks,
		"duration", result.Duration,
	)
	return result, nil
}

// Handle queries one repository namespace, or all of them when the
// repository is empty.
type Handle struct {
	index      *Index
	repository string
	size       int
}

// Load attaches to the stored vectors without reading any documents.
// It returns ErrIndexEmpty when the namespace holds no chunks.
func (x *Index) Load(ctx context.Context, repository string) (*Handle, error) {
	count, err := x.store.CountChunks(ctx, repository)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	if count == 0 {
		if repository != "" {
			return nil, fmt.Errorf("%w (repository %q)", ErrIndexEmpty, repository)
		}
		return nil, ErrIndexEmpty
	}
	return &Handle{index: x, repository: repository, size: count}, nil
}

// Size is the number of chunks the handle searches over.
func (h *Handle) Size() int { return h.size }

// Retrieve returns the k chunks most similar to question.
func (h *Handle) Retrieve(ctx context.Context, question string, k int) ([]*storage.ScoredChunk, error) {
	embeddings, err := h.index.embedder.GenerateEmbeddings(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("embed question: got %d vectors", len(embeddings))
	}

	results, err := h.index.store.SearchChunks(ctx, embeddings[0], k, h.repository)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return results, nil
}
