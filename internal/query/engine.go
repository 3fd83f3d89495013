// Package query answers questions against an already-built repository index.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bull/repo-runner/internal/llm"
	"github.com/bull/repo-runner/internal/repo"
	"github.com/bull/repo-runner/internal/vectorindex"
)

// DefaultTopK is how many chunks are retrieved per question.
const DefaultTopK = 5

// ErrEmptyQuery is returned for a blank question.
var ErrEmptyQuery = errors.New("query must not be empty")

// Loader attaches to a stored index.
type Loader interface {
	Load(ctx context.Context, repository string) (*vectorindex.Handle, error)
}

// Generator writes an answer from retrieved passages.
type Generator interface {
	Answer(ctx context.Context, question string, passages []llm.Passage) (string, error)
}

// Question is one chat request. An empty Repository searches every
// ingested repository.
type Question struct {
	Query      string
	Repository string
}

// Source is a retrieved chunk that informed the answer.
type Source struct {
	Repository string  `json:"repository"`
	Path       string  `json:"path"`
	Section    string  `json:"section,omitempty"`
	StartLine  int     `json:"start_line,omitempty"`
	EndLine    int     `json:"end_line,omitempty"`
	Score      float64 `json:"score"`
}

// Answer is the generated response and the chunks it was grounded on.
type Answer struct {
	Response string   `json:"response"`
	Sources  []Source `json:"sources"`
}

// Engine runs load, retrieve and generate for each question.
type Engine struct {
	index     Loader
	generator Generator
	topK      int
	logger    *slog.Logger
}

// NewEngine creates an Engine. topK <= 0 uses DefaultTopK.
func NewEngine(index Loader, generator Generator, topK int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Engine{index: index, generator: generator, topK: topK, logger: logger}
}

// Ask answers q. Every failure is returned to the caller unchanged apart
// from wrapping.
func (e *Engine) Ask(ctx context.Context, q Question) (*Answer, error) {
	q.Query = strings.TrimSpace(q.Query)
	q.Repository = repo.NormalizeSlug(q.Repository)
	if q.Query == "" {
		return nil, ErrEmptyQuery
	}
	start := time.Now()

	handle, err := e.index.Load(ctx, q.Repository)
	if err != nil {
		return nil, err
	}

	hits, err := handle.Retrieve(ctx, q.Query, e.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	passages := make([]llm.Passage, 0, len(hits))
	sources := make([]Source, 0, len(hits))
	for _, hit := range hits {
		c := hit.Chunk
		passages = append(passages, llm.Passage{Path: c.Path, Section: c.HeaderPath, Text: c.Content})
		sources = append(sources, Source{
			Repository: c.Repository,
			Path:       c.Path,
			Section:    c.HeaderPath,
			StartLine:  c.StartLine,
			EndLine:    c.EndLine,
			Score:      hit.Score,
		})
	}

	response, err := e.generator.Answer(ctx, q.Query, passages)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	e.logger.Info("Answered question",
		"repository", q.Repository,
		"sources", len(sources),
		"duration", time.Since(start),
	)
	return &Answer{Response: response, Sources: sources}, nil
}
