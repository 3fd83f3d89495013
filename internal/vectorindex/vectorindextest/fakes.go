// Package vectorindextest provides in-memory stand-ins for the vector store
// and the embedding model.
package vectorindextest

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/bull/repo-runner/internal/storage"
)

// HashEmbedder maps texts to normalized bag-of-words vectors, so texts that
// share words score higher under cosine similarity.
type HashEmbedder struct {
	Dim int

	mu    sync.Mutex
	calls int
	err   error
}

func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{Dim: dim}
}

// FailWith makes subsequent calls return err.
func (e *HashEmbedder) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Calls is the number of GenerateEmbeddings calls so far.
func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *HashEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%uint32(e.Dim)]++
	}
	return normalize(vec)
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// MemoryStore is a cosine-similarity chunk store keyed by chunk id.
type MemoryStore struct {
	mu     sync.Mutex
	dim    int
	chunks map[string]*storage.Chunk

	upsertsLeft int
	upsertErr   error
}

func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{dim: dim, chunks: make(map[string]*storage.Chunk)}
}

func (s *MemoryStore) Dimension() int { return s.dim }

func (s *MemoryStore) UpsertChunks(ctx context.Context, chunks []*storage.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		if s.upsertsLeft == 0 {
			return s.upsertErr
		}
		s.upsertsLeft--
	}
	for _, c := range chunks {
		if len(c.Embedding) != s.dim {
			return storage.ErrDimensionMismatch
		}
		cp := *c
		s.chunks[c.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) SearchChunks(ctx context.Context, embedding []float32, limit int, repository string) ([]*storage.ScoredChunk, error) {
	if len(embedding) != s.dim {
		return nil, storage.ErrDimensionMismatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []*storage.ScoredChunk
	for _, c := range s.chunks {
		if repository != "" && c.Repository != repository {
			continue
		}
		cp := *c
		cp.Embedding = nil
		results = append(results, &storage.ScoredChunk{Chunk: &cp, Score: dot(embedding, c.Embedding)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// FailUpsertsAfter makes UpsertChunks fail with err once n more calls
// have succeeded.
func (s *MemoryStore) FailUpsertsAfter(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertsLeft = n
	s.upsertErr = err
}

func (s *MemoryStore) DeleteStale(ctx context.Context, repository, buildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.Repository == repository && c.BuildID != buildID {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *MemoryStore) GetSourceURL(ctx context.Context, repository string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chunks {
		if c.Repository == repository {
			return c.SourceURL, nil
		}
	}
	return "", nil
}

func (s *MemoryStore) CountChunks(ctx context.Context, repository string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if repository == "" {
		return len(s.chunks), nil
	}
	n := 0
	for _, c := range s.chunks {
		if c.Repository == repository {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) GetCommitSHA(ctx context.Context, repository string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chunks {
		if c.Repository == repository {
			return c.CommitSHA, nil
		}
	}
	return "", nil
}

func (s *MemoryStore) ListRepositories(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for _, c := range s.chunks {
		seen[c.Repository] = struct{}{}
	}
	repos := make([]string, 0, len(seen))
	for r := range seen {
		repos = append(repos, r)
	}
	sort.Strings(repos)
	return repos, nil
}

// Chunks returns a copy of the stored chunks of repository, ordered by path
// and chunk index.
func (s *MemoryStore) Chunks(repository string) []storage.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Chunk
	for _, c := range s.chunks {
		if c.Repository == repository {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
