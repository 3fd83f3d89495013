package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

// Config describes the Qdrant connection and the collection layout.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// QdrantStorage wraps the Qdrant client with connection management and health checks.
// All repositories share one collection; every point carries a "repository"
// payload key and every read or delete filters on it.
type QdrantStorage struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantStorage creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantStorage(ctx context.Context, cfg Config) (*QdrantStorage, error) {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollectionName
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultVectorDimension
	}

	// Create Qdrant client using gRPC
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	storage := &QdrantStorage{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
	}

	if err := storage.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return storage, nil
}

// Collection is the name of the shared collection.
func (s *QdrantStorage) Collection() string { return s.collection }

// Dimension is the vector size the collection is configured for.
func (s *QdrantStorage) Dimension() int { return s.dimension }

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(newBackOff(), ctx))
}

// Health performs a single health check against Qdrant.
// Returns nil if Qdrant is healthy, error otherwise.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}

	return nil
}

// EnsureCollection ensures the collection exists with proper configuration.
// Creates it with cosine-distance vectors and keyword payload indexes.
// Idempotent - safe to call multiple times.
func (s *QdrantStorage) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	if err := s.createPayloadIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create payload indexes: %w", err)
	}

	return nil
}

// createPayloadIndexes creates indexes for all filterable fields.
func (s *QdrantStorage) createPayloadIndexes(ctx context.Context) error {
	fields := []string{
		"repository", // namespace filter on every read and delete
		"path",
		"commit_sha",
		"source_url",
		"build_id", // stale-chunk sweep after a rebuild
	}

	for _, field := range fields {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}

	return nil
}

// ClearCollection drops every repository by recreating the collection.
func (s *QdrantStorage) ClearCollection(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return s.EnsureCollection(ctx)
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// upsertWithRetry performs upsert operation with exponential backoff retry.
func (s *QdrantStorage) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(newBackOff(), ctx))
}

// UpsertChunks stores multiple chunks with embeddings in Qdrant.
// Chunks are batched in groups of 100 for performance.
func (s *QdrantStorage) UpsertChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	for i, chunk := range chunks {
		if len(chunk.Embedding) != s.dimension {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(chunk.Embedding), s.dimension)
		}
	}

	batchSize := 100
	for i := 0; i < len(chunks); i += batchSize {
		end := min(i+batchSize, len(chunks))

		batch := chunks[i:end]
		points := make([]*qdrant.PointStruct, len(batch))
		for j, chunk := range batch {
			points[j] = &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(chunk.ID),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					vectorName: qdrant.NewVector(chunk.Embedding...),
				}),
				Payload: qdrant.NewValueMap(chunkPayload(chunk)),
			}
		}

		if err := s.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

func chunkPayload(chunk *Chunk) map[string]any {
	return map[string]any{
		"repository":  chunk.Repository,
		"path":        chunk.Path,
		"chunk_index": chunk.ChunkIndex,
		"header_path": chunk.HeaderPath,
		"start_line":  chunk.StartLine,
		"end_line":    chunk.EndLine,
		"content":     chunk.Content,
		"commit_sha":  chunk.CommitSHA,
		"source_url":  chunk.SourceURL,
		"build_id":    chunk.BuildID,
		"indexed_at":  chunk.IndexedAt.UTC().Format(time.RFC3339),
	}
}

func chunkFromPayload(id string, payload map[string]*qdrant.Value) *Chunk {
	indexedAt, err := time.Parse(time.RFC3339, payload["indexed_at"].GetStringValue())
	if err != nil {
		indexedAt = time.Time{}
	}
	return &Chunk{
		ID:         id,
		Repository: payload["repository"].GetStringValue(),
		Path:       payload["path"].GetStringValue(),
		ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
		HeaderPath: payload["header_path"].GetStringValue(),
		StartLine:  int(payload["start_line"].GetIntegerValue()),
		EndLine:    int(payload["end_line"].GetIntegerValue()),
		Content:    payload["content"].GetStringValue(),
		CommitSHA:  payload["commit_sha"].GetStringValue(),
		SourceURL:  payload["source_url"].GetStringValue(),
		BuildID:    payload["build_id"].GetStringValue(),
		IndexedAt:  indexedAt,
	}
}

// repositoryFilter matches one repository, or everything when repository is empty.
func repositoryFilter(repository string) *qdrant.Filter {
	if repository == "" {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("repository", repository),
		},
	}
}

// SearchChunks performs vector similarity search on chunks.
// Returns top N chunks with similarity scores, ordered by score descending.
// An empty repository searches every repository in the collection.
func (s *QdrantStorage) SearchChunks(ctx context.Context, embedding []float32, limit int, repository string) ([]*ScoredChunk, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(embedding), s.dimension)
	}

	using := vectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(embedding...),
		Using:          &using,
		Filter:         repositoryFilter(repository),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	scored := make([]*ScoredChunk, 0, len(results))
	for _, result := range results {
		scored = append(scored, &ScoredChunk{
			Chunk: chunkFromPayload(result.Id.GetUuid(), result.Payload),
			Score: float64(result.Score),
		})
	}

	return scored, nil
}

// DeleteRepository removes every chunk of repository.
func (s *QdrantStorage) DeleteRepository(ctx context.Context, repository string) error {
	if repository == "" {
		return errors.New("repository is required")
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(repositoryFilter(repository)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete repository %s: %w", repository, err)
	}
	return nil
}

// DeleteStale removes the chunks of repository that were not written by
// build buildID, i.e. files that disappeared or shrank since the last build.
func (s *QdrantStorage) DeleteStale(ctx context.Context, repository, buildID string) error {
	if repository == "" || buildID == "" {
		return errors.New("repository and build id are required")
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(staleFilter(repository, buildID)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete stale chunks of %s: %w", repository, err)
	}
	return nil
}

func staleFilter(repository, buildID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("repository", repository),
		},
		MustNot: []*qdrant.Condition{
			qdrant.NewMatch("build_id", buildID),
		},
	}
}

// CountChunks returns the exact number of chunks stored for repository, or
// for the whole collection when repository is empty.
func (s *QdrantStorage) CountChunks(ctx context.Context, repository string) (int, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         repositoryFilter(repository),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return int(count), nil
}

// GetCommitSHA retrieves the commit SHA for indexed content from a repository.
// Returns empty string if no chunks found for the repository.
func (s *QdrantStorage) GetCommitSHA(ctx context.Context, repository string) (string, error) {
	results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         repositoryFilter(repository),
		Limit:          qdrant.PtrOf(uint32(1)),
		WithPayload:    qdrant.NewWithPayloadInclude("commit_sha"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to scroll for commit SHA: %w", err)
	}

	if len(results) == 0 {
		return "", nil
	}

	return results[0].Payload["commit_sha"].GetStringValue(), nil
}

// GetSourceURL returns the remote URL the repository's chunks were built
// from, or an empty string when the repository is not indexed.
func (s *QdrantStorage) GetSourceURL(ctx context.Context, repository string) (string, error) {
	results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         repositoryFilter(repository),
		Limit:          qdrant.PtrOf(uint32(1)),
		WithPayload:    qdrant.NewWithPayloadInclude("source_url"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to scroll for source url: %w", err)
	}
	if len(results) == 0 {
		return "", nil
	}
	return results[0].Payload["source_url"].GetStringValue(), nil
}

// ListRepositories returns the distinct repository slugs in the collection.
// Uses Scroll API to iterate through all points.
func (s *QdrantStorage) ListRepositories(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var offset *qdrant.PointId
	batchSize := uint32(256)

	for {
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Limit:          qdrant.PtrOf(batchSize),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude("repository"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll repositories: %w", err)
		}

		for _, result := range results {
			if repo := result.Payload["repository"].GetStringValue(); repo != "" {
				seen[repo] = struct{}{}
			}
		}

		if uint32(len(results)) < batchSize {
			break
		}
		offset = results[len(results)-1].Id
	}

	repos := make([]string, 0, len(seen))
	for repo := range seen {
		repos = append(repos, repo)
	}
	sort.Strings(repos)
	return repos, nil
}

// CollectionInfo contains collection statistics
type CollectionInfo struct {
	Name        string
	PointsCount uint64
}

// GetCollectionInfo retrieves collection statistics including total points count.
func (s *QdrantStorage) GetCollectionInfo(ctx context.Context) (*CollectionInfo, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, s.collection)
	}

	collection, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	return &CollectionInfo{
		Name:        s.collection,
		PointsCount: collection.GetPointsCount(),
	}, nil
}
