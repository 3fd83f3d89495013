//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStorage creates a test storage instance on a throwaway collection.
// Skips test if Qdrant is not running.
func setupTestStorage(t *testing.T) *QdrantStorage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	storage, err := NewQdrantStorage(ctx, Config{
		Host:       "localhost",
		Port:       6334,
		Collection: "repo-runner-test-" + uuid.NewString()[:8],
		Dimension:  4,
	})
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}

	require.NoError(t, storage.EnsureCollection(context.Background()), "Failed to ensure collection")
	t.Cleanup(func() {
		_ = storage.client.DeleteCollection(context.Background(), storage.collection)
		storage.Close()
	})

	return storage
}

func testChunk(repo, path string, index int, vec ...float32) *Chunk {
	return &Chunk{
		ID:         ChunkID(repo, path, index),
		Repository: repo,
		Path:       path,
		ChunkIndex: index,
		HeaderPath: "L1-L1",
		StartLine:  1,
		EndLine:    1,
		Content:    path + " content",
		CommitSHA:  "sha-" + repo,
		SourceURL:  "https://github.com/acme/" + repo,
		BuildID:    "build-1",
		IndexedAt:  time.Now().UTC(),
		Embedding:  vec,
	}
}

func TestEnsureCollection_Idempotent(t *testing.T) {
	storage := setupTestStorage(t)
	require.NoError(t, storage.EnsureCollection(context.Background()))
}

func TestChunkSearchRoundTrip(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertChunks(ctx, []*Chunk{
		testChunk("alpha", "a.go", 0, 1, 0, 0, 0),
		testChunk("alpha", "b.go", 0, 0, 1, 0, 0),
		testChunk("beta", "c.go", 0, 1, 0.1, 0, 0),
	}))

	results, err := storage.SearchChunks(ctx, []float32{1, 0, 0, 0}, 5, "alpha")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a.go", results[0].Chunk.Path)
	assert.Equal(t, "alpha", results[0].Chunk.Repository)
	assert.Equal(t, "sha-alpha", results[0].Chunk.CommitSHA)
	assert.Greater(t, results[0].Score, results[1].Score)

	all, err := storage.SearchChunks(ctx, []float32{1, 0, 0, 0}, 5, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestUpsertChunks_OverwritesSameID(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	chunk := testChunk("alpha", "a.go", 0, 1, 0, 0, 0)
	require.NoError(t, storage.UpsertChunks(ctx, []*Chunk{chunk}))
	require.NoError(t, storage.UpsertChunks(ctx, []*Chunk{chunk}))

	count, err := storage.CountChunks(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeleteRepository_KeepsOthers(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertChunks(ctx, []*Chunk{
		testChunk("alpha", "a.go", 0, 1, 0, 0, 0),
		testChunk("beta", "b.go", 0, 0, 1, 0, 0),
	}))
	require.NoError(t, storage.DeleteRepository(ctx, "alpha"))

	count, err := storage.CountChunks(ctx, "alpha")
	require.NoError(t, err)
	assert.Zero(t, count)

	repos, err := storage.ListRepositories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, repos)

	sha, err := storage.GetCommitSHA(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, "sha-beta", sha)

	sha, err = storage.GetCommitSHA(ctx, "alpha")
	require.NoError(t, err)
	assert.Empty(t, sha)
}

func TestDeleteStale_KeepsCurrentBuild(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	old := testChunk("alpha", "removed.go", 0, 1, 0, 0, 0)
	kept := testChunk("alpha", "kept.go", 0, 0, 1, 0, 0)
	other := testChunk("beta", "b.go", 0, 0, 0, 1, 0)
	require.NoError(t, storage.UpsertChunks(ctx, []*Chunk{old, kept, other}))

	kept.BuildID = "build-2"
	require.NoError(t, storage.UpsertChunks(ctx, []*Chunk{kept}))
	require.NoError(t, storage.DeleteStale(ctx, "alpha", "build-2"))

	count, err := storage.CountChunks(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = storage.CountChunks(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "other repositories are untouched")

	source, err := storage.GetSourceURL(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/alpha", source)
}

func TestDimensionMismatch(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	err := storage.UpsertChunks(ctx, []*Chunk{testChunk("alpha", "a.go", 0, 1, 0)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = storage.SearchChunks(ctx, []float32{1, 0}, 5, "")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestClearCollection(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertChunks(ctx, []*Chunk{testChunk("alpha", "a.go", 0, 1, 0, 0, 0)}))
	require.NoError(t, storage.ClearCollection(ctx))

	info, err := storage.GetCollectionInfo(ctx)
	require.NoError(t, err)
	assert.Zero(t, info.PointsCount)
}
