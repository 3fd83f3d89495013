package vectorindex

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/repo-runner/internal/loader"
	"github.com/bull/repo-runner/internal/vectorindex/vectorindextest"
)

const testDim = 4096

func docs(items ...loader.Document) iter.Seq2[loader.Document, error] {
	return func(yield func(loader.Document, error) bool) {
		for _, d := range items {
			if !yield(d, nil) {
				return
			}
		}
	}
}

func doc(path, content string) loader.Document {
	return loader.Document{Path: path, Content: content, Size: int64(len(content))}
}

func newTestIndex(batch int) (*Index, *vectorindextest.MemoryStore, *vectorindextest.HashEmbedder) {
	store := vectorindextest.NewMemoryStore(testDim)
	embedder := vectorindextest.NewHashEmbedder(testDim)
	return New(store, embedder, Options{BatchSize: batch}, nil), store, embedder
}

func TestBuild_IndexesAndRetrieves(t *testing.T) {
	idx, store, _ := newTestIndex(0)
	ctx := context.Background()

	result, err := idx.Build(ctx, BuildRequest{
		Repository: "demo",
		CommitSHA:  "abc123",
		Documents: docs(
			doc("app/settings.py", "SECRET_TOKEN = \"pineapple42\"\n"),
			doc("README.md", "# Demo\n\nA small demo repository.\n"),
		),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Documents)
	assert.Equal(t, 2, result.Chunks)
	assert.Empty(t, result.FailedDocs)

	stored := store.Chunks("demo")
	require.Len(t, stored, 2)
	assert.Equal(t, "abc123", stored[0].CommitSHA)
	assert.False(t, stored[0].IndexedAt.IsZero())
	assert.Equal(t, "README.md", stored[0].Path)
	assert.Equal(t, "# Demo", stored[0].HeaderPath)
	assert.False(t, strings.HasPrefix(stored[0].Content, "File:"), "payload holds raw text")

	h, err := idx.Load(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, 2, h.Size())

	hits, err := h.Retrieve(ctx, "what is the secret token value?", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "app/settings.py", hits[0].Chunk.Path)
	assert.Contains(t, hits[0].Chunk.Content, "pineapple42")
}

func TestBuild_ReplacesPreviousVectors(t *testing.T) {
	idx, store, _ := newTestIndex(0)
	ctx := context.Background()

	_, err := idx.Build(ctx, BuildRequest{Repository: "demo", Documents: docs(
		doc("a.py", "x = 1\n"),
		doc("b.py", "y = 2\n"),
	)})
	require.NoError(t, err)

	_, err = idx.Build(ctx, BuildRequest{Repository: "demo", Documents: docs(
		doc("a.py", "x = 1\n"),
	)})
	require.NoError(t, err)

	count, err := store.CountChunks(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "re-ingestion must not accumulate duplicates")
}

func TestBuild_FailedRebuildKeepsPreviousIndex(t *testing.T) {
	idx, store, _ := newTestIndex(1)
	ctx := context.Background()

	_, err := idx.Build(ctx, BuildRequest{Repository: "demo", CommitSHA: "v1", Documents: docs(
		doc("app/settings.py", "SECRET_TOKEN = \"pineapple42\"\n"),
		doc("old.py", "legacy = True\n"),
	)})
	require.NoError(t, err)

	boom := errors.New("qdrant unavailable")
	store.FailUpsertsAfter(1, boom)
	_, err = idx.Build(ctx, BuildRequest{Repository: "demo", CommitSHA: "v2", Documents: docs(
		doc("a.py", "x = 1\n"),
		doc("b.py", "y = 2\n"),
	)})
	require.ErrorIs(t, err, boom)

	var paths []string
	for _, c := range store.Chunks("demo") {
		paths = append(paths, c.Path)
	}
	assert.Contains(t, paths, "app/settings.py")
	assert.Contains(t, paths, "old.py")

	h, err := idx.Load(ctx, "demo")
	require.NoError(t, err)
	hits, err := h.Retrieve(ctx, "what is the secret token value?", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Chunk.Content, "pineapple42")
}

func TestBuild_RejectsOtherSource(t *testing.T) {
	idx, store, _ := newTestIndex(0)
	ctx := context.Background()

	_, err := idx.Build(ctx, BuildRequest{
		Repository: "utils",
		SourceURL:  "https://github.com/owner-a/utils",
		Documents:  docs(doc("token.txt", "pineapple42\n")),
	})
	require.NoError(t, err)

	_, err = idx.Build(ctx, BuildRequest{
		Repository: "utils",
		SourceURL:  "https://github.com/owner-b/utils",
		Documents:  docs(doc("other.txt", "banana\n")),
	})
	require.ErrorIs(t, err, ErrNamespaceConflict)

	stored := store.Chunks("utils")
	require.Len(t, stored, 1)
	assert.Equal(t, "token.txt", stored[0].Path)
	assert.Equal(t, "https://github.com/owner-a/utils", stored[0].SourceURL)

	// the same remote spelled differently may rebuild
	_, err = idx.Build(ctx, BuildRequest{
		Repository: "utils",
		SourceURL:  "git@github.com:owner-a/utils.git",
		Documents:  docs(doc("token.txt", "pineapple43\n")),
	})
	require.NoError(t, err)
}

func TestBuild_KeepsOtherRepositories(t *testing.T) {
	idx, store, _ := newTestIndex(0)
	ctx := context.Background()

	_, err := idx.Build(ctx, BuildRequest{Repository: "one", Documents: docs(doc("a.py", "x = 1\n"))})
	require.NoError(t, err)
	_, err = idx.Build(ctx, BuildRequest{Repository: "two", Documents: docs(doc("a.py", "x = 1\n"))})
	require.NoError(t, err)

	total, err := store.CountChunks(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	h, err := idx.Load(ctx, "one")
	require.NoError(t, err)
	hits, err := h.Retrieve(ctx, "x", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "one", hits[0].Chunk.Repository)
}

func TestBuild_Batches(t *testing.T) {
	idx, _, embedder := newTestIndex(2)

	result, err := idx.Build(context.Background(), BuildRequest{Repository: "demo", Documents: docs(
		doc("a.py", "a\n"), doc("b.py", "b\n"), doc("c.py", "c\n"), doc("d.py", "d\n"), doc("e.py", "e\n"),
	)})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Chunks)
	assert.Equal(t, 3, embedder.Calls())
}

func TestBuild_EmptyDocumentsYieldNoChunks(t *testing.T) {
	idx, _, embedder := newTestIndex(0)

	result, err := idx.Build(context.Background(), BuildRequest{Repository: "demo", Documents: docs(
		doc("empty.py", "  \n"),
	)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Documents)
	assert.Zero(t, result.Chunks)
	assert.Zero(t, embedder.Calls())
}

func TestBuild_EmbeddingFailureAborts(t *testing.T) {
	idx, _, embedder := newTestIndex(0)
	boom := errors.New("quota exceeded")
	embedder.FailWith(boom)

	_, err := idx.Build(context.Background(), BuildRequest{Repository: "demo", Documents: docs(doc("a.py", "x = 1\n"))})
	require.ErrorIs(t, err, boom)
}

func TestBuild_LoaderErrorAborts(t *testing.T) {
	idx, _, _ := newTestIndex(0)
	boom := errors.New("walk failed")

	failing := func(yield func(loader.Document, error) bool) {
		if !yield(doc("a.py", "x = 1\n"), nil) {
			return
		}
		yield(loader.Document{}, boom)
	}

	result, err := idx.Build(context.Background(), BuildRequest{Repository: "demo", Documents: failing})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, result.Documents)
}

func TestBuild_UnreadableFileIsSkipped(t *testing.T) {
	idx, _, _ := newTestIndex(0)

	withBadFile := func(yield func(loader.Document, error) bool) {
		if !yield(loader.Document{Path: "locked.py"}, &loader.FileError{Path: "locked.py", Err: errors.New("permission denied")}) {
			return
		}
		yield(doc("a.py", "x = 1\n"), nil)
	}

	result, err := idx.Build(context.Background(), BuildRequest{Repository: "demo", Documents: withBadFile})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Documents)
	assert.Equal(t, 1, result.Chunks)
	require.Len(t, result.FailedDocs, 1)
	assert.Equal(t, FailedDoc{Path: "locked.py", Reason: "permission denied"}, result.FailedDocs[0])
}

func TestBuild_RequiresRepository(t *testing.T) {
	idx, _, _ := newTestIndex(0)
	_, err := idx.Build(context.Background(), BuildRequest{Documents: docs()})
	assert.Error(t, err)
}

func TestLoad_EmptyIndex(t *testing.T) {
	idx, _, _ := newTestIndex(0)

	_, err := idx.Load(context.Background(), "")
	assert.ErrorIs(t, err, ErrIndexEmpty)

	_, err = idx.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrIndexEmpty)
	assert.Contains(t, err.Error(), "missing")
}

func TestRetrieve_EmbeddingFailure(t *testing.T) {
	idx, _, embedder := newTestIndex(0)
	ctx := context.Background()
	_, err := idx.Build(ctx, BuildRequest{Repository: "demo", Documents: docs(doc("a.py", "x = 1\n"))})
	require.NoError(t, err)

	h, err := idx.Load(ctx, "demo")
	require.NoError(t, err)

	embedder.FailWith(errors.New("unauthorized"))
	_, err = h.Retrieve(ctx, "x", 5)
	assert.Error(t, err)
}
