package query

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/repo-runner/internal/llm/llmtest"
	"github.com/bull/repo-runner/internal/loader"
	"github.com/bull/repo-runner/internal/vectorindex"
	"github.com/bull/repo-runner/internal/vectorindex/vectorindextest"
)

const testDim = 4096

func docs(items map[string]string) iter.Seq2[loader.Document, error] {
	return func(yield func(loader.Document, error) bool) {
		for path, content := range items {
			if !yield(loader.Document{Path: path, Content: content}, nil) {
				return
			}
		}
	}
}

func setup(t *testing.T) (*Engine, *vectorindex.Index, *llmtest.EchoGenerator, *vectorindextest.HashEmbedder) {
	t.Helper()
	embedder := vectorindextest.NewHashEmbedder(testDim)
	index := vectorindex.New(vectorindextest.NewMemoryStore(testDim), embedder, vectorindex.Options{}, nil)
	generator := &llmtest.EchoGenerator{}
	return NewEngine(index, generator, 0, nil), index, generator, embedder
}

func TestAsk_AnswersFromRetrievedContext(t *testing.T) {
	engine, index, generator, _ := setup(t)
	ctx := context.Background()

	_, err := index.Build(ctx, vectorindex.BuildRequest{Repository: "demo", CommitSHA: "abc", Documents: docs(map[string]string{
		"app/settings.py": "SECRET_TOKEN = \"pineapple42\"\n",
		"README.md":       "# Demo\n\nNothing to see.\n",
	})})
	require.NoError(t, err)

	answer, err := engine.Ask(ctx, Question{Query: "  what is the secret token value?  "})
	require.NoError(t, err)
	assert.Contains(t, answer.Response, "pineapple42")
	require.Len(t, answer.Sources, 2)
	assert.Equal(t, "app/settings.py", answer.Sources[0].Path)
	assert.Equal(t, "demo", answer.Sources[0].Repository)
	assert.Equal(t, 1, answer.Sources[0].StartLine)
	assert.GreaterOrEqual(t, answer.Sources[0].Score, answer.Sources[1].Score)

	assert.Equal(t, []string{"what is the secret token value?"}, generator.Questions())
	passages := generator.LastPassages()
	require.Len(t, passages, 2)
	assert.Equal(t, "L1-L1", passages[0].Section)
}

func TestAsk_TopK(t *testing.T) {
	_, index, generator, _ := setup(t)
	engine := NewEngine(index, generator, 2, nil)
	ctx := context.Background()

	files := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		files[name+".py"] = name + " = 1\n"
	}
	_, err := index.Build(ctx, vectorindex.BuildRequest{Repository: "demo", Documents: docs(files)})
	require.NoError(t, err)

	answer, err := engine.Ask(ctx, Question{Query: "a"})
	require.NoError(t, err)
	assert.Len(t, answer.Sources, 2)

	engine = NewEngine(index, generator, 0, nil)
	answer, err = engine.Ask(ctx, Question{Query: "a"})
	require.NoError(t, err)
	assert.Len(t, answer.Sources, DefaultTopK)
}

func TestAsk_ScopesToRepository(t *testing.T) {
	engine, index, _, _ := setup(t)
	ctx := context.Background()

	_, err := index.Build(ctx, vectorindex.BuildRequest{Repository: "one", Documents: docs(map[string]string{"a.py": "token = 1\n"})})
	require.NoError(t, err)
	_, err = index.Build(ctx, vectorindex.BuildRequest{Repository: "two", Documents: docs(map[string]string{"b.py": "token = 2\n"})})
	require.NoError(t, err)

	answer, err := engine.Ask(ctx, Question{Query: "token", Repository: "two"})
	require.NoError(t, err)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "two", answer.Sources[0].Repository)

	answer, err = engine.Ask(ctx, Question{Query: "token", Repository: " Two "})
	require.NoError(t, err)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "two", answer.Sources[0].Repository)

	_, err = engine.Ask(ctx, Question{Query: "token", Repository: "three"})
	assert.ErrorIs(t, err, vectorindex.ErrIndexEmpty)
}

func TestAsk_EmptyQuery(t *testing.T) {
	engine, _, _, _ := setup(t)
	for _, q := range []string{"", "   \n"} {
		_, err := engine.Ask(context.Background(), Question{Query: q})
		assert.ErrorIs(t, err, ErrEmptyQuery)
	}
}

func TestAsk_BeforeIngestion(t *testing.T) {
	engine, _, _, _ := setup(t)
	_, err := engine.Ask(context.Background(), Question{Query: "anything"})
	assert.ErrorIs(t, err, vectorindex.ErrIndexEmpty)
}

func TestAsk_ProviderFailures(t *testing.T) {
	engine, index, generator, embedder := setup(t)
	ctx := context.Background()
	_, err := index.Build(ctx, vectorindex.BuildRequest{Repository: "demo", Documents: docs(map[string]string{"a.py": "x = 1\n"})})
	require.NoError(t, err)

	quota := errors.New("quota exceeded")
	generator.FailWith(quota)
	_, err = engine.Ask(ctx, Question{Query: "x"})
	assert.ErrorIs(t, err, quota)

	unauthorized := errors.New("unauthorized")
	embedder.FailWith(unauthorized)
	_, err = engine.Ask(ctx, Question{Query: "x"})
	assert.ErrorIs(t, err, unauthorized)
}
