package mcp

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/repo-runner/internal/indexer"
	"github.com/bull/repo-runner/internal/jobs"
	"github.com/bull/repo-runner/internal/llm/llmtest"
	"github.com/bull/repo-runner/internal/loader"
	"github.com/bull/repo-runner/internal/query"
	"github.com/bull/repo-runner/internal/repo"
	"github.com/bull/repo-runner/internal/repo/repotest"
	"github.com/bull/repo-runner/internal/vectorindex"
	"github.com/bull/repo-runner/internal/vectorindex/vectorindextest"
)

const testDim = 4096

func connect(t *testing.T) *mcp.ClientSession {
	t.Helper()

	store := vectorindextest.NewMemoryStore(testDim)
	index := vectorindex.New(store, vectorindextest.NewHashEmbedder(testDim), vectorindex.Options{}, nil)
	pipeline := indexer.NewPipeline(repo.NewFetcher(nil, repo.WithDepth(0)), index, store, nil, indexer.Options{
		WorkDir: t.TempDir(),
		Loader:  loader.Options{Extensions: []string{".py"}, ExcludeDirs: []string{".git"}},
	}, nil)
	manager := jobs.NewManager(jobs.NewMemoryStore(), pipeline, nil, jobs.Options{MaxConcurrent: 1}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	server := NewServer(&Config{
		Jobs:  manager,
		Index: pipeline,
		Chat:  query.NewEngine(index, &llmtest.EchoGenerator{}, 0, nil),
	})
	httpServer := httptest.NewServer(NewHTTPHandler(server, nil))
	t.Cleanup(httpServer.Close)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, &mcp.ClientOptions{})
	session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: httpServer.URL}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool[Out any](t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (Out, *mcp.CallToolResult) {
	t.Helper()
	var out Out
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if res.IsError || res.StructuredContent == nil {
		return out, res
	}
	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &out))
	return out, res
}

func TestListTools(t *testing.T) {
	session := connect(t)
	tools, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"ingest_repository", "get_job_status", "ask_repository", "get_index_status"}, names)
}

func TestIngestAndAsk(t *testing.T) {
	session := connect(t)
	sourceDir, _ := repotest.CreateRepositoryAt(t, filepath.Join(t.TempDir(), "demo"), map[string]string{
		"app/settings.py": "SECRET_TOKEN = \"pineapple42\"\n",
	})

	ingest, res := callTool[IngestOutput](t, session, "ingest_repository", map[string]any{"repo_url": sourceDir})
	require.False(t, res.IsError)
	require.NotEmpty(t, ingest.JobID)

	var status JobStatusOutput
	require.Eventually(t, func() bool {
		status, _ = callTool[JobStatusOutput](t, session, "get_job_status", map[string]any{"job_id": ingest.JobID})
		return status.Found && status.Job.State.Terminal()
	}, 20*time.Second, 20*time.Millisecond)
	require.Equal(t, jobs.StateSucceeded, status.Job.State, status.Job.Error)

	answer, res := callTool[AskOutput](t, session, "ask_repository", map[string]any{
		"query":      "what is the secret token value?",
		"repository": ingest.Repository,
	})
	require.False(t, res.IsError)
	assert.Contains(t, answer.Response, "pineapple42")
	require.NotEmpty(t, answer.Sources)
	assert.Equal(t, "app/settings.py", answer.Sources[0].Path)

	index, _ := callTool[IndexStatusOutput](t, session, "get_index_status", map[string]any{})
	assert.Equal(t, []string{ingest.Repository}, index.Repositories)

	index, _ = callTool[IndexStatusOutput](t, session, "get_index_status", map[string]any{"repository": ingest.Repository})
	require.NotNil(t, index.Status)
	assert.True(t, index.Status.Indexed)
	assert.Equal(t, 1, index.Status.Chunks)

	index, _ = callTool[IndexStatusOutput](t, session, "get_index_status", map[string]any{"repository": "DEMO"})
	require.NotNil(t, index.Status)
	assert.Equal(t, "demo", index.Status.Repository)
	assert.Equal(t, 1, index.Status.Chunks)
}

func TestGetJobStatus_Unknown(t *testing.T) {
	session := connect(t)
	status, res := callTool[JobStatusOutput](t, session, "get_job_status", map[string]any{"job_id": "missing"})
	assert.False(t, res.IsError)
	assert.False(t, status.Found)
}

func TestAsk_BeforeIngestion(t *testing.T) {
	session := connect(t)
	_, res := callTool[AskOutput](t, session, "ask_repository", map[string]any{"query": "anything?"})
	require.True(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, vectorindex.ErrIndexEmpty.Error())
}

func TestIngest_InvalidURL(t *testing.T) {
	session := connect(t)
	_, res := callTool[IngestOutput](t, session, "ingest_repository", map[string]any{"repo_url": "/"})
	assert.True(t, res.IsError)
}
