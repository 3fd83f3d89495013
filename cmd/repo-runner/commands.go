package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/repo-runner/internal/app"
	"github.com/bull/repo-runner/internal/config"
	"github.com/bull/repo-runner/internal/indexer"
	"github.com/bull/repo-runner/internal/jobs"
	"github.com/bull/repo-runner/internal/query"
	"github.com/bull/repo-runner/internal/repo"
)

var (
	ingestBranch   string
	chatRepository string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <repo-url>",
	Short: "Clone and index a repository",
	Long: `Clones the repository, loads every allow-listed source file, embeds the
chunks and stores them in Qdrant, replacing any earlier index of the same
repository. Runs in the foreground and prints a summary.

Environment variables:
  QDRANT_HOST      Qdrant hostname (default: localhost)
  QDRANT_PORT      Qdrant gRPC port (default: 6334)
  QDRANT_API_KEY   Qdrant API key (required)
  OPENAI_API_KEY   OpenAI API key for embeddings (required)
  GITHUB_TOKEN     Token for private repositories and higher API limits (optional)
  DATABASE_URL     sqlite path for job history (optional)`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var chatCmd = &cobra.Command{
	Use:   "chat <question>",
	Short: "Ask a question about ingested code",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

var statusCmd = &cobra.Command{
	Use:   "status [repository]",
	Short: "Show indexed repositories, or the index status of one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var checkEnvCmd = &cobra.Command{
	Use:   "check-env",
	Short: "Validate configuration and required keys",
	Args:  cobra.NoArgs,
	RunE:  runCheckEnv,
}

var resetCmd = &cobra.Command{
	Use:   "reset [repository]",
	Short: "Drop one indexed repository, or all of them",
	Long: `Without an argument, recreates the Qdrant collection, removing the vectors
of all repositories. With a repository slug, removes only that repository.
Job history is kept.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReset,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio for local clients",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestBranch, "branch", "", "branch to index (default: remote default branch)")
	chatCmd.Flags().StringVar(&chatRepository, "repository", "", "repository slug to search (default: all)")
}

// setup loads configuration and builds the application. The CLI treats a
// missing vector store key as fatal.
func setup(ctx context.Context) (*app.App, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.RequireVectorStoreKey(); err != nil {
		return nil, nil, err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, version, logger)
	if err != nil {
		return nil, nil, err
	}
	return a, logger, nil
}

func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		slog.Warn("Shutdown incomplete", "error", err)
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	start := time.Now()

	a, _, err := setup(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	job, err := a.Manager.Submit(ctx, jobs.Request{URL: args[0], Branch: ingestBranch})
	if err != nil {
		return err
	}
	fmt.Printf("Ingesting %s (job %s)...\n", job.Slug, job.ID)

	job, err = waitForJob(ctx, a.Manager, job.ID)
	if err != nil {
		return err
	}

	fmt.Println()
	if job.State == jobs.StateFailed {
		fmt.Printf("Ingestion failed: %s\n", job.Error)
		return errors.New("ingestion failed")
	}
	fmt.Println("Ingestion complete!")
	fmt.Printf("  Repository: %s\n", job.Slug)
	fmt.Printf("  Branch: %s\n", job.ResolvedBranch)
	fmt.Printf("  Commit: %s\n", job.CommitSHA)
	fmt.Printf("  Documents: %d\n", job.Documents)
	fmt.Printf("  Chunks: %d\n", job.Chunks)
	if job.FailedDocs > 0 {
		fmt.Printf("  Failed documents: %d\n", job.FailedDocs)
	}
	if job.Truncated {
		fmt.Println("  Note: file limits reached, repository partially indexed")
	}
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Second))
	return nil
}

func waitForJob(ctx context.Context, m *jobs.Manager, id string) (*jobs.Job, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		job, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.State.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, _, err := setup(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx, cancel := context.WithTimeout(ctx, a.Config.Query.Timeout)
	defer cancel()

	answer, err := a.Engine.Ask(ctx, query.Question{
		Query:      strings.Join(args, " "),
		Repository: chatRepository,
	})
	if err != nil {
		return err
	}

	fmt.Println(answer.Response)
	if len(answer.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, src := range answer.Sources {
			fmt.Printf("  - %s/%s (score %.3f)\n", src.Repository, src.Path, src.Score)
		}
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, _, err := setup(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if len(args) == 0 {
		names, err := a.Pipeline.ListRepositories(ctx)
		if err != nil {
			return err
		}
		info, err := a.Store.GetCollectionInfo(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Collection %s: %d chunks\n", info.Name, info.PointsCount)
		if len(names) == 0 {
			fmt.Println("No repositories indexed yet.")
			return nil
		}
		for _, name := range names {
			fmt.Printf("  - %s\n", name)
		}
		return nil
	}

	req := indexer.StatusRequest{Slug: repo.NormalizeSlug(args[0])}
	if job, err := a.Manager.Latest(ctx, req.Slug); err == nil {
		req.URL = job.URL
		req.Branch = job.ResolvedBranch
	}
	status, err := a.Pipeline.Status(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("Repository: %s\n", status.Repository)
	fmt.Printf("  Indexed: %t\n", status.Indexed)
	fmt.Printf("  Chunks: %d\n", status.Chunks)
	if status.CommitSHA != "" {
		fmt.Printf("  Commit: %s\n", status.CommitSHA)
	}
	if status.CommitsBehind != nil {
		fmt.Printf("  Commits behind: %d\n", *status.CommitsBehind)
	}
	if status.StaleWarning != "" {
		fmt.Printf("  Warning: %s\n", status.StaleWarning)
	}
	return nil
}

func runCheckEnv(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var failed bool
	if err := cfg.RequireVectorStoreKey(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		failed = true
	}
	if cfg.OpenAI.APIKey == "" {
		fmt.Println("ERROR: OPENAI_API_KEY not found in environment variables")
		failed = true
	}
	for _, warning := range cfg.Validate() {
		fmt.Printf("WARN: %s\n", warning)
	}
	if failed {
		return errors.New("environment is incomplete")
	}
	fmt.Println("Environment OK")
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, _, err := setup(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if len(args) == 1 {
		slug := repo.NormalizeSlug(args[0])
		if err := a.Store.DeleteRepository(ctx, slug); err != nil {
			return err
		}
		fmt.Printf("Repository %s removed\n", slug)
		return nil
	}

	fmt.Println("Clearing existing collection...")
	if err := a.Store.ClearCollection(ctx); err != nil {
		return fmt.Errorf("failed to clear collection: %w", err)
	}
	fmt.Println("Collection cleared")
	return nil
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	a, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	logger.Info("Starting Repo Runner MCP server (stdio mode)")
	return a.MCP.Run(ctx)
}
