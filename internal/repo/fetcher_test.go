package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/repo-runner/internal/repo/repotest"
)

func TestFetcher_Fetch(t *testing.T) {
	sourceDir, _ := repotest.CreateRepository(t, map[string]string{
		"README.md":   "# Fixture\n",
		"app/main.py": "print('hello')\n",
	})

	target := filepath.Join(t.TempDir(), "work", "fixture")
	fetcher := NewFetcher(nil, WithDepth(0))

	checkout, err := fetcher.Fetch(context.Background(), FetchRequest{URL: sourceDir, Directory: target})
	require.NoError(t, err)

	assert.Equal(t, target, checkout.Directory)
	assert.NotEmpty(t, checkout.CommitSHA)
	assert.NotEmpty(t, checkout.Branch)
	assert.FileExists(t, filepath.Join(target, "README.md"))
	assert.FileExists(t, filepath.Join(target, "app", "main.py"))
}

func TestFetcher_Fetch_ReplacesStaleDirectory(t *testing.T) {
	sourceDir, _ := repotest.CreateRepository(t, map[string]string{"main.go": "package main\n"})

	target := filepath.Join(t.TempDir(), "fixture")
	require.NoError(t, os.MkdirAll(target, 0o755))
	stale := filepath.Join(target, "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("left over"), 0o600))

	fetcher := NewFetcher(nil, WithDepth(0))
	ctx := context.Background()

	// fetching the same slug twice must not collide
	for i := 0; i < 2; i++ {
		_, err := fetcher.Fetch(ctx, FetchRequest{URL: sourceDir, Directory: target})
		require.NoError(t, err, "fetch %d", i)
	}

	assert.NoFileExists(t, stale)
	assert.FileExists(t, filepath.Join(target, "main.go"))
}

func TestFetcher_Fetch_HonorsBranch(t *testing.T) {
	sourceDir, repository := repotest.CreateRepository(t, map[string]string{"main.txt": "default"})

	worktree, err := repository.Worktree()
	require.NoError(t, err)
	require.NoError(t, worktree.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName("feature"),
		Create: true,
	}))
	repotest.CommitFiles(t, repository, sourceDir, map[string]string{"feature.txt": "feature only"}, "Feature commit")

	target := filepath.Join(t.TempDir(), "fixture")
	fetcher := NewFetcher(nil, WithDepth(0))

	checkout, err := fetcher.Fetch(context.Background(), FetchRequest{
		URL:       sourceDir,
		Branch:    "feature",
		Directory: target,
	})
	require.NoError(t, err)

	assert.Equal(t, "feature", checkout.Branch)
	assert.FileExists(t, filepath.Join(target, "feature.txt"))
}

func TestFetcher_Fetch_InvalidURL(t *testing.T) {
	target := filepath.Join(t.TempDir(), "broken")
	fetcher := NewFetcher(nil, WithDepth(0))

	_, err := fetcher.Fetch(context.Background(), FetchRequest{
		URL:       filepath.Join(t.TempDir(), "does-not-exist"),
		Directory: target,
	})
	require.Error(t, err)
	assert.NoDirExists(t, target, "partial clone should be removed")
}

func TestFetcher_Fetch_Validation(t *testing.T) {
	fetcher := NewFetcher(nil)

	_, err := fetcher.Fetch(context.Background(), FetchRequest{Directory: t.TempDir()})
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = fetcher.Fetch(context.Background(), FetchRequest{URL: "https://example.com/a.git"})
	assert.Error(t, err)
}

func TestFetcher_Cleanup(t *testing.T) {
	fetcher := NewFetcher(nil)

	assert.NoError(t, fetcher.Cleanup(""))
	assert.NoError(t, fetcher.Cleanup(filepath.Join(t.TempDir(), "missing")))

	dir := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, fetcher.Cleanup(dir))
	assert.NoDirExists(t, dir)
}
