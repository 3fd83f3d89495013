// Package repotest builds throwaway local Git repositories for clone tests.
package repotest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// CreateRepository creates a local Git repository with the given files
// committed on its default branch. The directory path works as a clone URL.
func CreateRepository(t *testing.T, files map[string]string) (string, *git.Repository) {
	t.Helper()
	return CreateRepositoryAt(t, t.TempDir(), files)
}

// CreateRepositoryAt is CreateRepository at a chosen directory, for tests
// that need control over the last path segment.
func CreateRepositoryAt(t *testing.T, repoDir string, files map[string]string) (string, *git.Repository) {
	t.Helper()

	require.NoError(t, os.MkdirAll(repoDir, 0o700))
	repository, err := git.PlainInit(repoDir, false)
	require.NoError(t, err)

	CommitFiles(t, repository, repoDir, files, "Initial commit")
	return repoDir, repository
}

// CommitFiles writes files into the worktree and commits them, returning the
// new commit hash.
func CommitFiles(t *testing.T, repository *git.Repository, repoDir string, files map[string]string, message string) string {
	t.Helper()

	worktree, err := repository.Worktree()
	require.NoError(t, err)

	for filePath, content := range files {
		fullPath := filepath.Join(repoDir, filePath)
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o700))
		require.NoError(t, os.WriteFile(fullPath, []byte(content), 0o600))
		_, err := worktree.Add(filePath)
		require.NoError(t, err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "Test Author", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}
