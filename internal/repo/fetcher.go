// Package repo obtains local working copies of remote source repositories.
package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// FetchRequest describes one clone.
type FetchRequest struct {
	URL       string
	Branch    string // empty clones the remote default branch
	Directory string
}

// Checkout is a local working copy produced by Fetch.
type Checkout struct {
	Directory string
	Branch    string
	CommitSHA string
}

// Fetcher clones repositories with go-git.
type Fetcher struct {
	depth  int
	token  string
	logger *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithDepth sets the clone depth. Zero clones full history.
func WithDepth(depth int) Option {
	return func(f *Fetcher) { f.depth = depth }
}

// WithToken authenticates HTTPS clones with a personal access token.
func WithToken(token string) Option {
	return func(f *Fetcher) { f.token = token }
}

// NewFetcher creates a Fetcher. Defaults to shallow clones.
func NewFetcher(logger *slog.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{depth: 1, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch clones req.URL into req.Directory. An existing directory is removed
// first so repeated fetches of the same slug always start clean.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (*Checkout, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	if req.Directory == "" {
		return nil, errors.New("fetch: target directory is required")
	}

	if err := f.Cleanup(req.Directory); err != nil {
		return nil, fmt.Errorf("remove stale working copy: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(req.Directory), 0o755); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}

	cloneOptions := &git.CloneOptions{
		URL:   req.URL,
		Depth: f.depth,
		Tags:  git.NoTags,
	}
	if req.Branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(req.Branch)
		cloneOptions.SingleBranch = true
	}
	if f.token != "" {
		cloneOptions.Auth = &http.BasicAuth{Username: "x-access-token", Password: f.token}
	}

	f.logger.Info("Cloning repository", "url", req.URL, "branch", req.Branch, "dir", req.Directory)
	repository, err := git.PlainCloneContext(ctx, req.Directory, false, cloneOptions)
	if err != nil {
		// a failed clone can leave a partial directory behind
		_ = os.RemoveAll(req.Directory)
		return nil, fmt.Errorf("failed to clone repository %s: %w", req.URL, err)
	}

	ref, err := repository.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD reference: %w", err)
	}

	checkout := &Checkout{
		Directory: req.Directory,
		Branch:    req.Branch,
		CommitSHA: ref.Hash().String(),
	}
	if ref.Name().IsBranch() {
		checkout.Branch = ref.Name().Short()
	}

	f.logger.Info("Cloned repository", "dir", req.Directory, "branch", checkout.Branch, "commit", checkout.CommitSHA)
	return checkout, nil
}

// Cleanup removes a working copy. Missing directories are not an error.
func (f *Fetcher) Cleanup(dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return os.RemoveAll(dir)
}
