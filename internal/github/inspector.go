package github

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// DefaultStaleThreshold is the number of commits behind HEAD after which an
// index is reported as stale.
const DefaultStaleThreshold = 20

// Coordinates identifies a repository hosted on github.com.
type Coordinates struct {
	Owner string
	Repo  string
}

func (c Coordinates) String() string {
	return c.Owner + "/" + c.Repo
}

// ParseRepository extracts owner and repository name from a github.com clone
// URL. The second return value is false for any other host.
func ParseRepository(rawURL string) (Coordinates, bool) {
	raw := strings.TrimSpace(rawURL)

	var path string
	switch {
	case strings.HasPrefix(raw, "git@github.com:"):
		path = strings.TrimPrefix(raw, "git@github.com:")
	default:
		u, err := url.Parse(raw)
		if err != nil || !strings.EqualFold(u.Hostname(), "github.com") {
			return Coordinates{}, false
		}
		path = u.Path
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Coordinates{}, false
	}
	return Coordinates{
		Owner: parts[0],
		Repo:  strings.TrimSuffix(parts[1], ".git"),
	}, true
}

// Staleness describes how far an indexed commit lags the branch head.
type Staleness struct {
	CommitsBehind int
	Warning       string
}

// Inspector answers metadata questions about GitHub-hosted repositories.
type Inspector struct {
	client         *Client
	staleThreshold int
}

// NewInspector creates an Inspector. A threshold <= 0 uses DefaultStaleThreshold.
func NewInspector(client *Client, staleThreshold int) *Inspector {
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}
	return &Inspector{client: client, staleThreshold: staleThreshold}
}

// DefaultBranch returns the repository's default branch name.
func (i *Inspector) DefaultBranch(ctx context.Context, coords Coordinates) (string, error) {
	repository, _, err := i.client.Repositories.Get(ctx, coords.Owner, coords.Repo)
	if err != nil {
		return "", fmt.Errorf("failed to get repository %s: %w", coords, err)
	}
	branch := repository.GetDefaultBranch()
	if branch == "" {
		return "", fmt.Errorf("repository %s has no default branch", coords)
	}
	return branch, nil
}

// Staleness compares the indexed commit (base) with the head of branch. An
// empty branch resolves the default branch first.
func (i *Inspector) Staleness(ctx context.Context, coords Coordinates, commitSHA, branch string) (*Staleness, error) {
	if commitSHA == "" {
		return nil, fmt.Errorf("no indexed commit for %s", coords)
	}
	if branch == "" {
		var err error
		if branch, err = i.DefaultBranch(ctx, coords); err != nil {
			return nil, err
		}
	}

	comparison, _, err := i.client.Repositories.CompareCommits(ctx, coords.Owner, coords.Repo, commitSHA, branch, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to compare %s...%s: %w", commitSHA, branch, err)
	}

	behind := comparison.GetAheadBy()
	result := &Staleness{CommitsBehind: behind}
	if behind > i.staleThreshold {
		result.Warning = fmt.Sprintf("Index is %d commits behind %s. Consider re-ingesting.", behind, branch)
	}
	return result, nil
}
