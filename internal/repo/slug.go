package repo

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidURL is returned when no repository name can be derived from a URL.
var ErrInvalidURL = errors.New("invalid repository url")

// Slug derives a filesystem- and namespace-safe identifier from a repository
// URL: the last path segment with any ".git" suffix removed.
//
//	https://github.com/owner/project.git -> project
//	git@github.com:owner/project.git     -> project
func Slug(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	trimmed = strings.TrimRight(trimmed, "/")
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty url", ErrInvalidURL)
	}

	// scp-style URLs separate host and path with ':'
	last := trimmed
	if i := strings.LastIndexAny(last, "/:"); i >= 0 {
		last = last[i+1:]
	}
	last = strings.TrimSuffix(last, ".git")

	slug := sanitize(last)
	if slug == "" {
		return "", fmt.Errorf("%w: %q has no repository name", ErrInvalidURL, rawURL)
	}
	return slug, nil
}

// NormalizeSlug maps a user-supplied repository name onto the slug alphabet,
// so "MyRepo" and "myrepo" address the same namespace. Empty input stays
// empty and means "every repository".
func NormalizeSlug(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return sanitize(name)
}

// SameSource reports whether two repository URLs point at the same remote.
// Scheme, scp-style host separators, a trailing slash or ".git" and letter
// case are ignored.
func SameSource(a, b string) bool {
	return canonicalSource(a) == canonicalSource(b)
}

func canonicalSource(rawURL string) string {
	s := strings.ToLower(strings.TrimSpace(rawURL))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
		// drop credentials
		if at := strings.LastIndex(s, "@"); at >= 0 && at < strings.IndexByte(s+"/", '/') {
			s = s[at+1:]
		}
	} else if at := strings.Index(s, "@"); at >= 0 && strings.Contains(s[at:], ":") {
		// git@host:owner/repo
		s = strings.Replace(s[at+1:], ":", "/", 1)
	}
	s = strings.TrimRight(s, "/")
	s = strings.TrimSuffix(s, ".git")
	return strings.TrimRight(s, "/")
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	// never produce "." or ".." which would escape the work directory
	s := strings.Trim(b.String(), ".")
	return s
}
