package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://github.com/owner/project", "project"},
		{"https://github.com/owner/project.git", "project"},
		{"https://github.com/owner/project/", "project"},
		{"git@github.com:owner/project.git", "project"},
		{"git@github.com:project.git", "project"},
		{"https://gitlab.com/group/sub/My Repo.git", "my-repo"},
		{"/tmp/fixtures/local-repo", "local-repo"},
		{"  https://github.com/owner/Project.Name.git  ", "project.name"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := Slug(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlug_GitSuffixIsIgnored(t *testing.T) {
	urls := []string{
		"https://github.com/owner/repo",
		"https://example.org/mirrors/repo",
		"git@host:team/repo",
	}
	for _, u := range urls {
		plain, err := Slug(u)
		require.NoError(t, err)
		suffixed, err := Slug(u + ".git")
		require.NoError(t, err)
		assert.Equal(t, plain, suffixed, u)
	}
}

func TestSlug_Invalid(t *testing.T) {
	for _, u := range []string{"", "   ", "https://github.com/owner/.git", "/", "..", "https://host/.."} {
		_, err := Slug(u)
		assert.ErrorIs(t, err, ErrInvalidURL, "url %q", u)
	}
}

func TestNormalizeSlug(t *testing.T) {
	assert.Equal(t, "myrepo", NormalizeSlug("MyRepo"))
	assert.Equal(t, "my-repo", NormalizeSlug("  My Repo "))
	assert.Equal(t, "project.name", NormalizeSlug("Project.Name"))
	assert.Empty(t, NormalizeSlug("   "))

	slug, err := Slug("https://github.com/Owner/MyRepo.git")
	require.NoError(t, err)
	assert.Equal(t, slug, NormalizeSlug("MyRepo"))
}

func TestSameSource(t *testing.T) {
	same := []string{
		"https://github.com/owner-a/utils",
		"https://github.com/owner-a/utils.git",
		"https://github.com/Owner-A/utils/",
		"http://github.com/owner-a/utils",
		"https://token@github.com/owner-a/utils.git",
		"git@github.com:owner-a/utils.git",
		"ssh://git@github.com/owner-a/utils",
	}
	for _, u := range same {
		assert.True(t, SameSource(same[0], u), u)
	}

	assert.False(t, SameSource("https://github.com/owner-a/utils", "https://github.com/owner-b/utils"))
	assert.False(t, SameSource("https://github.com/owner-a/utils", "https://gitlab.com/owner-a/utils"))
	assert.True(t, SameSource("/tmp/fixtures/utils", "/tmp/fixtures/utils/"))
	assert.False(t, SameSource("/tmp/a/utils", "/tmp/b/utils"))
}
