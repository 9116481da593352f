package cookie_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hbomb79/immich-relay/internal/cookie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cookieBody = "# Netscape HTTP Cookie File\n.instagram.com\tTRUE\t/\tTRUE\t0\tsessionid\tabc\n"

func newResolverWithCookies(t *testing.T, platforms ...string) (*cookie.Resolver, string) {
	dir := t.TempDir()
	for _, p := range platforms {
		require.NoError(t, os.WriteFile(filepath.Join(dir, p+".txt"), []byte(cookieBody), 0o644))
	}

	return cookie.New(cookie.Config{Dir: dir}), dir
}

func Test_Resolve_SupportedDomainsProduceScopedCopy(t *testing.T) {
	resolver, dir := newResolverWithCookies(t, "instagram", "reddit", "tiktok", "twitter", "facebook", "youtube")

	urls := []string{
		"https://www.instagram.com/p/abc/",
		"https://instagram.com/reel/abc",
		"https://old.reddit.com/r/x/comments/1/",
		"https://WWW.REDDIT.COM/r/x/s/abc",
		"https://vm.tiktok.com/xyz",
		"https://x.com/user/status/1",
		"https://mobile.twitter.com/user/status/1",
		"https://m.facebook.com/watch?v=1",
		"https://youtu.be/abc",
	}

	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			scopeDir := t.TempDir()
			path, ok := resolver.Resolve(u, scopeDir)
			require.True(t, ok, "expected cookie to resolve")

			platform, _ := cookie.Platform(u)
			assert.NotEqual(t, filepath.Join(dir, platform+".txt"), path, "scoped copy must not be the source file")
			assert.Equal(t, scopeDir, filepath.Dir(path), "scoped copy must live in the scope dir")

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			contents, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, cookieBody, string(contents))
		})
	}
}

func Test_Resolve_CopiesAreDistinctPerInvocation(t *testing.T) {
	resolver, _ := newResolverWithCookies(t, "instagram")
	scopeDir := t.TempDir()

	first, ok := resolver.Resolve("https://instagram.com/p/1", scopeDir)
	require.True(t, ok)
	second, ok := resolver.Resolve("https://instagram.com/p/2", scopeDir)
	require.True(t, ok)

	assert.NotEqual(t, first, second)
}

func Test_Resolve_NoCookie(t *testing.T) {
	resolver, _ := newResolverWithCookies(t, "instagram")

	tests := []struct {
		summary  string
		url      string
		scopeDir string
	}{
		{"unmapped domain", "https://example.com/video.mp4", t.TempDir()},
		{"mapped domain without file", "https://reddit.com/r/x/comments/1", t.TempDir()},
		{"unparseable url", "://not a url", t.TempDir()},
		{"copy failure", "https://instagram.com/p/1", filepath.Join(t.TempDir(), "missing", "dir")},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			path, ok := resolver.Resolve(tt.url, tt.scopeDir)
			assert.False(t, ok)
			assert.Empty(t, path)
		})
	}
}
