package cookie

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hbomb79/immich-relay/pkg/logger"
)

var log = logger.Get("CookieResolver")

// platformHosts maps each hostname we recognise to the platform whose
// cookie file should be used when downloading from it.
var platformHosts = map[string]string{
	"instagram.com":     "instagram",
	"www.instagram.com": "instagram",
	"m.instagram.com":   "instagram",

	"reddit.com":     "reddit",
	"www.reddit.com": "reddit",
	"old.reddit.com": "reddit",
	"new.reddit.com": "reddit",
	"m.reddit.com":   "reddit",
	"redd.it":        "reddit",

	"tiktok.com":     "tiktok",
	"www.tiktok.com": "tiktok",
	"m.tiktok.com":   "tiktok",
	"vm.tiktok.com":  "tiktok",
	"vt.tiktok.com":  "tiktok",

	"twitter.com":        "twitter",
	"www.twitter.com":    "twitter",
	"mobile.twitter.com": "twitter",
	"x.com":              "twitter",
	"www.x.com":          "twitter",
	"mobile.x.com":       "twitter",

	"facebook.com":     "facebook",
	"www.facebook.com": "facebook",
	"m.facebook.com":   "facebook",
	"fb.watch":         "facebook",

	"youtube.com":     "youtube",
	"www.youtube.com": "youtube",
	"m.youtube.com":   "youtube",
	"youtu.be":        "youtube",
}

type (
	Config struct {
		// Directory containing the Netscape formatted cookie
		// files, one per platform, named '<platform>.txt'
		Dir string
	}

	// Resolver finds the authentication cookie file for a URL (if one is
	// available) and produces a private copy of it for a single download.
	// The downloader tools rewrite the cookie jar they are given, so sharing
	// the original between concurrent downloads is not safe.
	Resolver struct {
		config Config
	}
)

func New(config Config) *Resolver {
	return &Resolver{config: config}
}

// Platform returns the platform name associated with the URLs host, or
// false if the host is not recognised.
func Platform(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	platform, ok := platformHosts[strings.ToLower(u.Hostname())]
	return platform, ok
}

// Resolve copies the cookie file for the URL provided in to scopeDir and
// returns the path of the copy. If the host is not recognised, the cookie
// file does not exist, or the copy fails, then false is returned and the
// download should proceed without authentication.
func (resolver *Resolver) Resolve(rawURL string, scopeDir string) (string, bool) {
	platform, ok := Platform(rawURL)
	if !ok {
		return "", false
	}

	source := resolver.SourcePath(platform)
	if info, err := os.Stat(source); err != nil || !info.Mode().IsRegular() {
		log.Emit(logger.DEBUG, "No cookie file for platform %s at %s\n", platform, source)
		return "", false
	}

	scoped, err := copyScoped(source, scopeDir, platform)
	if err != nil {
		log.Emit(logger.WARNING, "Failed to create scoped cookie copy for %s: %v\n", platform, err)
		return "", false
	}

	log.Emit(logger.DEBUG, "Using cookies for %s (scoped copy %s)\n", platform, scoped)
	return scoped, true
}

// SourcePath returns the path the cookie file for the given
// platform is expected to be found at.
func (resolver *Resolver) SourcePath(platform string) string {
	return filepath.Join(resolver.config.Dir, platform+".txt")
}

func copyScoped(source string, scopeDir string, platform string) (string, error) {
	in, err := os.Open(source)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.CreateTemp(scopeDir, fmt.Sprintf("cookies-%s-*.txt", platform))
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	if err := os.Chmod(out.Name(), 0o600); err != nil {
		os.Remove(out.Name())
		return "", err
	}

	return out.Name(), nil
}
