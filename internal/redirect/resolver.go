package redirect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hbomb79/immich-relay/pkg/logger"
)

var log = logger.Get("RedirectResolver")

const (
	defaultTimeout  = 10 * time.Second
	defaultMaxHops  = 10
	userAgent       = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148"
	maxDrainedBytes = 64 * 1024
)

var (
	redditHost = regexp.MustCompile(`^(?:www\.|old\.|new\.|m\.)?reddit\.com$`)

	// shareLinkPatterns match the mobile share links which must be
	// followed over the network before the media can be located.
	shareLinkPatterns = []shareLinkPattern{
		{host: redditHost, path: regexp.MustCompile(`^/r/[^/]+/s/[^/]+/?$`)},
		{host: regexp.MustCompile(`^redd\.it$`), path: regexp.MustCompile(`^/[A-Za-z0-9]+/?$`)},
	}

	canonicalPostPath = regexp.MustCompile(`^/r/[^/]+/comments/[^/]+`)

	errTooManyRedirects = errors.New("too many redirects")
)

type (
	shareLinkPattern struct {
		host *regexp.Regexp
		path *regexp.Regexp
	}

	Config struct {
		// Timeout is applied to each resolution request.
		Timeout time.Duration

		// MaxHops bounds the number of redirects followed by a single request.
		MaxHops int
	}

	// Resolver turns the indirect links produced by platform 'share'
	// buttons in to stable, directly downloadable media URLs. Resolution
	// is best-effort: Resolve never fails, it instead returns the most
	// resolved URL it managed to reach.
	Resolver struct {
		client *http.Client
	}
)

// New constructs a resolver using the provided transport (nil uses
// http.DefaultTransport).
func New(config Config, transport http.RoundTripper) *Resolver {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxHops <= 0 {
		config.MaxHops = defaultMaxHops
	}

	maxHops := config.MaxHops
	return &Resolver{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxHops {
					return errTooManyRedirects
				}
				return nil
			},
		},
	}
}

// Resolve returns the effective URL for the URL given.
func (resolver *Resolver) Resolve(ctx context.Context, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	if direct, ok := unwrapMediaURL(u); ok {
		log.Emit(logger.DEBUG, "Extracted direct media URL %s from %s\n", direct, rawURL)
		return direct
	}

	if !IsShareLink(u) {
		return rawURL
	}

	best := rawURL
	final, err := resolver.follow(ctx, rawURL)
	if err != nil {
		log.Emit(logger.WARNING, "Failed to resolve share link %s: %v\n", rawURL, err)
		return best
	}

	best = final.String()
	if direct, ok := unwrapMediaURL(final); ok {
		log.Emit(logger.SUCCESS, "Resolved share link %s to media %s\n", rawURL, direct)
		return direct
	}

	if !isCanonicalPost(final) {
		return best
	}

	// Some share links only reveal the media redirect when the canonical
	// post is requested a second time.
	second, err := resolver.follow(ctx, best)
	if err != nil {
		log.Emit(logger.WARNING, "Second resolution of %s failed: %v\n", best, err)
		return best
	}

	if direct, ok := unwrapMediaURL(second); ok {
		log.Emit(logger.SUCCESS, "Resolved share link %s to media %s (two hops)\n", rawURL, direct)
		return direct
	}

	return second.String()
}

// ExtractMediaURL returns the embedded media URL if the URL provided
// is a direct-media redirect (e.g. reddit.com/media?url=...).
func ExtractMediaURL(u *url.URL) (string, bool) {
	if !redditHost.MatchString(strings.ToLower(u.Hostname())) || strings.TrimSuffix(u.Path, "/") != "/media" {
		return "", false
	}

	embedded := u.Query().Get("url")
	if embedded == "" {
		return "", false
	}

	target, err := url.Parse(embedded)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return "", false
	}

	return embedded, true
}

// unwrapMediaURL applies ExtractMediaURL repeatedly, as a media redirect
// may wrap another. At most defaultMaxHops layers are removed.
func unwrapMediaURL(u *url.URL) (string, bool) {
	direct, ok := ExtractMediaURL(u)
	if !ok {
		return "", false
	}

	for i := 1; i < defaultMaxHops; i++ {
		next, err := url.Parse(direct)
		if err != nil {
			break
		}

		inner, ok := ExtractMediaURL(next)
		if !ok {
			break
		}
		direct = inner
	}

	return direct, true
}

// IsShareLink reports whether the URL is a share link which must be
// resolved over the network.
func IsShareLink(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	for _, pattern := range shareLinkPatterns {
		if pattern.host.MatchString(host) && pattern.path.MatchString(u.Path) {
			return true
		}
	}

	return false
}

func isCanonicalPost(u *url.URL) bool {
	return redditHost.MatchString(strings.ToLower(u.Hostname())) && canonicalPostPath.MatchString(u.Path)
}

// follow performs a GET against the URL provided, following redirects, and
// returns the final URL that was reached. An error status on the final page
// still counts as resolved if at least one redirect was followed.
func (resolver *Resolver) follow(ctx context.Context, target string) (*url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := resolver.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainedBytes))

	if resp.StatusCode >= http.StatusBadRequest {
		if resp.Request.URL.String() != target {
			log.Emit(logger.DEBUG, "Reached %s from %s despite status %d\n", resp.Request.URL, target, resp.StatusCode)
			return resp.Request.URL, nil
		}

		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, resp.Request.URL)
	}

	return resp.Request.URL, nil
}
