package redirect_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/hbomb79/immich-relay/internal/redirect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type route struct {
	status   int
	location string
}

// fakeTransport answers requests from a fixed routing table, allowing
// redirect chains to be described without a network.
type fakeTransport struct {
	sync.Mutex
	routes   map[string][]route
	requests []string
}

func (tr *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tr.Lock()
	defer tr.Unlock()

	key := req.URL.String()
	tr.requests = append(tr.requests, key)

	responses, ok := tr.routes[key]
	if !ok || len(responses) == 0 {
		return nil, errors.New("connection refused")
	}

	// Each route may answer differently on subsequent requests
	r := responses[0]
	if len(responses) > 1 {
		tr.routes[key] = responses[1:]
	}

	resp := &http.Response{
		StatusCode: r.status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    req,
	}
	if r.location != "" {
		resp.Header.Set("Location", r.location)
	}

	return resp, nil
}

func newResolver(routes map[string][]route) (*redirect.Resolver, *fakeTransport) {
	transport := &fakeTransport{routes: routes}
	return redirect.New(redirect.Config{}, transport), transport
}

func Test_Resolve_DirectMediaPatternNeedsNoNetwork(t *testing.T) {
	resolver, transport := newResolver(map[string][]route{})
	media := "https://i.redd.it/abc123.jpg"
	input := "https://www.reddit.com/media?url=" + url.QueryEscape(media)

	resolved := resolver.Resolve(context.Background(), input)
	assert.Equal(t, media, resolved)
	assert.Empty(t, transport.requests)

	// Resolving the resolved output should be stable
	assert.Equal(t, resolved, resolver.Resolve(context.Background(), resolved))
}

func Test_Resolve_IdempotentOnExtraction(t *testing.T) {
	resolver, _ := newResolver(map[string][]route{})
	inputs := []string{
		"https://reddit.com/media?url=https%3A%2F%2Fi.redd.it%2Fa.png",
		"https://old.reddit.com/media/?url=https%3A%2F%2Fpreview.redd.it%2Fb.gif%3Fwidth%3D640",
		"https://www.instagram.com/p/abc/",
		"https://example.com/video.mp4",
		"https://www.reddit.com/media?url=" + url.QueryEscape("https://www.reddit.com/media?url="+url.QueryEscape("https://i.redd.it/x.jpg")),
	}

	for _, input := range inputs {
		once := resolver.Resolve(context.Background(), input)
		assert.Equal(t, once, resolver.Resolve(context.Background(), once), "resolve(resolve(u)) != resolve(u) for %s", input)
	}
}

func Test_Resolve_ShareLinkTwoHops(t *testing.T) {
	media := "https://i.redd.it/direct.jpg"
	canonical := "https://www.reddit.com/r/x/comments/123/title/"
	mediaRedirect := "https://www.reddit.com/media?url=" + url.QueryEscape(media)

	resolver, transport := newResolver(map[string][]route{
		"https://reddit.com/r/x/s/abc": {{status: http.StatusFound, location: canonical}},
		canonical: {
			{status: http.StatusOK},
			{status: http.StatusFound, location: mediaRedirect},
		},
		mediaRedirect: {{status: http.StatusOK}},
	})

	resolved := resolver.Resolve(context.Background(), "https://reddit.com/r/x/s/abc")
	assert.Equal(t, media, resolved)
	assert.Equal(t, []string{"https://reddit.com/r/x/s/abc", canonical, canonical, mediaRedirect}, transport.requests)
}

func Test_Resolve_ShareLinkSingleHopToMedia(t *testing.T) {
	media := "https://i.redd.it/single.png"
	mediaRedirect := "https://www.reddit.com/media?url=" + url.QueryEscape(media)
	resolver, _ := newResolver(map[string][]route{
		"https://www.reddit.com/r/pics/s/xyz": {{status: http.StatusMovedPermanently, location: mediaRedirect}},
		mediaRedirect:                         {{status: http.StatusOK}},
	})

	assert.Equal(t, media, resolver.Resolve(context.Background(), "https://www.reddit.com/r/pics/s/xyz"))
}

func Test_Resolve_FallsBackToLastResolvedURL(t *testing.T) {
	canonical := "https://www.reddit.com/r/x/comments/999/post/"
	resolver, _ := newResolver(map[string][]route{
		"https://reddit.com/r/x/s/fail": {{status: http.StatusFound, location: canonical}},
		canonical:                       {{status: http.StatusOK}, {status: http.StatusInternalServerError}},
	})

	resolved := resolver.Resolve(context.Background(), "https://reddit.com/r/x/s/fail")
	assert.Equal(t, canonical, resolved)
}

func Test_Resolve_CanonicalWithoutMediaReturned(t *testing.T) {
	canonical := "https://www.reddit.com/r/x/comments/42/text_post/"
	resolver, transport := newResolver(map[string][]route{
		"https://reddit.com/r/x/s/text": {{status: http.StatusFound, location: canonical}},
		canonical:                       {{status: http.StatusOK}},
	})

	assert.Equal(t, canonical, resolver.Resolve(context.Background(), "https://reddit.com/r/x/s/text"))
	assert.Len(t, transport.requests, 3, "expected the canonical post to be requested a second time")
}

func Test_Resolve_FallsBackToOriginalURL(t *testing.T) {
	resolver, _ := newResolver(map[string][]route{})

	input := "https://reddit.com/r/x/s/unreachable"
	assert.Equal(t, input, resolver.Resolve(context.Background(), input))
}

func Test_Resolve_ErrorStatusIsFailure(t *testing.T) {
	resolver, _ := newResolver(map[string][]route{
		"https://redd.it/abc": {{status: http.StatusNotFound}},
	})

	assert.Equal(t, "https://redd.it/abc", resolver.Resolve(context.Background(), "https://redd.it/abc"))
}

func Test_Resolve_UnwrapsNestedMediaRedirects(t *testing.T) {
	resolver, transport := newResolver(map[string][]route{})
	inner := "https://www.reddit.com/media?url=" + url.QueryEscape("https://i.redd.it/x.jpg")
	input := "https://www.reddit.com/media?url=" + url.QueryEscape(inner)

	assert.Equal(t, "https://i.redd.it/x.jpg", resolver.Resolve(context.Background(), input))
	assert.Empty(t, transport.requests)
}

func Test_Resolve_ErrorStatusAfterRedirectKeepsReachedURL(t *testing.T) {
	canonical := "https://www.reddit.com/r/x/comments/777/blocked/"
	resolver, _ := newResolver(map[string][]route{
		"https://reddit.com/r/x/s/blocked": {{status: http.StatusFound, location: canonical}},
		canonical:                          {{status: http.StatusForbidden}},
	})

	assert.Equal(t, canonical, resolver.Resolve(context.Background(), "https://reddit.com/r/x/s/blocked"))
}

func Test_Resolve_UnrelatedURLUnchanged(t *testing.T) {
	resolver, transport := newResolver(map[string][]route{})
	for _, input := range []string{"https://www.tiktok.com/@u/video/1", "not a url at all", "https://reddit.com/r/x/comments/1/"} {
		assert.Equal(t, input, resolver.Resolve(context.Background(), input))
	}
	assert.Empty(t, transport.requests)
}

func Test_ExtractMediaURL_RejectsNonHTTP(t *testing.T) {
	u, err := url.Parse("https://reddit.com/media?url=" + url.QueryEscape("javascript:alert(1)"))
	require.NoError(t, err)

	_, ok := redirect.ExtractMediaURL(u)
	assert.False(t, ok)
}
