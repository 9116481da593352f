package acquire_test

import (
	"strings"
	"testing"

	"github.com/hbomb79/immich-relay/internal/acquire"
	"github.com/stretchr/testify/assert"
)

func Test_Classify(t *testing.T) {
	tests := []struct {
		summary  string
		output   string
		expected acquire.Kind
	}{
		{"instagram image post", "ERROR: [Instagram] C1a2b3: No video formats found!", acquire.FORMAT_UNAVAILABLE},
		{"requested format", "ERROR: [generic] x: Requested format is not available. Use --list-formats", acquire.FORMAT_UNAVAILABLE},
		{"instagram no video", "ERROR: [Instagram] abc: There is no video in this post", acquire.FORMAT_UNAVAILABLE},
		{"twitter no video", "ERROR: [twitter] 123: No video could be found in this tweet", acquire.FORMAT_UNAVAILABLE},
		{"rate limit", "ERROR: [Instagram] abc: Requested content is not available, rate-limit reached or login required. Use --cookies", acquire.AUTH_REQUIRED},
		{"bot check", "ERROR: [youtube] abc: Sign in to confirm you're not a bot", acquire.AUTH_REQUIRED},
		{"private", "ERROR: [TikTok] 1: This is a private video", acquire.AUTH_REQUIRED},
		{"unsupported", "ERROR: Unsupported URL: https://example.com/", acquire.UNSUPPORTED_URL},
		{"gallery-dl unsupported", "[gallery-dl][error] No suitable extractor found for 'https://example.com'", acquire.UNSUPPORTED_URL},
		{"generic failure", "ERROR: unable to download video data: HTTP Error 500", acquire.TOOL_FAILED},
		{"empty output", "", acquire.TOOL_FAILED},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			assert.Equal(t, tt.expected, acquire.Classify(tt.output))
		})
	}
}

func Test_DownloadError_Suggestions(t *testing.T) {
	kinds := []acquire.Kind{
		acquire.TOOL_FAILED, acquire.FORMAT_UNAVAILABLE, acquire.AUTH_REQUIRED, acquire.UNSUPPORTED_URL,
		acquire.TOOL_UNAVAILABLE, acquire.TOOL_TIMEOUT, acquire.NO_FILES_PRODUCED,
	}

	for _, kind := range kinds {
		err := &acquire.DownloadError{Kind: kind, Reason: "x"}
		assert.NotEmpty(t, err.Suggestion(), "kind %s has no suggestion", kind)
		assert.NotEmpty(t, kind.Label())
		assert.False(t, strings.HasPrefix(kind.String(), "UNKNOWN"), "kind %d has no name", kind)
	}

	assert.Contains(t, (&acquire.DownloadError{Kind: acquire.AUTH_REQUIRED}).Suggestion(), "cookie")
	assert.Contains(t, (&acquire.DownloadError{Kind: acquire.FORMAT_UNAVAILABLE}).Suggestion(), "carousel")
}
