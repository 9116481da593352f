package upload

import (
	"regexp"
	"strings"

	"github.com/hbomb79/immich-relay/internal/acquire"
)

// MaxSharedTextSize is the largest textual "file" which will be inspected
// for a URL. iOS share sheets frequently hand over a URL as a tiny text
// file rather than as a form field.
const MaxSharedTextSize = 2 * 1024

var (
	collapsedScheme = regexp.MustCompile(`(?i)^(https?):/+`)
	embeddedURL     = regexp.MustCompile(`(?i)https?://[^\s"'<>]+`)
)

// URLFromSharedText attempts to recover an absolute http(s) URL from the
// text provided. Separators mangled by the sharing platform (escaped
// slashes, a collapsed scheme separator) are repaired, and surrounding
// quotes and whitespace are removed. If the text as a whole is not a URL,
// the first URL embedded within it is used.
func URLFromSharedText(text string) (string, bool) {
	candidate := strings.TrimSpace(text)
	candidate = strings.Trim(candidate, "\"'`")
	candidate = strings.ReplaceAll(candidate, `\/`, "/")
	candidate = strings.TrimSpace(candidate)
	candidate = collapsedScheme.ReplaceAllString(candidate, "$1://")

	if acquire.ValidateURL(candidate) == nil && !strings.ContainsAny(candidate, " \t\r\n") {
		return candidate, true
	}

	if match := embeddedURL.FindString(candidate); match != "" {
		match = strings.TrimRight(match, ".,;)")
		if acquire.ValidateURL(match) == nil {
			return match, true
		}
	}

	return "", false
}
