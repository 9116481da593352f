package acquire

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternTableVersion is bumped whenever troublePatterns changes, as the
// table tracks the wording of specific yt-dlp and gallery-dl releases.
const PatternTableVersion = 3

const maxReasonLength = 500

type (
	Kind int

	// DownloadError is returned by the acquisition service when all
	// download paths have been exhausted. The Kind determines how
	// the failure is reported to the user.
	DownloadError struct {
		Kind   Kind
		Tool   string
		Reason string
		Output string
		cause  error
	}

	troublePattern struct {
		kind    Kind
		matcher *regexp.Regexp
	}
)

const (
	TOOL_FAILED Kind = iota
	FORMAT_UNAVAILABLE
	AUTH_REQUIRED
	UNSUPPORTED_URL
	TOOL_UNAVAILABLE
	TOOL_TIMEOUT
	NO_FILES_PRODUCED
)

// troublePatterns is evaluated in order; the first match decides the kind.
// Anything unmatched is TOOL_FAILED.
var troublePatterns = []troublePattern{
	{FORMAT_UNAVAILABLE, regexp.MustCompile(`(?i)no video formats found`)},
	{FORMAT_UNAVAILABLE, regexp.MustCompile(`(?i)requested format is not available`)},
	{FORMAT_UNAVAILABLE, regexp.MustCompile(`(?i)there is no video in this post`)},
	{FORMAT_UNAVAILABLE, regexp.MustCompile(`(?i)no video could be found in this tweet`)},
	{FORMAT_UNAVAILABLE, regexp.MustCompile(`(?i)this post does not contain (?:a )?video`)},

	{AUTH_REQUIRED, regexp.MustCompile(`(?i)login required`)},
	{AUTH_REQUIRED, regexp.MustCompile(`(?i)sign in to confirm`)},
	{AUTH_REQUIRED, regexp.MustCompile(`(?i)not a bot`)},
	{AUTH_REQUIRED, regexp.MustCompile(`(?i)use --cookies`)},
	{AUTH_REQUIRED, regexp.MustCompile(`(?i)checkpoint required`)},
	{AUTH_REQUIRED, regexp.MustCompile(`(?i)private (?:video|account|post)`)},
	{AUTH_REQUIRED, regexp.MustCompile(`(?i)HTTP Error 401`)},

	{UNSUPPORTED_URL, regexp.MustCompile(`(?i)unsupported url`)},
	{UNSUPPORTED_URL, regexp.MustCompile(`(?i)is not a valid url`)},
	{UNSUPPORTED_URL, regexp.MustCompile(`(?i)no suitable extractor found`)},
}

var suggestions = map[Kind]string{
	TOOL_FAILED:        "Check that the URL is valid and the post is publicly accessible.",
	FORMAT_UNAVAILABLE: "This post may not contain a video (for example an image or carousel post). Check that the post contains media and that gallery-dl is installed for image downloads.",
	AUTH_REQUIRED:      "The platform requires authentication for this content. Add a cookie file for this platform (e.g. instagram.txt) to the cookie directory.",
	UNSUPPORTED_URL:    "Check that the URL points to a single post on a supported platform.",
	TOOL_UNAVAILABLE:   "Ensure yt-dlp and gallery-dl are installed and available on the server.",
	TOOL_TIMEOUT:       "The download took too long to complete. Try again later.",
	NO_FILES_PRODUCED:  "The post may have been deleted or contain no downloadable media.",
}

// Classify inspects the diagnostic output of a downloader tool
// and returns the kind of failure it describes.
func Classify(output string) Kind {
	for _, pattern := range troublePatterns {
		if pattern.matcher.MatchString(output) {
			return pattern.kind
		}
	}

	return TOOL_FAILED
}

func newToolError(tool string, kind Kind, output string) *DownloadError {
	return &DownloadError{Kind: kind, Tool: tool, Reason: summarizeOutput(output), Output: output}
}

func (err *DownloadError) Error() string {
	if err.Tool != "" {
		return fmt.Sprintf("download failed (%s via %s): %s", err.Kind, err.Tool, err.Reason)
	}

	return fmt.Sprintf("download failed (%s): %s", err.Kind, err.Reason)
}

func (err *DownloadError) Unwrap() error { return err.cause }

// Suggestion returns a human readable hint for resolving the failure.
func (err *DownloadError) Suggestion() string { return suggestions[err.Kind] }

// summarizeOutput picks the most relevant line from a tools output;
// the last line reporting an ERROR, or the last non-empty line otherwise.
func summarizeOutput(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	reason := ""
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if reason == "" {
			reason = line
		}
		if strings.Contains(line, "ERROR") || strings.Contains(line, "[error]") {
			reason = line
			break
		}
	}

	if reason == "" {
		return "no diagnostic output"
	}
	if len(reason) > maxReasonLength {
		return reason[:maxReasonLength] + "..."
	}

	return reason
}

func (k Kind) String() string {
	switch k {
	case TOOL_FAILED:
		return fmt.Sprintf("TOOL_FAILED[%d]", k)
	case FORMAT_UNAVAILABLE:
		return fmt.Sprintf("FORMAT_UNAVAILABLE[%d]", k)
	case AUTH_REQUIRED:
		return fmt.Sprintf("AUTH_REQUIRED[%d]", k)
	case UNSUPPORTED_URL:
		return fmt.Sprintf("UNSUPPORTED_URL[%d]", k)
	case TOOL_UNAVAILABLE:
		return fmt.Sprintf("TOOL_UNAVAILABLE[%d]", k)
	case TOOL_TIMEOUT:
		return fmt.Sprintf("TOOL_TIMEOUT[%d]", k)
	case NO_FILES_PRODUCED:
		return fmt.Sprintf("NO_FILES_PRODUCED[%d]", k)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", k)
	}
}

// Label returns a stable lower-case name for the kind, suitable for
// metric labels and response bodies.
func (k Kind) Label() string {
	switch k {
	case FORMAT_UNAVAILABLE:
		return "format_unavailable"
	case AUTH_REQUIRED:
		return "auth_required"
	case UNSUPPORTED_URL:
		return "unsupported_url"
	case TOOL_UNAVAILABLE:
		return "tool_unavailable"
	case TOOL_TIMEOUT:
		return "tool_timeout"
	case NO_FILES_PRODUCED:
		return "no_files_produced"
	default:
		return "tool_failed"
	}
}
