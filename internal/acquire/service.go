package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/hbomb79/immich-relay/pkg/logger"
)

var log = logger.Get("AcquireServ")

const (
	primaryFormat          = "best[height<=1080]/best[height<=720]/best"
	primaryOutputTemplate  = "%(title).150B.%(ext)s"
	secondaryFilenameStyle = "{num:>03}_{filename}.{extension}"
)

var (
	ErrInvalidURL = errors.New("url must be an absolute http(s) URL")

	storiesURL = regexp.MustCompile(`(?i)^https?://(?:www\.)?instagram\.com/stories/`)
)

type (
	urlResolver interface {
		Resolve(ctx context.Context, rawURL string) string
	}

	cookieResolver interface {
		Resolve(rawURL string, scopeDir string) (string, bool)
	}

	Recorder interface {
		RecordToolInvocation(tool string, outcome string, duration time.Duration)
		RecordAcquisition(outcome string)
	}

	// Config controls where the acquisition service
	// stages downloaded media.
	Config struct {
		WorkDir string
	}

	// Service is responsible for turning a URL in to one or more
	// files on disk, using external downloader tools:
	// - The URL is resolved through any share-link redirects
	// - A scoped cookie file is prepared, if the platform has one
	// - The primary (video) downloader is attempted
	// - If the post has no video, the secondary (gallery) downloader is attempted
	// - The produced files are returned in filename order
	Service struct {
		config    Config
		primary   Tool
		secondary Tool
		redirects urlResolver
		cookies   cookieResolver
		metrics   Recorder
	}
)

// New creates the acquisition service. The configs WorkDir is created
// if missing; if it points to an existing FILE an error is returned.
func New(config Config, primary Tool, secondary Tool, redirects urlResolver, cookies cookieResolver, metrics Recorder) (*Service, error) {
	if info, err := os.Stat(config.WorkDir); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("work path '%s' is not a directory", config.WorkDir)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(config.WorkDir, 0o700); err != nil {
			return nil, fmt.Errorf("work path '%s' could not be created: %w", config.WorkDir, err)
		}
	} else {
		return nil, fmt.Errorf("work path '%s' could not be accessed: %w", config.WorkDir, err)
	}

	if metrics == nil {
		metrics = noopRecorder{}
	}

	return &Service{
		config:    config,
		primary:   primary,
		secondary: secondary,
		redirects: redirects,
		cookies:   cookies,
		metrics:   metrics,
	}, nil
}

// Acquire downloads the media referenced by the URL provided. On success the
// returned Acquisition owns the downloaded files and the caller MUST call
// Release once finished with them. On failure, the error is a *DownloadError
// describing the failure of the primary tool (unless a workspace could not be
// created) and no cleanup is required.
func (service *Service) Acquire(ctx context.Context, rawURL string) (*Acquisition, error) {
	if err := ValidateURL(rawURL); err != nil {
		service.metrics.RecordAcquisition(UNSUPPORTED_URL.Label())
		return nil, &DownloadError{Kind: UNSUPPORTED_URL, Reason: err.Error(), cause: err}
	}

	if storiesURL.MatchString(rawURL) {
		log.Emit(logger.WARNING, "URL %s is a stories URL; these are unreliable and may produce multiple results\n", rawURL)
	}

	effectiveURL := service.redirects.Resolve(ctx, rawURL)
	if effectiveURL != rawURL {
		log.Emit(logger.INFO, "Resolved %s -> %s\n", rawURL, effectiveURL)
	}

	ws, err := newWorkspace(service.config.WorkDir)
	if err != nil {
		service.metrics.RecordAcquisition("error")
		return nil, err
	}

	acquired := false
	defer func() {
		if !acquired {
			ws.release()
		}
	}()

	cookiePath, _ := service.cookies.Resolve(effectiveURL, ws.root)
	toolName, err := service.download(ctx, effectiveURL, ws, cookiePath)
	if err != nil {
		service.recordFailure(err)
		return nil, err
	}

	assets, err := ws.collect()
	if err != nil {
		service.metrics.RecordAcquisition("error")
		return nil, err
	}
	if len(assets) == 0 {
		service.metrics.RecordAcquisition(NO_FILES_PRODUCED.Label())
		return nil, &DownloadError{Kind: NO_FILES_PRODUCED, Tool: toolName, Reason: "no files produced"}
	}

	acquired = true
	service.metrics.RecordAcquisition("success")
	log.Emit(logger.SUCCESS, "Acquired %d file(s) from %s using %s\n", len(assets), effectiveURL, toolName)

	return &Acquisition{
		Result:       Result{Assets: assets, Dir: ws.mediaDir},
		SourceURL:    rawURL,
		EffectiveURL: effectiveURL,
		Tool:         toolName,
		root:         ws.root,
	}, nil
}

// download attempts the primary tool, and falls back to the secondary tool
// if (and only if) the primary reports that no suitable video format exists.
// The name of the tool which succeeded is returned.
func (service *Service) download(ctx context.Context, targetURL string, ws *workspace, cookiePath string) (string, error) {
	primaryErr := service.run(ctx, service.primary, primaryArgs(targetURL, ws.mediaDir, cookiePath))
	if primaryErr == nil {
		return service.primary.Name(), nil
	}

	var dlErr *DownloadError
	if !errors.As(primaryErr, &dlErr) || dlErr.Kind != FORMAT_UNAVAILABLE {
		return "", primaryErr
	}

	log.Emit(logger.INFO, "%s found no video for %s, falling back to %s\n", service.primary.Name(), targetURL, service.secondary.Name())
	if err := ws.resetMedia(); err != nil {
		return "", fmt.Errorf("failed to reset media dir before fallback: %w", err)
	}

	if err := service.run(ctx, service.secondary, secondaryArgs(targetURL, ws.mediaDir, cookiePath)); err != nil {
		log.Emit(logger.WARNING, "Fallback to %s failed for %s: %v\n", service.secondary.Name(), targetURL, err)
		return "", primaryErr
	}

	return service.secondary.Name(), nil
}

// run invokes the tool and converts any failure in to a *DownloadError.
// Context cancellation is returned as-is.
func (service *Service) run(ctx context.Context, tool Tool, args []string) error {
	start := time.Now()
	inv, err := tool.Invoke(ctx, args)
	duration := time.Since(start)

	if err != nil {
		switch {
		case errors.Is(err, ErrToolTimeout):
			service.metrics.RecordToolInvocation(tool.Name(), TOOL_TIMEOUT.Label(), duration)
			return &DownloadError{Kind: TOOL_TIMEOUT, Tool: tool.Name(), Reason: err.Error(), Output: inv.Stderr, cause: err}
		case errors.Is(err, ErrToolUnavailable):
			service.metrics.RecordToolInvocation(tool.Name(), TOOL_UNAVAILABLE.Label(), duration)
			return &DownloadError{Kind: TOOL_UNAVAILABLE, Tool: tool.Name(), Reason: err.Error(), cause: err}
		default:
			service.metrics.RecordToolInvocation(tool.Name(), "cancelled", duration)
			return err
		}
	}

	if inv.ExitCode != 0 {
		kind := Classify(inv.Stderr)
		service.metrics.RecordToolInvocation(tool.Name(), kind.Label(), duration)
		log.Emit(logger.DEBUG, "%s exited with code %d (%s)\n", tool.Name(), inv.ExitCode, kind)
		return newToolError(tool.Name(), kind, inv.Stderr)
	}

	service.metrics.RecordToolInvocation(tool.Name(), "success", duration)
	return nil
}

func (service *Service) recordFailure(err error) {
	var dlErr *DownloadError
	if errors.As(err, &dlErr) {
		service.metrics.RecordAcquisition(dlErr.Kind.Label())
		return
	}

	service.metrics.RecordAcquisition("error")
}

// ValidateURL ensures the URL is an absolute http(s) URL.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidURL, err.Error())
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}

	return nil
}

func primaryArgs(targetURL string, mediaDir string, cookiePath string) []string {
	args := []string{
		targetURL,
		"--format", primaryFormat,
		"--no-playlist",
		"--output", filepath.Join(mediaDir, primaryOutputTemplate),
	}
	if cookiePath != "" {
		args = append(args, "--cookies", cookiePath)
	}

	return args
}

func secondaryArgs(targetURL string, mediaDir string, cookiePath string) []string {
	args := []string{
		"--directory", mediaDir,
		"--filename", secondaryFilenameStyle,
	}
	if cookiePath != "" {
		args = append(args, "--cookies", cookiePath)
	}

	return append(args, targetURL)
}

type noopRecorder struct{}

func (noopRecorder) RecordToolInvocation(string, string, time.Duration) {}
func (noopRecorder) RecordAcquisition(string)                           {}
