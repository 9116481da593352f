package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/hbomb79/immich-relay/internal/acquire"
	"github.com/hbomb79/immich-relay/internal/event"
	"github.com/hbomb79/immich-relay/internal/immich"
	"github.com/hbomb79/immich-relay/internal/media"
	"github.com/hbomb79/immich-relay/pkg/logger"
)

var log = logger.Get("UploadServ")

const (
	msgFileUploaded = "Image uploaded successfully to Immich"
	msgURLUploaded  = "Media downloaded and uploaded successfully to Immich"
	msgCarousel     = "Carousel downloaded: %d of %d files uploaded successfully to Immich"

	// Enough of the file for content sniffing, see mimetype.SetLimit
	sniffLength = 3072
)

type (
	acquirer interface {
		Acquire(ctx context.Context, rawURL string) (*acquire.Acquisition, error)
	}

	relay interface {
		Upload(ctx context.Context, asset immich.Asset, apiKey string, baseURL string) (json.RawMessage, error)
		UploadFiles(ctx context.Context, files []immich.File, apiKey string, baseURL string) []immich.Outcome
	}

	Recorder interface {
		RecordUpload(source string, outcome string)
	}

	Config struct {
		ImmichURL       string
		TrackerCapacity int
	}

	// File is a file supplied directly with an upload request.
	File struct {
		Filename    string
		ContentType string
		Size        int64
		Content     io.Reader
	}

	Request struct {
		File   *File
		URL    string
		APIKey string
	}

	Response struct {
		Success        bool            `json:"success"`
		Message        string          `json:"message"`
		Source         Source          `json:"source"`
		ImmichResponse json.RawMessage `json:"immichResponse,omitempty"`
		*Carousel
	}

	Carousel struct {
		TotalFiles        int              `json:"totalFiles"`
		SuccessfulUploads int              `json:"successfulUploads"`
		Results           []CarouselResult `json:"results"`
		Errors            []CarouselError  `json:"errors"`
	}

	CarouselResult struct {
		Filename       string          `json:"filename"`
		Success        bool            `json:"success"`
		ImmichResponse json.RawMessage `json:"immichResponse,omitempty"`
		Error          string          `json:"error,omitempty"`
	}

	CarouselError struct {
		Filename string          `json:"filename"`
		Error    string          `json:"error"`
		Status   int             `json:"status,omitempty"`
		Details  json.RawMessage `json:"details,omitempty"`
	}

	// Service sequences an upload request: deciding between the supplied file
	// and URL, acquiring media for URLs, relaying the result to Immich and
	// assembling the response. Progress is tracked in memory and published
	// on the event bus.
	Service struct {
		config   Config
		acquirer acquirer
		relay    relay
		eventBus event.EventDispatcher
		metrics  Recorder
		uploads  *tracker
	}
)

func New(config Config, acquirer acquirer, relay relay, eventBus event.EventDispatcher, metrics Recorder) *Service {
	if metrics == nil {
		metrics = noopRecorder{}
	}

	return &Service{
		config:   config,
		acquirer: acquirer,
		relay:    relay,
		eventBus: eventBus,
		metrics:  metrics,
		uploads:  newTracker(config.TrackerCapacity),
	}
}

// Upload handles a single upload request, returning the response to
// send back to the requester.
//
// Errors returned are one of *InputError, *ConfigError, *acquire.DownloadError,
// *immich.RelayError, immich.ErrUnreachable, immich.ErrTimeout, or an
// unclassified internal error.
func (service *Service) Upload(ctx context.Context, req Request) (*Response, error) {
	// Once started, an upload runs to completion even if the requester goes away.
	ctx = context.WithoutCancel(ctx)

	if strings.TrimSpace(req.APIKey) == "" {
		return nil, &InputError{Message: MsgMissingAPIKey}
	}

	rawURL := strings.TrimSpace(req.URL)
	if req.File == nil && rawURL == "" {
		return nil, &InputError{Message: MsgMissingInput}
	}

	if strings.TrimSpace(service.config.ImmichURL) == "" {
		return nil, &ConfigError{Message: MsgNotConfigured}
	}

	if req.File == nil {
		return service.uploadFromURL(ctx, rawURL, req.APIKey)
	}

	if rawURL != "" {
		log.Emit(logger.WARNING, "Request supplied both a file (%s) and a URL (%s); the file takes precedence\n", req.File.Filename, rawURL)
	}

	content, contentType, sharedURL, err := inspectFile(req.File)
	if err != nil {
		return nil, err
	}
	if sharedURL != "" {
		log.Emit(logger.INFO, "File %s contains shared URL %s, downloading it instead\n", req.File.Filename, sharedURL)
		return service.uploadFromURL(ctx, sharedURL, req.APIKey)
	}

	return service.uploadFile(ctx, req.File.Filename, contentType, content, req.APIKey)
}

// Status returns the tracked status of the upload with the ID provided.
func (service *Service) Status(id uuid.UUID) (Status, bool) { return service.uploads.get(id) }

// Statuses returns the status of all recently tracked uploads, newest first.
func (service *Service) Statuses() []Status { return service.uploads.all() }

func (service *Service) uploadFile(ctx context.Context, filename string, contentType string, content io.Reader, apiKey string) (*Response, error) {
	id := service.uploads.begin(SourceFile, "", filename)
	service.advance(id, RELAYING, func(s *Status) { s.TotalFiles = 1 })

	asset := immich.Asset{Filename: filename, ContentType: contentType, Content: content}
	resp, err := service.relay.Upload(ctx, asset, apiKey, service.config.ImmichURL)
	if err != nil {
		service.fail(id, SourceFile, err)
		return nil, err
	}

	service.complete(id, SourceFile, 1)
	return &Response{Success: true, Message: msgFileUploaded, Source: SourceFile, ImmichResponse: resp}, nil
}

func (service *Service) uploadFromURL(ctx context.Context, rawURL string, apiKey string) (*Response, error) {
	id := service.uploads.begin(SourceURL, rawURL, "")
	service.advance(id, DOWNLOADING, nil)

	acq, err := service.acquirer.Acquire(ctx, rawURL)
	if err != nil {
		service.fail(id, SourceURL, err)
		return nil, err
	}
	defer acq.Release()

	files := make([]immich.File, 0, len(acq.Assets))
	for _, asset := range acq.Assets {
		files = append(files, immich.File{Path: asset.Path, Filename: asset.Filename})
	}

	source := SourceURL
	if acq.IsCarousel() {
		source = SourceURLCarousel
	}
	service.advance(id, RELAYING, func(s *Status) {
		s.Source = source
		s.Tool = acq.Tool
		s.TotalFiles = len(files)
	})

	outcomes := service.relay.UploadFiles(ctx, files, apiKey, service.config.ImmichURL)
	if len(outcomes) != len(files) {
		err := fmt.Errorf("relay returned %d outcomes for %d files", len(outcomes), len(files))
		service.fail(id, source, err)
		return nil, err
	}

	successful := immich.Successful(outcomes)
	if successful == 0 {
		// Nothing was uploaded; surface the first failure as
		// though this were a single upload.
		service.fail(id, source, outcomes[0].Err)
		return nil, outcomes[0].Err
	}

	service.complete(id, source, successful)
	if !acq.IsCarousel() {
		return &Response{Success: true, Message: msgURLUploaded, Source: SourceURL, ImmichResponse: outcomes[0].Response}, nil
	}

	return &Response{
		Success:  true,
		Message:  fmt.Sprintf(msgCarousel, successful, len(outcomes)),
		Source:   SourceURLCarousel,
		Carousel: newCarousel(outcomes),
	}, nil
}

func newCarousel(outcomes []immich.Outcome) *Carousel {
	carousel := &Carousel{
		TotalFiles:        len(outcomes),
		SuccessfulUploads: immich.Successful(outcomes),
		Results:           make([]CarouselResult, 0, len(outcomes)),
		Errors:            make([]CarouselError, 0),
	}

	for _, o := range outcomes {
		if o.Success {
			carousel.Results = append(carousel.Results, CarouselResult{Filename: o.Filename, Success: true, ImmichResponse: o.Response})
			continue
		}

		carousel.Results = append(carousel.Results, CarouselResult{Filename: o.Filename, Error: o.Err.Error()})
		carouselErr := CarouselError{Filename: o.Filename, Error: o.Err.Error()}
		var relayErr *immich.RelayError
		if errors.As(o.Err, &relayErr) {
			carouselErr.Status = relayErr.Status
			carouselErr.Details = relayErr.Body
		}
		carousel.Errors = append(carousel.Errors, carouselErr)
	}

	return carousel
}

// inspectFile reads a directly supplied file, determining its content type. If
// the file is a small piece of text containing a URL, the URL is returned and
// the content should be ignored. Otherwise, the returned reader yields the
// full content of the file.
func inspectFile(file *File) (io.Reader, string, string, error) {
	head := make([]byte, sniffLength)
	n, err := io.ReadFull(file.Content, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", "", fmt.Errorf("failed to read uploaded file %s: %w", file.Filename, err)
	}
	head = head[:n]

	contentType := media.ContentTypeForBytes(file.Filename, file.ContentType, head)
	content := io.MultiReader(bytes.NewReader(head), file.Content)

	size := file.Size
	if size <= 0 && n < sniffLength {
		size = int64(n)
	}
	if size > 0 && size <= MaxSharedTextSize && int64(n) == size && media.IsTextual(file.Filename, contentType) {
		if sharedURL, ok := URLFromSharedText(string(head)); ok {
			return nil, "", sharedURL, nil
		}
	}

	return content, contentType, "", nil
}

func (service *Service) advance(id uuid.UUID, stage Stage, fn func(*Status)) {
	service.uploads.update(id, func(s *Status) {
		s.Stage = stage
		if fn != nil {
			fn(s)
		}
	})
	service.dispatch(event.UPLOAD_UPDATE, id)
}

func (service *Service) complete(id uuid.UUID, source Source, successful int) {
	service.uploads.update(id, func(s *Status) {
		s.Stage = COMPLETE
		s.SuccessfulUploads = successful
	})
	service.metrics.RecordUpload(string(source), "success")
	service.dispatch(event.UPLOAD_COMPLETE, id)
}

func (service *Service) fail(id uuid.UUID, source Source, err error) {
	log.Emit(logger.ERROR, "Upload %s (%s) failed: %v\n", id, source, err)
	service.uploads.update(id, func(s *Status) {
		s.Stage = FAILED
		s.Error = err.Error()
	})
	service.metrics.RecordUpload(string(source), "failure")
	service.dispatch(event.UPLOAD_COMPLETE, id)
}

func (service *Service) dispatch(ev event.Event, id uuid.UUID) {
	if service.eventBus != nil {
		service.eventBus.Dispatch(ev, id)
	}
}

type noopRecorder struct{}

func (noopRecorder) RecordUpload(string, string) {}
