package immich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/hbomb79/immich-relay/pkg/logger"
)

var log = logger.Get("ImmichRelay")

const (
	uploadPath        = "/api/assets"
	assetField        = "assetData"
	apiKeyHeader      = "x-api-key"
	maxResponseLength = 1 << 20

	DefaultTimeout     = 30 * time.Second
	DefaultAssetPrefix = "ios-shortcut"
	DefaultDeviceID    = "ios-shortcut-device"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

type (
	Recorder interface {
		RecordRelay(outcome string, duration time.Duration)
	}

	Config struct {
		DeviceID    string
		AssetPrefix string
		Timeout     time.Duration
	}

	// Asset is a single piece of media to be relayed. Content is
	// consumed by the upload.
	Asset struct {
		Filename    string
		ContentType string
		Content     io.Reader
	}

	// Client uploads assets to an Immich server's asset ingest API. The
	// destination and API key are supplied per call, as both originate
	// from the request being relayed.
	Client struct {
		config  Config
		http    *http.Client
		metrics Recorder
		now     func() time.Time
	}
)

func New(config Config, transport http.RoundTripper, metrics Recorder) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.DeviceID == "" {
		config.DeviceID = DefaultDeviceID
	}
	if config.AssetPrefix == "" {
		config.AssetPrefix = DefaultAssetPrefix
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}

	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout, Transport: transport},
		metrics: metrics,
		now:     time.Now,
	}
}

// Upload relays the asset to the Immich server at baseURL, authenticating
// with the API key provided. The JSON response from Immich is returned.
//
// Errors returned will be one of:
//   - ErrNotConfigured, if no baseURL is provided
//   - *RelayError, if Immich responds with a non-2xx status
//   - ErrUnreachable, if the connection is refused or the host cannot be resolved
//   - ErrTimeout, if Immich does not respond within the configured timeout
func (client *Client) Upload(ctx context.Context, asset Asset, apiKey string, baseURL string) (json.RawMessage, error) {
	return client.upload(ctx, asset, apiKey, baseURL, 0)
}

func (client *Client) upload(ctx context.Context, asset Asset, apiKey string, baseURL string, index int) (json.RawMessage, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrNotConfigured
	}

	ids := newIdentifiers(client.config.AssetPrefix, client.config.DeviceID, index, client.now())
	endpoint := strings.TrimRight(baseURL, "/") + uploadPath

	body, contentType := client.streamPayload(asset, ids)
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, apiKey)

	log.Emit(logger.DEBUG, "Uploading %s (%s) to %s as %s\n", asset.Filename, asset.ContentType, endpoint, ids.DeviceAssetID)
	start := time.Now()
	resp, err := client.http.Do(req)
	if err != nil {
		relayErr := classifyTransportError(err)
		client.recordFailure(relayErr, time.Since(start))
		return nil, relayErr
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLength))
	if err != nil {
		relayErr := classifyTransportError(err)
		client.recordFailure(relayErr, time.Since(start))
		return nil, relayErr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Emit(logger.WARNING, "Immich rejected %s with status %d\n", asset.Filename, resp.StatusCode)
		client.metrics.RecordRelay("rejected", time.Since(start))
		return nil, &RelayError{Status: resp.StatusCode, Body: normalizeBody(respBody)}
	}

	client.metrics.RecordRelay("success", time.Since(start))
	log.Emit(logger.SUCCESS, "Uploaded %s to Immich\n", asset.Filename)
	return normalizeBody(respBody), nil
}

// streamPayload writes the multipart payload through a pipe, so that
// large videos are never held in memory in their entirety.
func (client *Client) streamPayload(asset Asset, ids Identifiers) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writePayload(writer, asset, ids))
	}()

	return pr, writer.FormDataContentType()
}

func writePayload(writer *multipart.Writer, asset Asset, ids Identifiers) error {
	for _, field := range ids.fields() {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, assetField, quoteEscaper.Replace(asset.Filename)))
	header.Set("Content-Type", asset.ContentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return err
	}

	if _, err := io.Copy(part, asset.Content); err != nil {
		return fmt.Errorf("failed to stream asset content: %w", err)
	}

	return writer.Close()
}

func (client *Client) recordFailure(err error, duration time.Duration) {
	switch {
	case errors.Is(err, ErrTimeout):
		client.metrics.RecordRelay("timeout", duration)
	case errors.Is(err, ErrUnreachable):
		client.metrics.RecordRelay("unreachable", duration)
	default:
		client.metrics.RecordRelay("error", duration)
	}
}

type noopRecorder struct{}

func (noopRecorder) RecordRelay(string, time.Duration) {}
