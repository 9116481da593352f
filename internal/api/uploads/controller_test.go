package uploads_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hbomb79/immich-relay/internal/acquire"
	"github.com/hbomb79/immich-relay/internal/api/gen"
	"github.com/hbomb79/immich-relay/internal/api/uploads"
	"github.com/hbomb79/immich-relay/internal/immich"
	"github.com/hbomb79/immich-relay/internal/upload"
	"github.com/hbomb79/immich-relay/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type mockService struct{ mock.Mock }

func (m *mockService) Upload(_ context.Context, req upload.Request) (*upload.Response, error) {
	var content []byte
	if req.File != nil {
		content, _ = io.ReadAll(req.File.Content)
		req.File.Content = nil
	}

	args := m.Called(req, content)
	resp, _ := args.Get(0).(*upload.Response)
	return resp, args.Error(1)
}

func (m *mockService) Status(id uuid.UUID) (upload.Status, bool) {
	args := m.Called(id)
	return args.Get(0).(upload.Status), args.Bool(1)
}

func (m *mockService) Statuses() []upload.Status {
	return m.Called().Get(0).([]upload.Status)
}

func newServer(service uploads.Service) *echo.Echo {
	ec := echo.New()
	ec.HTTPErrorHandler = gen.GetHTTPErrorHandler(ec.DefaultHTTPErrorHandler)
	uploads.New(validator.New(), service).SetRoutes(ec.Group(""))

	return ec
}

type form struct {
	fields   map[string]string
	filename string
	content  []byte
}

func (f form) request(t *testing.T) *http.Request {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range f.fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if f.filename != "" {
		part, err := writer.CreateFormFile(uploads.FileField, f.filename)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload/", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func serve(ec *echo.Echo, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	rec := httptest.NewRecorder()
	ec.ServeHTTP(rec, req)

	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func Test_Upload_PassesFormToService(t *testing.T) {
	service := &mockService{}
	service.On("Upload", mock.MatchedBy(func(req upload.Request) bool {
		return req.APIKey == "key" && req.URL == "https://example.com/p/1" &&
			req.File != nil && req.File.Filename == "photo.heic" && req.File.Size == 5
	}), []byte("hello")).Return(&upload.Response{Success: true, Message: "ok", Source: upload.SourceFile, ImmichResponse: json.RawMessage(`{"id":"x"}`)}, nil)

	rec, body := serve(newServer(service), form{
		fields:   map[string]string{"apiKey": "key", "url": "https://example.com/p/1"},
		filename: "photo.heic",
		content:  []byte("hello"),
	}.request(t))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "file_upload", body["source"])
	assert.Equal(t, map[string]any{"id": "x"}, body["immichResponse"])
	service.AssertExpectations(t)
}

func Test_Upload_APIKeyFromHeader(t *testing.T) {
	service := &mockService{}
	service.On("Upload", mock.MatchedBy(func(req upload.Request) bool {
		return req.APIKey == "header-key" && req.File == nil && req.URL == "https://example.com/v"
	}), []byte(nil)).Return(&upload.Response{Success: true}, nil)

	req := form{fields: map[string]string{"url": "https://example.com/v"}}.request(t)
	req.Header.Set("x-api-key", "header-key")
	rec, _ := serve(newServer(service), req)

	assert.Equal(t, http.StatusOK, rec.Code)
	service.AssertExpectations(t)
}

func Test_Upload_AcceptsJSONBody(t *testing.T) {
	service := &mockService{}
	service.On("Upload", mock.MatchedBy(func(req upload.Request) bool {
		return req.APIKey == "key" && req.URL == "https://example.com/v" && req.File == nil
	}), []byte(nil)).Return(&upload.Response{Success: true}, nil)

	req := httptest.NewRequest(http.MethodPost, "/upload/", strings.NewReader(`{"apiKey":"key","url":"https://example.com/v"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec, _ := serve(newServer(service), req)

	assert.Equal(t, http.StatusOK, rec.Code)
	service.AssertExpectations(t)
}

func Test_Upload_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   map[string]any
	}{
		{
			name:   "missing input",
			err:    &upload.InputError{Message: upload.MsgMissingInput},
			status: http.StatusBadRequest,
			body:   map[string]any{"error": "Either image file or URL is required"},
		},
		{
			name:   "missing api key",
			err:    &upload.InputError{Message: upload.MsgMissingAPIKey},
			status: http.StatusBadRequest,
			body:   map[string]any{"error": "API key is required"},
		},
		{
			name:   "not configured",
			err:    &upload.ConfigError{Message: upload.MsgNotConfigured},
			status: http.StatusInternalServerError,
			body:   map[string]any{"error": "Immich server URL not configured"},
		},
		{
			name:   "unreachable",
			err:    fmt.Errorf("%w: dial tcp: connection refused", immich.ErrUnreachable),
			status: http.StatusServiceUnavailable,
			body:   map[string]any{"error": "Cannot connect to Immich server"},
		},
		{
			name:   "timeout",
			err:    fmt.Errorf("%w: context deadline exceeded", immich.ErrTimeout),
			status: http.StatusGatewayTimeout,
			body:   map[string]any{"error": "Immich server timed out"},
		},
		{
			name:   "rejected",
			err:    &immich.RelayError{Status: http.StatusUnauthorized, Body: json.RawMessage(`{"message":"Invalid API key"}`)},
			status: http.StatusUnauthorized,
			body:   map[string]any{"error": "Immich server error", "details": map[string]any{"message": "Invalid API key"}},
		},
		{
			name:   "internal",
			err:    fmt.Errorf("disk full"),
			status: http.StatusInternalServerError,
			body:   map[string]any{"error": "Internal server error", "message": "disk full"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			service := &mockService{}
			service.On("Upload", mock.Anything, mock.Anything).Return(nil, test.err)

			rec, body := serve(newServer(service), form{fields: map[string]string{"apiKey": "key", "url": "https://example.com/v"}}.request(t))
			assert.Equal(t, test.status, rec.Code)
			assert.Equal(t, test.body, body)
		})
	}
}

func Test_Upload_DownloadErrorIncludesDiagnostics(t *testing.T) {
	service := &mockService{}
	service.On("Upload", mock.Anything, mock.Anything).Return(nil, &acquire.DownloadError{
		Kind:   acquire.AUTH_REQUIRED,
		Tool:   "yt-dlp",
		Reason: "ERROR: login required",
		Output: "[instagram] abc: Downloading\nERROR: login required",
	})

	rec, body := serve(newServer(service), form{fields: map[string]string{"apiKey": "key", "url": "https://instagram.com/p/abc"}}.request(t))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Authentication required", body["error"])
	assert.NotEmpty(t, body["message"])
	assert.Equal(t, "[instagram] abc: Downloading\nERROR: login required", body["details"])
	assert.Contains(t, body["suggestion"], "cookie")
}

func Test_Upload_RejectsOversizedFields(t *testing.T) {
	service := &mockService{}
	rec, body := serve(newServer(service), form{fields: map[string]string{"apiKey": strings.Repeat("k", 2000)}}.request(t))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "Invalid body")
	service.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
}

func Test_Statuses(t *testing.T) {
	id := uuid.New()
	service := &mockService{}
	service.On("Statuses").Return([]upload.Status{{ID: id, Stage: upload.COMPLETE, Source: upload.SourceURL}})
	service.On("Status", id).Return(upload.Status{ID: id, Stage: upload.COMPLETE}, true)
	service.On("Status", mock.Anything).Return(upload.Status{}, false)
	ec := newServer(service)

	rec := httptest.NewRecorder()
	ec.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, id.String(), list[0]["id"])

	rec, body := serve(ec, httptest.NewRequest(http.MethodGet, "/uploads/"+id.String()+"/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "COMPLETE", body["stage"])

	rec, _ = serve(ec, httptest.NewRequest(http.MethodGet, "/uploads/"+uuid.NewString()+"/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = serve(ec, httptest.NewRequest(http.MethodGet, "/uploads/not-a-uuid/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Upload ID is not a valid UUID", body["error"])
}
