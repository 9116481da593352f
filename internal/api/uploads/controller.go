package uploads

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hbomb79/immich-relay/internal/acquire"
	"github.com/hbomb79/immich-relay/internal/api/gen"
	"github.com/hbomb79/immich-relay/internal/immich"
	"github.com/hbomb79/immich-relay/internal/upload"
	"github.com/hbomb79/immich-relay/pkg/logger"
	"github.com/labstack/echo/v4"
)

const (
	// Form field carrying a directly uploaded file
	FileField = "image"

	// Name given to uploaded files which arrive without one
	defaultFilename = "image.jpg"

	msgDownloadFailed = "Could not download media from the provided URL. Please check if the URL is valid and accessible."
)

type (
	// UploadRequest is bound from either a multipart form or a JSON body. The
	// API key may alternatively be given via the x-api-key header.
	UploadRequest struct {
		APIKey string `form:"apiKey" json:"apiKey" validate:"omitempty,max=1024"`
		URL    string `form:"url" json:"url" validate:"omitempty,max=8192"`
	}

	Service interface {
		Upload(ctx context.Context, req upload.Request) (*upload.Response, error)
		Status(id uuid.UUID) (upload.Status, bool)
		Statuses() []upload.Status
	}

	// Controller defines the routes used to relay media to Immich,
	// and to inspect the status of recent uploads.
	Controller struct {
		service  Service
		validate *validator.Validate
	}
)

var controllerLogger = logger.Get("UploadsController")

var downloadTitles = map[acquire.Kind]string{
	acquire.TOOL_FAILED:        "Download failed",
	acquire.FORMAT_UNAVAILABLE: "No downloadable media",
	acquire.AUTH_REQUIRED:      "Authentication required",
	acquire.UNSUPPORTED_URL:    "Unsupported URL",
	acquire.TOOL_UNAVAILABLE:   "Downloader unavailable",
	acquire.TOOL_TIMEOUT:       "Download timed out",
	acquire.NO_FILES_PRODUCED:  "No media found",
}

func New(validate *validator.Validate, service Service) *Controller {
	return &Controller{service: service, validate: validate}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/upload/", controller.upload)
	eg.GET("/uploads/", controller.list)
	eg.GET("/uploads/:id/", controller.get)
}

func (controller *Controller) upload(ec echo.Context) error {
	var request UploadRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %s", err.Error()))
	}

	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %s", err.Error()))
	}

	apiKey := request.APIKey
	if apiKey == "" {
		apiKey = ec.Request().Header.Get("x-api-key")
	}

	file, closeFile, err := formFile(ec)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid file: %s", err.Error()))
	}
	defer closeFile()

	resp, err := controller.service.Upload(ec.Request().Context(), upload.Request{File: file, URL: request.URL, APIKey: apiKey})
	if err != nil {
		return toAPIError(err)
	}

	return ec.JSON(http.StatusOK, resp)
}

func (controller *Controller) list(ec echo.Context) error {
	return ec.JSON(http.StatusOK, controller.service.Statuses())
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Upload ID is not a valid UUID")
	}

	status, ok := controller.service.Status(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Upload with ID %s does not exist", id))
	}

	return ec.JSON(http.StatusOK, status)
}

// formFile returns the file uploaded under FileField, or nil if the request
// did not include one. The returned close func is always safe to call.
func formFile(ec echo.Context) (*upload.File, func(), error) {
	noop := func() {}

	header, err := ec.FormFile(FileField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, noop, nil
		}

		return nil, noop, err
	}

	f, err := header.Open()
	if err != nil {
		return nil, noop, err
	}

	return newFile(header, f), func() { f.Close() }, nil
}

func newFile(header *multipart.FileHeader, f multipart.File) *upload.File {
	filename := header.Filename
	if filename == "" {
		filename = defaultFilename
	}

	return &upload.File{
		Filename:    filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Content:     f,
	}
}

// toAPIError converts an error returned by the upload service in to
// the APIError describing it to the user.
func toAPIError(err error) gen.APIError {
	var inputErr *upload.InputError
	if errors.As(err, &inputErr) {
		return gen.APIError{Status: http.StatusBadRequest, Title: inputErr.Message}
	}

	var configErr *upload.ConfigError
	if errors.As(err, &configErr) {
		return gen.APIError{Status: http.StatusInternalServerError, Title: configErr.Message}
	}

	var downloadErr *acquire.DownloadError
	if errors.As(err, &downloadErr) {
		title, ok := downloadTitles[downloadErr.Kind]
		if !ok {
			title = downloadTitles[acquire.TOOL_FAILED]
		}

		details := downloadErr.Output
		if details == "" {
			details = downloadErr.Reason
		}

		return gen.APIError{
			Status:          http.StatusBadRequest,
			Title:           title,
			Message:         msgDownloadFailed,
			Details:         details,
			Suggestion:      downloadErr.Suggestion(),
			InternalMessage: downloadErr.Error(),
		}
	}

	var relayErr *immich.RelayError
	if errors.As(err, &relayErr) {
		return gen.APIError{Status: relayErr.Status, Title: "Immich server error", Details: relayErr.Body}
	}

	if errors.Is(err, immich.ErrUnreachable) {
		return gen.APIError{Status: http.StatusServiceUnavailable, Title: "Cannot connect to Immich server", InternalMessage: err.Error()}
	}

	if errors.Is(err, immich.ErrTimeout) {
		return gen.APIError{Status: http.StatusGatewayTimeout, Title: "Immich server timed out", InternalMessage: err.Error()}
	}

	controllerLogger.Emit(logger.ERROR, "Unclassified upload failure: %v\n", err)
	return gen.APIError{Status: http.StatusInternalServerError, Title: "Internal server error", Message: err.Error()}
}
