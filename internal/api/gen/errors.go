package gen

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hbomb79/immich-relay/pkg/logger"
	"github.com/labstack/echo/v4"
)

type APIError struct {
	// Short human readable title for the failure
	Title string `json:"error"`

	// Longer explanation of the failure, if any
	Message string `json:"message,omitempty"`

	// Diagnostic detail, such as downloader output or the
	// Immich servers response body
	Details any `json:"details,omitempty"`

	// Hint for how the user may resolve the failure
	Suggestion string `json:"suggestion,omitempty"`

	// Used to alter the HTTP response status in accordance with the error
	Status int `json:"-"`

	// Additional message for internal logging only. Will not be included in the message
	// sent to the user.
	InternalMessage string `json:"-"`
}

// Error satisifies the Go error interface and simply exposes the
// title and message contained by this APIError.
func (err APIError) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("api error: %s", err.Title)
	}

	return fmt.Sprintf("api error: %s: %s", err.Title, err.Message)
}

// GetHTTPErrorHandler returns an echo HTTP error handler
// which understands how to interpret APIError. If an error is
// provided which is not recognized, it will be passed off to the
// fallback HTTP handler provided.
func GetHTTPErrorHandler(fallbackHandler echo.HTTPErrorHandler) echo.HTTPErrorHandler {
	log := logger.Get("API")
	return func(err error, ctx echo.Context) {
		var apiErr APIError
		if ok := errors.As(err, &apiErr); ok {
			if apiErr.Status == 0 {
				apiErr.Status = http.StatusInternalServerError
			}
			if len(apiErr.Title) == 0 {
				apiErr.Title = http.StatusText(apiErr.Status)
			}
			if len(apiErr.InternalMessage) > 0 {
				log.Emit(logger.ERROR, "Request failure, internal error: %s\n", apiErr.InternalMessage)
			}

			if ctx.Response().Committed {
				return
			}
			if err := ctx.JSON(apiErr.Status, apiErr); err == nil {
				return
			}
		}

		var httpErr *echo.HTTPError
		if ok := errors.As(err, &httpErr); ok && !ctx.Response().Committed {
			// echo's own errors (404s, body limits) use the same shape
			title := http.StatusText(httpErr.Code)
			if msg, ok := httpErr.Message.(string); ok && msg != "" {
				title = msg
			}
			if err := ctx.JSON(httpErr.Code, APIError{Title: title}); err == nil {
				return
			}
		}

		log.Emit(logger.WARNING,
			"%s request to %s caused error response, however the response does not satisfy the APIError interface. Falling back to default HTTP error handling\n",
			ctx.Request().Method, ctx.Request().RequestURI,
		)
		fallbackHandler(err, ctx)
	}
}
