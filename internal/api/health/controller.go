package health

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

type (
	Response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}

	Controller struct {
		now func() time.Time
	}
)

func New() *Controller {
	return &Controller{now: time.Now}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.get)
}

// get reports liveness only; downstream dependencies are not checked.
func (controller *Controller) get(ec echo.Context) error {
	return ec.JSON(http.StatusOK, Response{
		Status:    "healthy",
		Timestamp: controller.now().UTC().Format(timestampLayout),
	})
}
