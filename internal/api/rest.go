package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/immich-relay/internal/api/gen"
	"github.com/hbomb79/immich-relay/internal/api/health"
	"github.com/hbomb79/immich-relay/internal/api/uploads"
	"github.com/hbomb79/immich-relay/internal/http/websocket"
	"github.com/hbomb79/immich-relay/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr      string `yaml:"host_address" env:"HOST_ADDR" env-default:"0.0.0.0"`
		Port          int    `yaml:"port" env:"PORT" env-default:"3000"`
		MaxUploadSize string `yaml:"max_upload_size" env:"MAX_UPLOAD_SIZE" env-default:"50M"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// UploadService is the union of the upload operations and status
	// lookups the gateway exposes.
	UploadService interface {
		uploads.Service
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. It's sole responsbility
	// is to create the routes the relay exposes, and to manage ongoing web socket connections
	// and events.
	RestGateway struct {
		*broadcaster
		config           *RestConfig
		ec               *echo.Echo
		socket           *websocket.SocketHub
		uploadController controller
		healthController controller
	}
)

// Address returns the host:port the gateway listens on.
func (config *RestConfig) Address() string {
	return fmt.Sprintf("%s:%d", config.HostAddr, config.Port)
}

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers. The metrics handler provided
// is exposed as-is on /metrics.
func NewRestGateway(config *RestConfig, uploadService UploadService, metricsHandler http.Handler) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true
	ec.HTTPErrorHandler = gen.GetHTTPErrorHandler(ec.DefaultHTTPErrorHandler)

	validate := validator.New()
	socket := websocket.New()
	gateway := &RestGateway{
		broadcaster:      newBroadcaster(socket, uploadService),
		config:           config,
		ec:               ec,
		socket:           socket,
		uploadController: uploads.New(validate, uploadService),
		healthController: health.New(),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	if config.MaxUploadSize != "" {
		ec.Use(middleware.BodyLimit(config.MaxUploadSize))
	}
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	if metricsHandler != nil {
		ec.GET("/metrics/", echo.WrapHandler(metricsHandler))
	}

	gateway.uploadController.SetRoutes(ec.Group(""))
	gateway.healthController.SetRoutes(ec.Group("/health"))

	return gateway
}

// ServeHTTP allows the gateway to be used directly as an http.Handler.
func (gateway *RestGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gateway.ec.ServeHTTP(w, r)
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Emit(logger.INFO, "Listening on %s\n", gateway.config.Address())
		if err := gateway.ec.Start(gateway.config.Address()); err != nil && err != http.ErrServerClosed {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
