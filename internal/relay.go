package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/hbomb79/immich-relay/internal/acquire"
	"github.com/hbomb79/immich-relay/internal/api"
	"github.com/hbomb79/immich-relay/internal/cookie"
	"github.com/hbomb79/immich-relay/internal/event"
	"github.com/hbomb79/immich-relay/internal/immich"
	"github.com/hbomb79/immich-relay/internal/metrics"
	"github.com/hbomb79/immich-relay/internal/redirect"
	"github.com/hbomb79/immich-relay/internal/sweep"
	"github.com/hbomb79/immich-relay/internal/upload"
	"github.com/hbomb79/immich-relay/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	RestGateway interface {
		RunnableService
		broadcaster
	}
)

// relayImpl represents the top-level object for the server, and is responsible
// for constructing the services which make up the relay, and running
// them until the relay is stopped.
type relayImpl struct {
	eventBus        event.EventCoordinator
	activityService *activityService
	config          RelayConfig

	restGateway  RestGateway
	sweepService RunnableService
}

func New(config RelayConfig) (*relayImpl, error) {
	log.Emit(logger.DEBUG, "Bootstrapping relay services using config: %#v\n", config)
	if config.ImmichURL == "" {
		log.Emit(logger.WARNING, "IMMICH_SERVER_URL is not set; uploads will be rejected until it is configured\n")
	}

	relay := &relayImpl{
		eventBus: event.New(),
		config:   config,
	}

	m := metrics.New()
	workDir := config.getWorkDir()

	primary := acquire.NewExecTool("yt-dlp", config.Tools.YtDlpPath, config.Tools.timeout())
	secondary := acquire.NewExecTool("gallery-dl", config.Tools.GalleryDlPath, config.Tools.timeout())
	redirects := redirect.New(redirect.Config{}, nil)
	cookies := cookie.New(cookie.Config{Dir: config.CookieDir})

	acquirer, err := acquire.New(acquire.Config{WorkDir: workDir}, primary, secondary, redirects, cookies, m)
	if err != nil {
		return nil, fmt.Errorf("failed to construct acquisition service: %w", err)
	}

	immichClient := immich.New(immich.Config{DeviceID: config.DeviceID, AssetPrefix: config.AssetPrefix}, nil, m)
	uploadService := upload.New(upload.Config{ImmichURL: config.ImmichURL}, acquirer, immichClient, relay.eventBus, m)

	sweeper, err := sweep.New(sweep.Config{WorkDir: workDir, Interval: config.Sweep.interval(), MaxAge: config.Sweep.maxAge()}, relay.eventBus, m)
	if err != nil {
		return nil, fmt.Errorf("failed to construct sweep service: %w", err)
	}
	relay.sweepService = sweeper

	relay.restGateway = api.NewRestGateway(&config.RestConfig, uploadService, m.Handler())
	relay.activityService = newActivityService(relay.restGateway, relay.eventBus)

	return relay, nil
}

// Run will start the relay by bringing up all of its services.
//
// This function will not return until the relay is stopped.
// To stop the relay, the provided context must be cancelled. Errors from which
// the relay cannot recover will also cause the relay to stop.
func (relay *relayImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var crashErr error
	var crashOnce sync.Once
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		crashOnce.Do(func() { crashErr = fmt.Errorf("%s: %w", label, err) })
		cancel()
	}

	wg := &sync.WaitGroup{}
	relay.spawnAsyncService(ctx, wg, relay.activityService, "activity-service", crashHandler)
	relay.spawnAsyncService(ctx, wg, relay.sweepService, "sweep-service", crashHandler)
	relay.spawnAsyncService(ctx, wg, relay.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Relay services spawned! Forwarding uploads to %s\n", relay.config.ImmichURL)

	wg.Wait()
	return crashErr
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the relay service waitgroup is updated correctly
func (relay *relayImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
