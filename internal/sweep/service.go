package sweep

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hbomb79/immich-relay/internal/acquire"
	"github.com/hbomb79/immich-relay/internal/event"
	"github.com/hbomb79/immich-relay/pkg/logger"
)

var log = logger.Get("SweepServ")

const (
	DefaultInterval = 10 * time.Minute
	DefaultMaxAge   = time.Hour
)

type (
	Recorder interface {
		RecordSweep(removed int)
	}

	Config struct {
		WorkDir  string
		Interval time.Duration
		MaxAge   time.Duration
	}

	// Service periodically removes acquisition workspaces which have outlived
	// MaxAge. Workspaces are normally released as soon as their upload
	// completes; anything left behind (for example by a crash mid-download)
	// is reaped here.
	Service struct {
		config   Config
		eventBus event.EventDispatcher
		metrics  Recorder
	}
)

// New creates the sweeper. The configs WorkDir is created if missing; if
// it points to an existing FILE an error is returned.
func New(config Config, eventBus event.EventDispatcher, metrics Recorder) (*Service, error) {
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

	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultMaxAge
	}

	return &Service{config: config, eventBus: eventBus, metrics: metrics}, nil
}

// Run sweeps the work directory immediately, and then once per configured
// interval, until the context provided is cancelled.
func (service *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(service.config.Interval)
	defer ticker.Stop()

	log.Emit(logger.NEW, "Sweeping %s every %s (max age %s)\n", service.config.WorkDir, service.config.Interval, service.config.MaxAge)
	service.Sweep()
	for {
		select {
		case <-ticker.C:
			service.Sweep()
		case <-ctx.Done():
			log.Emit(logger.STOP, "Sweep service closed\n")
			return nil
		}
	}
}

// Sweep removes every acquisition workspace in the work directory which
// was last modified longer ago than MaxAge. Other entries are left
// untouched. The number of workspaces removed is returned.
func (service *Service) Sweep() int {
	entries, err := os.ReadDir(service.config.WorkDir)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to list work directory %s: %v\n", service.config.WorkDir, err)
		return 0
	}

	cutoff := time.Now().Add(-service.config.MaxAge)
	removed := 0
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), acquire.WorkspacePrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Most likely released while we were listing
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(service.config.WorkDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Emit(logger.WARNING, "Failed to remove stale workspace %s: %v\n", path, err)
			continue
		}

		log.Emit(logger.REMOVE, "Removed stale workspace %s (last modified %s)\n", path, info.ModTime().Format(time.RFC3339))
		removed++
	}

	if removed > 0 {
		if service.metrics != nil {
			service.metrics.RecordSweep(removed)
		}
		if service.eventBus != nil {
			service.eventBus.Dispatch(event.SWEEP_COMPLETE, removed)
		}
	}

	return removed
}
