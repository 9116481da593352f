package internal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/immich-relay/internal/event"
	"github.com/hbomb79/immich-relay/pkg/logger"
)

const (
	DEBOUNCE_DURATION  time.Duration = time.Millisecond * 500
	MAX_TIMER_DURATION time.Duration = time.Second * 2
)

type (
	broadcastHandler func(uuid.UUID) error

	broadcaster interface {
		BroadcastUploadUpdate(uuid.UUID) error
		BroadcastSweep(int) error
	}

	// activityService listens for upload events and forwards them to the
	// broadcaster. Bursts of updates for the same upload are debounced,
	// however the completion of an upload is broadcast immediately.
	activityService struct {
		*sync.Mutex
		broadcaster
		eventBus       event.EventHandler
		debounceTimers map[uuid.UUID]*time.Timer
		maxTimers      map[uuid.UUID]*time.Timer
		debounceTime   time.Duration
		maxTime        time.Duration
	}
)

func newActivityService(broadcaster broadcaster, event event.EventHandler) *activityService {
	return &activityService{
		Mutex:          &sync.Mutex{},
		broadcaster:    broadcaster,
		eventBus:       event,
		debounceTimers: make(map[uuid.UUID]*time.Timer),
		maxTimers:      make(map[uuid.UUID]*time.Timer),
		debounceTime:   DEBOUNCE_DURATION,
		maxTime:        MAX_TIMER_DURATION,
	}
}

func (service *activityService) Run(ctx context.Context) error {
	messageChan := make(chan event.HandlerEvent, 100)
	service.eventBus.RegisterHandlerChannel(messageChan, event.UPLOAD_UPDATE, event.UPLOAD_COMPLETE, event.SWEEP_COMPLETE)

	log.Emit(logger.NEW, "Activity service started\n")
	for {
		select {
		case ev := <-messageChan:
			if err := service.handleEvent(ev); err != nil {
				log.Emit(logger.ERROR, "Handling of event %v failed: %v\n", ev, err)
			}
		case <-ctx.Done():
			service.stopTimers()
			log.Emit(logger.STOP, "Activity service closed\n")
			return nil
		}
	}
}

func (service *activityService) handleEvent(ev event.HandlerEvent) error {
	switch ev.Event {
	case event.SWEEP_COMPLETE:
		removed, ok := ev.Payload.(int)
		if !ok {
			return errors.New("illegal payload (expected int)")
		}

		return service.BroadcastSweep(removed)
	case event.UPLOAD_UPDATE, event.UPLOAD_COMPLETE:
		uploadID, ok := ev.Payload.(uuid.UUID)
		if !ok {
			return errors.New("illegal payload (expected UUID)")
		}

		if ev.Event == event.UPLOAD_COMPLETE {
			service.broadcast(uploadID, service.BroadcastUploadUpdate)
			return nil
		}

		service.scheduleEventBroadcast(uploadID, service.BroadcastUploadUpdate)
		return nil
	default:
		return errors.New("unknown event type")
	}
}

func (service *activityService) scheduleEventBroadcast(id uuid.UUID, handler broadcastHandler) {
	service.Lock()
	defer service.Unlock()

	broadcaster := func() { service.broadcast(id, handler) }

	// Cancel and re-set a debounce timer
	if t, ok := service.debounceTimers[id]; ok {
		t.Stop()
	}
	service.debounceTimers[id] = time.AfterFunc(service.debounceTime, broadcaster)

	// Set a max timer if not already set
	if _, ok := service.maxTimers[id]; !ok {
		service.maxTimers[id] = time.AfterFunc(service.maxTime, broadcaster)
	}
}

// broadcast clears any pending timers for the upload and then calls the
// handler. The handler is called without the lock held.
func (service *activityService) broadcast(id uuid.UUID, handler broadcastHandler) {
	service.Lock()
	service.clearTimers(id)
	service.Unlock()

	if err := handler(id); err != nil {
		log.Emit(logger.WARNING, "Broadcast for upload %s failed: %v\n", id, err)
	}
}

func (service *activityService) clearTimers(id uuid.UUID) {
	if t, ok := service.debounceTimers[id]; ok {
		t.Stop()
		delete(service.debounceTimers, id)
	}

	if t, ok := service.maxTimers[id]; ok {
		t.Stop()
		delete(service.maxTimers, id)
	}
}

func (service *activityService) stopTimers() {
	service.Lock()
	defer service.Unlock()

	for id := range service.debounceTimers {
		service.clearTimers(id)
	}
	for id := range service.maxTimers {
		service.clearTimers(id)
	}
}
