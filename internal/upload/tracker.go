package upload

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultTrackerCapacity = 50

type (
	Stage  string
	Source string

	// Status is a point-in-time snapshot of an upload request
	// as it moves through the relay.
	Status struct {
		ID                uuid.UUID `json:"id"`
		Stage             Stage     `json:"stage"`
		Source            Source    `json:"source"`
		URL               string    `json:"url,omitempty"`
		Filename          string    `json:"filename,omitempty"`
		Tool              string    `json:"tool,omitempty"`
		TotalFiles        int       `json:"totalFiles"`
		SuccessfulUploads int       `json:"successfulUploads"`
		Error             string    `json:"error,omitempty"`
		StartedAt         time.Time `json:"startedAt"`
		UpdatedAt         time.Time `json:"updatedAt"`
	}

	// tracker retains the status of the most recent uploads, evicting
	// the oldest once capacity is reached. Nothing is persisted.
	tracker struct {
		sync.Mutex
		capacity int
		order    []uuid.UUID
		items    map[uuid.UUID]*Status
	}
)

const (
	RECEIVED    Stage = "RECEIVED"
	DOWNLOADING Stage = "DOWNLOADING"
	RELAYING    Stage = "RELAYING"
	COMPLETE    Stage = "COMPLETE"
	FAILED      Stage = "FAILED"

	SourceFile        Source = "file_upload"
	SourceURL         Source = "url_download"
	SourceURLCarousel Source = "url_download_carousel"
)

func newTracker(capacity int) *tracker {
	if capacity <= 0 {
		capacity = defaultTrackerCapacity
	}

	return &tracker{capacity: capacity, items: make(map[uuid.UUID]*Status)}
}

func (t *tracker) begin(source Source, url string, filename string) uuid.UUID {
	t.Lock()
	defer t.Unlock()

	now := time.Now()
	status := &Status{ID: uuid.New(), Stage: RECEIVED, Source: source, URL: url, Filename: filename, StartedAt: now, UpdatedAt: now}
	t.items[status.ID] = status
	t.order = append(t.order, status.ID)

	for len(t.order) > t.capacity {
		delete(t.items, t.order[0])
		t.order = t.order[1:]
	}

	return status.ID
}

func (t *tracker) update(id uuid.UUID, fn func(*Status)) {
	t.Lock()
	defer t.Unlock()

	if status, ok := t.items[id]; ok {
		fn(status)
		status.UpdatedAt = time.Now()
	}
}

func (t *tracker) get(id uuid.UUID) (Status, bool) {
	t.Lock()
	defer t.Unlock()

	if status, ok := t.items[id]; ok {
		return *status, true
	}

	return Status{}, false
}

// all returns the tracked statuses, newest first.
func (t *tracker) all() []Status {
	t.Lock()
	defer t.Unlock()

	out := make([]Status, 0, len(t.order))
	for i := len(t.order) - 1; i >= 0; i-- {
		out = append(out, *t.items[t.order[i]])
	}

	return out
}
