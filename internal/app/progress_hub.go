package app

import (
	"sync"
	"time"

	"github.com/yourusername/hqmx-go/internal/domain"
)

// ProgressEvent is one live update about a queued download
type ProgressEvent struct {
	DownloadID string                `json:"download_id"`
	Status     domain.DownloadStatus `json:"status"`
	Progress   *domain.Progress      `json:"progress,omitempty"`
	Error      string                `json:"error,omitempty"`
	Timestamp  time.Time             `json:"timestamp"`
}

// subscriberBuffer is how many events a slow subscriber may lag before events are dropped
const subscriberBuffer = 64

type subscriber struct {
	downloadID string // empty = all downloads
	ch         chan ProgressEvent
}

// ProgressHub fans download events out to live subscribers such as websocket clients
type ProgressHub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewProgressHub creates a new progress hub
func NewProgressHub() *ProgressHub {
	return &ProgressHub{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a channel of events for one download, or for all when
// downloadID is empty. The returned function unsubscribes and closes the channel.
func (h *ProgressHub) Subscribe(downloadID string) (<-chan ProgressEvent, func()) {
	sub := &subscriber{downloadID: downloadID, ch: make(chan ProgressEvent, subscriberBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.ch)
			}
		})
	}
}

// Publish delivers an event without blocking; subscribers that are full miss it
func (h *ProgressHub) Publish(event ProgressEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.downloadID != "" && sub.downloadID != event.DownloadID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Subscribers returns the number of open subscriptions
func (h *ProgressHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription
func (h *ProgressHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		close(sub.ch)
	}
	h.subs = make(map[*subscriber]struct{})
	h.closed = true
}
