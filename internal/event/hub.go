package event

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultBufferSize is the default per-subscriber channel buffer.
const DefaultBufferSize = 64

// Hub fans organization-scoped events out to in-process subscribers (operator streams).
type Hub struct {
	mu      sync.RWMutex
	streams map[string]map[string]chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		streams: map[string]map[string]chan Event{},
	}
}

// Publish delivers ev to the organization's subscribers without blocking; a full subscriber misses it.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	if h == nil {
		return nil
	}
	orgID := strings.TrimSpace(ev.OrganizationID)
	if orgID == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.streams[orgID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribe registers a stream for organizationID and returns its id, channel and cancel func.
func (h *Hub) Subscribe(organizationID string, buffer int) (string, <-chan Event, func()) {
	organizationID = strings.TrimSpace(organizationID)
	if h == nil || organizationID == "" {
		ch := make(chan Event)
		close(ch)
		return "", ch, func() {}
	}
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	streamID := uuid.NewString()
	ch := make(chan Event, buffer)

	h.mu.Lock()
	streams, ok := h.streams[organizationID]
	if !ok {
		streams = map[string]chan Event{}
		h.streams[organizationID] = streams
	}
	streams[streamID] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			streams := h.streams[organizationID]
			if current, ok := streams[streamID]; ok {
				delete(streams, streamID)
				close(current)
			}
			if len(streams) == 0 {
				delete(h.streams, organizationID)
			}
		})
	}
	return streamID, ch, cancel
}
