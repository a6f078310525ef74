// Package stream fans workflow events out to live subscribers of one
// organization (server-sent event clients).
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"lexflow.io/internal/notify"
)

const bufferSize = 16

type subscriber struct {
	orgID string
	ch    chan notify.Event
}

// Hub delivers published events to the subscribers of the event's
// organization. Slow subscribers miss events instead of blocking publishers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Int64
}

func New() *Hub {
	return &Hub{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for orgID. The channel is closed when ctx
// ends.
func (h *Hub) Subscribe(ctx context.Context, orgID string) <-chan notify.Event {
	ch := make(chan notify.Event, bufferSize)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{orgID: orgID, ch: ch}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish implements notify.Publisher. Events without an organization are
// never delivered.
func (h *Hub) Publish(_ context.Context, evt notify.Event) error {
	if evt.OrgID == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.orgID != evt.OrgID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers reports how many subscribers are attached.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
