// Package events fans sync lifecycle notifications out to live
// subscribers, mainly the websocket stream endpoint.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	TypeSyncCompleted     = "sync.completed"
	TypeSyncFailed        = "sync.failed"
	TypeConflictDetected  = "conflict.detected"
	TypeConflictResolved  = "conflict.resolved"
	TypeBreakerOpened     = "breaker.opened"
	TypeBreakerClosed     = "breaker.closed"
	TypeQueueItemFailed   = "queue.item_failed"
	TypeScheduleConflict  = "schedule.conflict"
	TypeReconcileFinished = "reconciliation.finished"
)

type Event struct {
	Type       string    `json:"type"`
	EntityType string    `json:"entity_type,omitempty"`
	NotionID   string    `json:"notion_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64

	dropped uint64
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   map[uint64]chan Event{},
		logger: logger,
	}
}

// Subscribe returns a buffered channel of future events plus the id to
// hand back to Unsubscribe.
func (h *Hub) Subscribe(buf int) (uint64, <-chan Event) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *Hub) Unsubscribe(id uint64) {
	if h == nil {
		return
	}
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
			// Drop when subscriber is slow; the hub must not block.
			atomic.AddUint64(&h.dropped, 1)
		}
	}
}

func (h *Hub) Dropped() uint64 {
	if h == nil {
		return 0
	}
	return atomic.LoadUint64(&h.dropped)
}

func (h *Hub) SubscriberCount() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
