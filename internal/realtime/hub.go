// Package realtime delivers appraisal status changes to waiting clients.
package realtime

import (
	"sync"

	"github.com/stwalsh4118/peritaje/internal/logger"
	"github.com/stwalsh4118/peritaje/internal/models"
)

const subscriptionBuffer = 8

// Hub fans status events out to the subscribers of each appraisal id.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
	log  *logger.Logger
}

// Subscription receives the events of one appraisal until closed.
type Subscription struct {
	id     string
	events chan models.StatusEvent
	hub    *Hub
	once   sync.Once
}

// NewHub creates an empty Hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		subs: make(map[string]map[*Subscription]struct{}),
		log:  log.WithComponent("realtime.hub"),
	}
}

// Subscribe registers interest in one appraisal id.
func (h *Hub) Subscribe(id string) *Subscription {
	s := &Subscription{
		id:     id,
		events: make(chan models.StatusEvent, subscriptionBuffer),
		hub:    h,
	}

	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[*Subscription]struct{})
	}
	h.subs[id][s] = struct{}{}
	h.mu.Unlock()

	return s
}

// Publish delivers ev to every subscriber of ev.ID without blocking.
// Subscribers whose buffer is full miss the event; watchers also poll.
func (h *Hub) Publish(ev models.StatusEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[ev.ID] {
		select {
		case s.events <- ev:
		default:
			h.log.Warn("Subscriber buffer full, event dropped", map[string]interface{}{
				"appraisal_id": ev.ID,
				"status":       string(ev.Status),
			})
		}
	}
}

// Subscribers returns the number of open subscriptions for id.
func (h *Hub) Subscribers(id string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[id])
}

// Events returns the receive channel. It is closed by Close.
func (s *Subscription) Events() <-chan models.StatusEvent {
	return s.events
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		delete(h.subs[s.id], s)
		if len(h.subs[s.id]) == 0 {
			delete(h.subs, s.id)
		}
		h.mu.Unlock()
		close(s.events)
	})
}
