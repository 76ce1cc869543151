// Package events fans pipeline progress out to live subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event kinds.
const (
	KindRunStarted    = "run_started"
	KindStageStarted  = "stage_started"
	KindStageRetry    = "stage_retry"
	KindStageFinished = "stage_finished"
	KindStageFailed   = "stage_failed"
	KindRunFinished   = "run_finished"
	KindRunFailed     = "run_failed"
)

// Event is one progress notification.
type Event struct {
	RunID   string    `json:"run_id"`
	Kind    string    `json:"kind"`
	Stage   string    `json:"stage,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(Event)
}

// Hub broadcasts to every subscriber. A subscriber that falls behind loses
// events instead of stalling the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	buffer  int
	dropped atomic.Uint64
}

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[chan Event]struct{}), buffer: buffer}
}

// Publish delivers e to all current subscribers.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a listener. The returned cancel func unregisters it
// and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts events lost to slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}
