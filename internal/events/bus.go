// Package events is the narrow publish/subscribe channel between the sync
// core and its observers (the local API, the UI process). Subscribers get
// immutable event values, never shared mutable state.
package events

import (
	"sync"
	"time"
)

type Type string

const (
	ConnectivityOnline  Type = "connectivity.online"
	ConnectivityOffline Type = "connectivity.offline"
	SyncCompleted       Type = "sync.completed"
)

type Event struct {
	Type       Type      `json:"type"`
	TractorID  string    `json:"tractor_id,omitempty"`
	Synced     int       `json:"synced,omitempty"`
	Remaining  int       `json:"remaining,omitempty"`
	AllCleared bool      `json:"all_cleared,omitempty"`
	HoursUsed  float64   `json:"hours_used,omitempty"`
	At         time.Time `json:"at"`
}

type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	buffer int
}

func NewBus() *Bus {
	return &Bus{
		subs:   map[int]chan Event{},
		buffer: 16,
	}
}

// Publish never blocks; a subscriber that has fallen behind loses the event
// rather than stalling the publisher.
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}
