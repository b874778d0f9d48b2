// Package events fans out archive notifications to in-process subscribers.
// Delivery is at-most-once: a subscriber whose buffer is full misses the
// event rather than stalling the publisher.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type names an event kind.
type Type string

// Event kinds.
const (
	// TypeQueue fires when the queued set changes through triage.
	TypeQueue Type = "queue"
	// TypeChannel fires when a channel reaches the parsed state.
	TypeChannel Type = "channel"
	// TypeVideo fires when a video is first recorded.
	TypeVideo Type = "video"
	// TypeAccepted fires when a queued channel is accepted.
	TypeAccepted Type = "accepted"
)

// Event is a single notification.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      Type      `json:"type"`
	ChannelID string    `json:"channelId,omitempty"`
	VideoID   string    `json:"videoId,omitempty"`
	State     string    `json:"state,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus is a non-blocking publish/subscribe hub.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	dropped atomic.Int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// function unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber with buffer space.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
