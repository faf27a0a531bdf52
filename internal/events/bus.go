// Package events provides the typed event bus the mesh core publishes on.
// Delivery is in-process fan-out; transport layers (websocket, log sinks)
// subscribe and forward however they like.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type enumerates the events the core emits.
type Type string

// Event types.
const (
	IdentityRegistered  Type = "identity_registered"
	MessageProcessed    Type = "message_processed"
	SystemMessageSent   Type = "system_message_sent"
	ItemQueued          Type = "item_queued"
	ItemProcessed       Type = "item_processed"
	SyncComplete        Type = "sync_complete"
	SyncError           Type = "sync_error"
	OnlineStatusChanged Type = "online_status_changed"
)

// Event is one published occurrence with free-form detail fields.
type Event struct {
	Type   Type           `json:"type"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber with the given buffer size and
// returns its channel plus an unsubscribe function.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
}

// Publish delivers the event to every subscriber that has buffer room.
func (b *Bus) Publish(typ Type, fields map[string]any) {
	ev := Event{Type: typ, At: time.Now().UTC(), Fields: fields}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped due to full buffers.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }
