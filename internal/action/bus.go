package action

import (
	"sync"
	"time"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

// EventType names an action lifecycle event.
type EventType string

const (
	EventCreated   EventType = "created"
	EventConfirmed EventType = "confirmed"
	EventRejected  EventType = "rejected"
	EventExecuted  EventType = "executed"
)

func eventFor(s brain.ActionStatus) EventType {
	switch s {
	case brain.StatusConfirmed:
		return EventConfirmed
	case brain.StatusRejected:
		return EventRejected
	case brain.StatusExecuted:
		return EventExecuted
	}
	return EventCreated
}

// Event is published after a transition is stored.
type Event struct {
	Type   EventType
	Action storage.Action
	At     time.Time
}

// Bus fans lifecycle events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	buffer int
}

// NewBus creates a bus whose subscriptions buffer up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns a channel of events and a cancel func that removes the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber with room. It returns how many
// subscribers received it.
func (b *Bus) Publish(e Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- e:
			delivered++
		default:
		}
	}
	return delivered
}
