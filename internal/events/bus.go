// Package events provides the server's event bus. Adapter failures,
// recoveries and invocation lifecycle changes are published here and fanned
// out to the editor transport and the status surface.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is implemented by every event type in this package.
type Event interface {
	EventType() string
	Timestamp() time.Time
	AdapterName() string
}

// BaseEvent carries the fields every event shares.
type BaseEvent struct {
	Type    string    `json:"type"`
	Time    time.Time `json:"timestamp"`
	Adapter string    `json:"adapter,omitempty"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) AdapterName() string  { return e.Adapter }

// NewBaseEvent stamps an event of eventType for adapter with the current
// time. adapter is empty for server-wide events.
func NewBaseEvent(eventType, adapter string) BaseEvent {
	return BaseEvent{Type: eventType, Time: time.Now(), Adapter: adapter}
}

// priorityBuffer is the channel size of priority subscriptions. Publishers
// block once it is full.
const priorityBuffer = 50

type subscription struct {
	ch       chan Event
	types    map[string]bool // nil: every type
	priority bool
}

func (s *subscription) wants(eventType string) bool {
	return s.types == nil || s.types[eventType]
}

// offer delivers ev without blocking. A full channel loses its oldest
// event; it reports how many events were lost.
func (s *subscription) offer(ev Event) int64 {
	select {
	case s.ch <- ev:
		return 0
	default:
	}
	var lost int64
	select {
	case <-s.ch:
		lost++
	default:
	}
	select {
	case s.ch <- ev:
	default:
		lost++
	}
	return lost
}

// EventBus fans events out to subscribers. Regular subscriptions behave as
// ring buffers; priority subscriptions never lose an event and apply
// backpressure to PublishPriority instead.
type EventBus struct {
	mu         sync.RWMutex
	subs       []*subscription
	bufferSize int
	dropped    atomic.Int64
	closed     bool
}

// New creates a bus whose regular subscriptions buffer bufferSize events.
func New(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{bufferSize: bufferSize}
}

// Subscribe returns a channel receiving the given event types, or every
// type when none is given. Slow readers lose the oldest events.
func (eb *EventBus) Subscribe(types ...string) <-chan Event {
	return eb.subscribe(false, eb.bufferSize, types)
}

// SubscribePriority returns a channel that receives every PublishPriority
// event of the given types. The subscriber must keep draining it: the
// publisher blocks on a full buffer.
func (eb *EventBus) SubscribePriority(types ...string) <-chan Event {
	return eb.subscribe(true, priorityBuffer, types)
}

func (eb *EventBus) subscribe(priority bool, size int, types []string) <-chan Event {
	sub := &subscription{ch: make(chan Event, size), priority: priority}
	if len(types) > 0 {
		sub.types = make(map[string]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		close(sub.ch)
		return sub.ch
	}
	eb.subs = append(eb.subs, sub)
	return sub.ch
}

// Unsubscribe removes the subscription owning ch and closes ch.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	kept := eb.subs[:0]
	for _, sub := range eb.subs {
		if sub.ch == ch {
			close(sub.ch)
			continue
		}
		kept = append(kept, sub)
	}
	for i := len(kept); i < len(eb.subs); i++ {
		eb.subs[i] = nil
	}
	eb.subs = kept
}

// Publish delivers ev to the matching regular subscriptions. It never
// blocks.
func (eb *EventBus) Publish(ev Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	eb.fanOut(ev, false)
}

// PublishPriority delivers ev to regular subscriptions like Publish and
// then to the matching priority subscriptions, blocking until each has
// room.
func (eb *EventBus) PublishPriority(ev Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	eb.fanOut(ev, true)
}

func (eb *EventBus) fanOut(ev Event, priority bool) {
	t := ev.EventType()
	for _, sub := range eb.subs {
		if !sub.wants(t) {
			continue
		}
		switch {
		case !sub.priority:
			if lost := sub.offer(ev); lost > 0 {
				eb.dropped.Add(lost)
			}
		case priority:
			sub.ch <- ev
		}
	}
}

// DroppedCount returns how many events regular subscriptions have lost.
func (eb *EventBus) DroppedCount() int64 {
	return eb.dropped.Load()
}

// Close closes every subscription channel. Later publishes are ignored and
// later subscriptions receive an already closed channel.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for _, sub := range eb.subs {
		close(sub.ch)
	}
	eb.subs = nil
}
