// ABOUTME: In-process pub/sub for traversal lifecycle events
// ABOUTME: Best-effort delivery; a full subscriber drops its oldest event

package events

import (
	"sync"
)

// Type identifies a traversal lifecycle event
type Type string

const (
	TypeNodeEvaluated   Type = "node_evaluated"
	TypeNodeSelected    Type = "node_selected"
	TypeAnswerGenerated Type = "answer_generated"
)

// DefaultBuffer is the per-subscriber inbound buffer size
const DefaultBuffer = 500

// Event is one traversal lifecycle message
type Event struct {
	Type   Type   `json:"event"`
	NodeID string `json:"node_id,omitempty"`
	Level  int    `json:"level"`
	Source string `json:"source,omitempty"` // cache|disk|miss
	Title  string `json:"title,omitempty"`
}

// Subscription is one consumer's bounded event feed. Closing it detaches
// the consumer with no publisher-side state left behind.
type Subscription struct {
	ch   chan Event
	bus  *Bus
	once sync.Once
}

// Events returns the receive channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription from the bus
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// Bus fans events out to zero or more subscribers. Publishing never
// blocks: traversal latency is never gated on a slow consumer.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewBus creates an event bus with no subscribers
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe attaches a consumer with the given buffer size (DefaultBuffer
// when <= 0).
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{ch: make(chan Event, buffer), bus: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// SubscriberCount returns the number of attached subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers e to all subscribers. A subscriber whose buffer is
// full loses its oldest buffered event rather than blocking the publisher.
// Sends happen under the bus lock, so Close never races a delivery; every
// send path is non-blocking.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			// Drop the oldest, then retry once
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- e:
			default:
			}
		}
	}
}
