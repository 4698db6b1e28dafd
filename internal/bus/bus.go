// Package bus implements the chat server's process-wide broadcast bus: a
// bounded-backlog 1-to-N fan-out that every local session subscribes to.
// Publishers never block; a subscriber whose backlog overflows simply
// misses messages (history recovers the gap on reconnect, per spec
// §4.7/§9 — liveness over durability).
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/maxrios/mcs/internal/protocol"
)

// Capacity is the bounded backlog size per subscriber (spec §4.7: 100).
const Capacity = 100

// Subscriber is one session's independent receiver.
type Subscriber struct {
	out       chan protocol.Message
	closed    chan struct{}
	closeOnce sync.Once
}

// C returns the channel of delivered messages.
func (s *Subscriber) C() <-chan protocol.Message { return s.out }

// Close closes this subscriber's internal closed channel. It does not
// remove the subscriber from its Bus (Unsubscribe does that). Idempotent.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Bus is the process-wide fan-out primitive.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscriber]struct{}
	dropped atomic.Uint64
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new independent receiver.
func (b *Bus) Subscribe() *Subscriber {
	s := &Subscriber{
		out:    make(chan protocol.Message, Capacity),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes s from the fan-out set and closes it.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	s.Close()
}

// Publish delivers msg to every current subscriber without blocking. A
// subscriber whose backlog is full has the message dropped for it and
// the bus's dropped counter incremented.
func (b *Bus) Publish(msg protocol.Message) {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.out <- msg:
		default:
			b.dropped.Add(1)
		}
	}
}

// DroppedCount returns the number of messages dropped so far due to a
// full subscriber backlog.
func (b *Bus) DroppedCount() uint64 {
	return b.dropped.Load()
}

// Count returns the number of active subscribers.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
