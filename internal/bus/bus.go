// Package bus implements the bounded broadcast fan-out a room's supervisor
// publishes child output on, grounded on spec.md §5's "bounded broadcast
// channel, capacity 16, lossy for lagging consumers" requirement
// (original_source/src/channel.rs's cast_tx/cast_rx pair, built here on Go
// channels rather than a broadcast crate since Go has no built-in
// multi-consumer broadcast primitive).
package bus

import (
	"sync"

	"github.com/scalesocket/scalesocket/internal/types"
)

// Capacity is the fixed per-subscriber buffer size. A subscriber that falls
// more than Capacity messages behind misses the intermediate messages; this
// is an intentional back-pressure policy favoring producer liveness.
const Capacity = 16

// Bus is a multi-consumer fan-out of types.Message. Safe for concurrent use.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan types.Message
	next int
	closed bool
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan types.Message)}
}

// Subscribe registers a new consumer and returns its channel and an
// unsubscribe function. The channel is closed when Close is called.
func (b *Bus) Subscribe() (<-chan types.Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan types.Message, Capacity)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Publish delivers msg to every current subscriber. A subscriber whose
// buffer is full is skipped for this message (dropped, not blocked).
func (b *Bus) Publish(msg types.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Close ends the bus: every subscriber's channel is closed and future
// Subscribe calls return an already-closed channel. Mirrors dropping the
// broadcast sender in the original, which ends every bridge's subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
