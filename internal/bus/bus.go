// Package bus is the in-process event channel connecting the stream,
// orchestrator and observers.
package bus

import (
	"sync"
	"sync/atomic"

	"evm-arb-watcher/internal/domain"
)

// DefaultBuffer is the per-subscriber channel buffer.
const DefaultBuffer = 1024

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// that cannot keep up loses events, counted in Dropped. Pool updates are
// reconstructable from chain state, so dropping beats stalling the
// publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan domain.Event
	nextID  int
	buffer  int
	closed  bool
	dropped atomic.Uint64
}

// New creates a Bus with the default per-subscriber buffer.
func New() *Bus {
	return NewWithBuffer(DefaultBuffer)
}

// NewWithBuffer creates a Bus with a custom per-subscriber buffer.
func NewWithBuffer(buffer int) *Bus {
	return &Bus{
		subs:   make(map[int]chan domain.Event),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes its channel.
func (b *Bus) Subscribe() (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan domain.Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan domain.Event, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped due to full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close shuts the bus down and closes all subscriber channels.
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
