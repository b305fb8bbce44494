package eventbus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process EventTransport for tests and for embedding
// the observer runtime in a single process without an external broker.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[int]*memorySub
	next int
}

type memorySub struct {
	filter Filter
	ch     chan Item
}

// NewMemory constructs an empty MemoryBus.
func NewMemory() *MemoryBus {
	return &MemoryBus{subs: make(map[int]*memorySub)}
}

func (b *MemoryBus) Subscribe(ctx context.Context, filter Filter) (<-chan Item, error) {
	b.mu.Lock()
	id := b.next
	b.next++
	sub := &memorySub{filter: filter, ch: make(chan Item, 64)}
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(sub.ch)
		b.mu.Unlock()
	}()

	return sub.ch, nil
}

func (b *MemoryBus) Publish(_ context.Context, event EntityEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- Item{Event: event}:
		default:
			// Slow consumer: the event is dropped for this subscriber
			// rather than blocking Publish, so MemoryBus does not give
			// at-least-once delivery once a subscriber's 64-item buffer
			// is full; the Postgres and NATS transports rely on the
			// broker's own buffering instead.
		}
	}
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	return nil
}

var _ EventTransport = (*MemoryBus)(nil)
