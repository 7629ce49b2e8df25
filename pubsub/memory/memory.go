package memory

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process Broker for dev mode and tests. Each
// subscriber drains its own buffered queue in a dedicated goroutine, so
// delivery preserves per-publisher order without a publisher ever blocking
// on a slow handler.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string][]*subscriber
}

type subscriber struct {
	ch      chan []byte
	handler func(message []byte)
}

const subscriberBuffer = 256

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs: make(map[string][]*subscriber),
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, message []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[channel] {
		select {
		case sub.ch <- message:
		default:
			// Subscriber queue full; drop rather than stall other rooms.
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	sub := &subscriber{
		ch:      make(chan []byte, subscriberBuffer),
		handler: handler,
	}

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.remove(channel, sub)
				return
			case msg := <-sub.ch:
				sub.handler(msg)
			}
		}
	}()

	return nil
}

func (b *MemoryBroker) remove(channel string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[channel]
	for i, s := range subs {
		if s == sub {
			b.subs[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[channel]) == 0 {
		delete(b.subs, channel)
	}
}
