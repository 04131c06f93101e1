package events

import (
	"context"
	"sync"
)

const brokerBuffer = 64

// Broker is an in-process Publisher/Subscriber for single-instance
// deployments without Redis. Slow handlers lose events instead of blocking
// publishers.
type Broker struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]chan Event
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[uint64]chan Event)}
}

func (b *Broker) Publish(_ context.Context, stream string, event Event) error {
	b.mu.Lock()
	targets := make([]chan Event, 0, len(b.subs[stream]))
	for _, ch := range b.subs[stream] {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe delivers events from stream to handler until ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, stream string, handler func(Event)) error {
	ch := make(chan Event, brokerBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[stream] == nil {
		b.subs[stream] = make(map[uint64]chan Event)
	}
	b.subs[stream][id] = ch
	b.mu.Unlock()

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.subs[stream], id)
			b.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				handler(ev)
			}
		}
	}()
	return nil
}
