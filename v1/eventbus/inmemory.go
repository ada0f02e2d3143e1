package eventbus

import (
	"context"
	"sync"
)

// InMemoryBus is an in-process Bus. Slow watchers miss messages rather than
// block publishers.
type InMemoryBus struct {
	mu sync.Mutex
	// subs maps each topic's channels to the cancel func of the goroutine
	// that unwatches them when the Watch context ends.
	subs map[string]map[chan []byte]context.CancelFunc
	wg   sync.WaitGroup
}

// NewInMemory creates a new InMemoryBus.
func NewInMemory() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string]map[chan []byte]context.CancelFunc)}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Watch implements Bus.Watch. The channel is closed once ctx ends or
// Unwatch is called, whichever comes first.
func (b *InMemoryBus) Watch(ctx context.Context, topic string) (chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan []byte, 16)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan []byte]context.CancelFunc)
	}
	b.subs[topic][ch] = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		<-ctx.Done()
		b.forget(topic, ch)
	}()
	return ch, nil
}

// Unwatch implements Bus.Unwatch. The channel is closed and its watch
// goroutine exits.
func (b *InMemoryBus) Unwatch(ctx context.Context, topic string, ch chan []byte) error {
	b.forget(topic, ch)
	return nil
}

// forget removes and closes ch once. Safe to call repeatedly.
func (b *InMemoryBus) forget(topic string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	cancel, ok := subs[ch]
	if !ok {
		return
	}
	cancel()
	delete(subs, ch)
	if len(subs) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
}

func (b *InMemoryBus) watchers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}
