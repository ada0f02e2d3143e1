package eventbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus on top of Redis streams. Each topic is a stream;
// watchers read entries appended after they started watching.
type RedisBus struct {
	client *redis.Client
	// maxLen caps each stream, approximately. Zero means unbounded.
	maxLen int64
	block  time.Duration

	mu      sync.Mutex
	cancels map[string]map[chan []byte]context.CancelFunc
}

// RedisOption configures a RedisBus.
type RedisOption func(*RedisBus)

// WithMaxLen trims each stream to roughly n entries on publish.
func WithMaxLen(n int64) RedisOption {
	return func(b *RedisBus) { b.maxLen = n }
}

// NewRedis creates a RedisBus using the provided client.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisBus {
	b := &RedisBus{
		client:  client,
		block:   500 * time.Millisecond,
		cancels: make(map[string]map[chan []byte]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends data to the stream named topic.
func (b *RedisBus) Publish(ctx context.Context, topic string, data []byte) error {
	args := &redis.XAddArgs{Stream: topic, Values: map[string]any{"data": data}}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	return b.client.XAdd(ctx, args).Err()
}

// Watch reads entries appended to the stream after the call returns.
func (b *RedisBus) Watch(ctx context.Context, topic string) (chan []byte, error) {
	lastID := "0"
	last, err := b.client.XRevRangeN(ctx, topic, "+", "-", 1).Result()
	if err != nil {
		return nil, err
	}
	if len(last) == 1 {
		lastID = last[0].ID
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan []byte, 16)
	b.mu.Lock()
	m := b.cancels[topic]
	if m == nil {
		m = make(map[chan []byte]context.CancelFunc)
		b.cancels[topic] = m
	}
	m[ch] = cancel
	b.mu.Unlock()

	go func() {
		defer close(ch)
		defer b.forget(topic, ch)
		for {
			res, err := b.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{topic, lastID},
				Block:   b.block,
				Count:   16,
			}).Result()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if !errors.Is(err, redis.Nil) {
					time.Sleep(b.block)
				}
				continue
			}
			for _, s := range res {
				for _, msg := range s.Messages {
					lastID = msg.ID
					v, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					select {
					case ch <- []byte(v):
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch, nil
}

// Unwatch stops the reader feeding ch. The channel is closed once the
// reader exits.
func (b *RedisBus) Unwatch(ctx context.Context, topic string, ch chan []byte) error {
	b.mu.Lock()
	cancel, ok := b.cancels[topic][ch]
	b.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (b *RedisBus) forget(topic string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.cancels[topic]; ok {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.cancels, topic)
		}
	}
}
