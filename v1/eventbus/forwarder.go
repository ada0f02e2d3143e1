package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	rlerrors "github.com/Victor-Danilov/parallel-computing/v1/errors"
	"github.com/Victor-Danilov/parallel-computing/v1/rangelock"
)

// Message is the JSON payload published for each rangelock.Event.
type Message struct {
	Kind     rangelock.EventKind `json:"kind"`
	Op       string              `json:"op"`
	From     int                 `json:"from"`
	To       int                 `json:"to"`
	Guard    string              `json:"guard,omitempty"`
	Waiters  int                 `json:"waiters"`
	Held     int                 `json:"held"`
	WaitedMS float64             `json:"waited_ms,omitempty"`
	Time     time.Time           `json:"time"`
	Error    string              `json:"error,omitempty"`
}

// NewMessage converts e to its wire form.
func NewMessage(e rangelock.Event) Message {
	msg := Message{
		Kind:     e.Kind,
		Op:       e.Op,
		From:     e.Range.From,
		To:       e.Range.To,
		Waiters:  e.Waiters,
		Held:     e.Held,
		WaitedMS: float64(e.Waited) / float64(time.Millisecond),
		Time:     e.Time,
	}
	if e.Guard != uuid.Nil {
		msg.Guard = e.Guard.String()
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}

// Forwarder is a rangelock.Observer that publishes events to a Bus.
//
// Observe only enqueues the event; a background goroutine encodes and
// publishes it, so neither encoding nor a slow bus stalls lock operations. When the queue is full events are dropped
// and counted.
type Forwarder struct {
	bus    Bus
	topic  string
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan rangelock.Event
	done   chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithQueueSize sets the number of events buffered before dropping.
func WithQueueSize(n int) ForwarderOption {
	return func(f *Forwarder) {
		if n > 0 {
			f.queue = make(chan rangelock.Event, n)
		}
	}
}

// WithForwarderLogger sets the logger used for publish failures.
func WithForwarderLogger(l *slog.Logger) ForwarderOption {
	return func(f *Forwarder) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewForwarder starts a Forwarder publishing to topic on bus.
func NewForwarder(bus Bus, topic string, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		bus:    bus,
		topic:  topic,
		logger: slog.Default(),
		queue:  make(chan rangelock.Event, 1024),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	go f.run()
	return f
}

// Observe implements rangelock.Observer.
func (f *Forwarder) Observe(e rangelock.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.dropped.Add(1)
		return
	}
	select {
	case f.queue <- e:
	default:
		f.dropped.Add(1)
	}
}

func (f *Forwarder) run() {
	defer close(f.done)
	for e := range f.queue {
		data, err := json.Marshal(NewMessage(e))
		if err != nil {
			f.failed.Add(1)
			f.logger.Warn("eventbus: encoding event failed", "kind", e.Kind.String(), "error", err)
			continue
		}
		if err = f.bus.Publish(context.Background(), f.topic, data); err != nil {
			f.failed.Add(1)
			f.logger.Warn("eventbus: publish failed", "topic", f.topic, "error", err)
			continue
		}
		f.published.Add(1)
	}
}

// Close stops accepting events and waits until the queued ones have been
// published. Closing twice returns errors.ErrClosed.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return rlerrors.ErrClosed
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()
	<-f.done
	return nil
}

// Stats reports forwarding counters.
type Stats struct {
	Published uint64
	Dropped   uint64
	Failed    uint64
}

// Stats returns the current counters.
func (f *Forwarder) Stats() Stats {
	return Stats{
		Published: f.published.Load(),
		Dropped:   f.dropped.Load(),
		Failed:    f.failed.Load(),
	}
}
