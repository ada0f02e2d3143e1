// Package eventbus streams range lock events to watchers.
//
// A Forwarder observes a rangelock.Manager and publishes every event, JSON
// encoded, on a topic of a Bus. Buses exist for in-process use, Redis
// streams, NATS and Kafka; SSEHandler and WebSocketHandler expose a topic
// over HTTP. Buses only carry observations: they never grant or release
// ranges.
package eventbus

import "context"

// Bus publishes opaque payloads to topics and lets clients watch them.
type Bus interface {
	// Publish sends data to every watcher of topic.
	Publish(ctx context.Context, topic string, data []byte) error
	// Watch subscribes to topic. The returned channel receives payloads
	// until ctx is canceled or Unwatch is called.
	Watch(ctx context.Context, topic string) (chan []byte, error)
	// Unwatch stops delivering messages for topic to ch.
	Unwatch(ctx context.Context, topic string, ch chan []byte) error
}
