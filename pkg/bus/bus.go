// Package bus is the broker abstraction the learning pipeline rides on.
// Implementations: inproc (channel fan-out) and kafka.
package bus

import "context"

// Message is one delivered payload with its concrete topic.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Publisher emits payloads to topics.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Subscriber consumes messages from subscribed topics. Subscribe is safe to
// call after Start.
type Subscriber interface {
	Subscribe(topic string) error
	Messages() <-chan Message
	Start(ctx context.Context) error
	Close() error
}

// NopPublisher drops everything. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, topic string, payload []byte) error { return nil }
func (NopPublisher) Close() error                                                    { return nil }

var _ Publisher = NopPublisher{}
