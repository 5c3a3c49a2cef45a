package bus

import (
	"context"
	"strings"
	"sync"
)

// Inproc is a channel-backed broker for embedded runs and tests. One Inproc
// serves as both Publisher and Subscriber; subscriptions match exact topics
// or prefixes ending in "*".
type Inproc struct {
	mu     sync.Mutex
	topics []string
	ch     chan Message
	closed bool
}

// NewInproc creates an in-process bus with a buffered delivery channel.
func NewInproc() *Inproc {
	return &Inproc{ch: make(chan Message, 100)}
}

func (b *Inproc) Subscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.topics {
		if t == topic {
			return nil
		}
	}
	b.topics = append(b.topics, topic)
	return nil
}

func (b *Inproc) Start(ctx context.Context) error { return nil }

func (b *Inproc) Messages() <-chan Message { return b.ch }

// Publish delivers to the channel when the topic matches a subscription.
// Unmatched publishes are dropped, mirroring broker semantics for topics
// nobody listens on.
func (b *Inproc) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	for _, pattern := range b.topics {
		if matchTopic(pattern, topic) {
			select {
			case b.ch <- Message{Topic: topic, Value: payload}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}
	}
	return nil
}

func (b *Inproc) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	return nil
}

func matchTopic(pattern, topic string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(topic, prefix)
	}
	return pattern == topic
}

var (
	_ Publisher  = (*Inproc)(nil)
	_ Subscriber = (*Inproc)(nil)
)
