package testutils

import (
	"context"
	"strings"
	"sync"
)

// PublishedMessage is one recorded publish call.
type PublishedMessage struct {
	Topic   string
	Payload []byte
}

// MockPublisher records every publish for assertion.
type MockPublisher struct {
	mu       sync.Mutex
	Messages []PublishedMessage

	// FailAll causes every Publish to return an error.
	FailAll error
}

func (m *MockPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll != nil {
		return m.FailAll
	}
	m.Messages = append(m.Messages, PublishedMessage{Topic: topic, Payload: payload})
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// ByTopic returns the payloads published to topics containing the fragment.
func (m *MockPublisher) ByTopic(fragment string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	for _, msg := range m.Messages {
		if strings.Contains(msg.Topic, fragment) {
			out = append(out, msg.Payload)
		}
	}
	return out
}
