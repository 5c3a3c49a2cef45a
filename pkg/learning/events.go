package learning

import (
	"context"
	"sync"

	"github.com/skillmesh/skillmesh/pkg/trace"
)

// EventSource supplies the event stream for a task when the queue worker
// re-analyzes it. Nominations usually carry their events inline; the handler
// records them here for the worker to pick up later.
type EventSource interface {
	Events(ctx context.Context, taskID string) ([]trace.Event, error)
	Record(taskID string, events []trace.Event)
}

// MemoryEvents holds nominated event streams in memory until the queue
// worker consumes them. Entries survive for the life of the process, which
// matches the single-instance worker assumption.
type MemoryEvents struct {
	mu     sync.RWMutex
	events map[string][]trace.Event
}

// NewMemoryEvents creates an empty in-memory event source.
func NewMemoryEvents() *MemoryEvents {
	return &MemoryEvents{events: make(map[string][]trace.Event)}
}

func (m *MemoryEvents) Record(taskID string, events []trace.Event) {
	if taskID == "" || len(events) == 0 {
		return
	}
	m.mu.Lock()
	m.events[taskID] = events
	m.mu.Unlock()
}

func (m *MemoryEvents) Events(ctx context.Context, taskID string) ([]trace.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events[taskID], nil
}

var _ EventSource = (*MemoryEvents)(nil)
