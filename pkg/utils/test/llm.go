package testutils

import (
	"context"
	"fmt"
	"sync"
)

// MockLLM is a scripted llm.CallFunc source for extraction tests.
type MockLLM struct {
	mu sync.Mutex

	// Responses are returned in order; the last one repeats.
	Responses []string

	// Err, when set, is returned by every call.
	Err error

	// Prompts accumulates every prompt received.
	Prompts []string

	calls int
}

// Call satisfies llm.CallFunc when passed as m.Call.
func (m *MockLLM) Call(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", fmt.Errorf("mock llm has no responses")
	}

	idx := m.calls
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.calls++
	return m.Responses[idx], nil
}

// Calls returns how many times the mock was invoked.
func (m *MockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
