// Package mock provides a scripted model provider for testing.
package mock

import (
	"context"
	"sync"

	"github.com/GoCodeAlone/boardroom/provider"
)

const defaultResponse = "Task acknowledged. Working on it."

// Step is one scripted reply. A non-nil Err is returned instead of Content.
type Step struct {
	Content string
	Err     error
}

// MockProvider implements provider.Provider for testing. It cycles through
// its script and records every conversation it receives.
// It is safe for concurrent use.
type MockProvider struct {
	mu    sync.Mutex
	steps []Step
	idx   int
	calls [][]provider.Message
}

// New creates a MockProvider that cycles through the given responses.
func New(responses ...string) *MockProvider {
	steps := make([]Step, len(responses))
	for i, r := range responses {
		steps[i] = Step{Content: r}
	}
	return &MockProvider{steps: steps}
}

// NewScript creates a MockProvider from explicit steps, including errors.
func NewScript(steps ...Step) *MockProvider {
	return &MockProvider{steps: steps}
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string { return "mock" }

// Chat returns the next scripted step, cycling through the script.
func (m *MockProvider) Chat(_ context.Context, messages []provider.Message) (*provider.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, append([]provider.Message(nil), messages...))
	if len(m.steps) == 0 {
		return &provider.Response{Content: defaultResponse}, nil
	}
	step := m.steps[m.idx%len(m.steps)]
	m.idx++
	if step.Err != nil {
		return nil, step.Err
	}
	return &provider.Response{
		Content: step.Content,
		Usage:   provider.Usage{OutputTokens: len(step.Content)},
	}, nil
}

// Calls returns the conversations received so far.
func (m *MockProvider) Calls() [][]provider.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]provider.Message(nil), m.calls...)
}

// CallCount returns the number of Chat calls.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
