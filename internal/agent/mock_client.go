package agent

import (
	"context"
	"strings"
	"sync"
)

// MockClient provides scripted generation responses for tests. Queued
// responses are consumed first; otherwise the first Script entry whose key
// appears in the prompt is returned.
type MockClient struct {
	mu        sync.Mutex
	queue     []string
	Script    map[string]string
	Default   string
	Err       error
	EmbedFunc func(text string) ([]float32, error)
	Calls     []GenerateRequest
}

func NewMockClient() *MockClient {
	return &MockClient{Script: make(map[string]string)}
}

// Queue appends responses returned in order by subsequent Generate calls.
func (m *MockClient) Queue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
}

func (m *MockClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.queue) > 0 {
		resp := m.queue[0]
		m.queue = m.queue[1:]
		return resp, nil
	}
	for key, resp := range m.Script {
		if strings.Contains(req.Prompt, key) || strings.Contains(req.System, key) {
			return resp, nil
		}
	}
	return m.Default, nil
}

func (m *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(text)
	}
	return []float32{1, 0, 0}, nil
}

// CallCount returns how many Generate calls have been recorded.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
