package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/driftwatch/core"
)

// MockDriver is a lightweight in-memory ChatDriver useful for tests &
// examples. Responses are keyed by the last user message so scripted turns
// and anchor questions can be answered deterministically. Safe for concurrent
// use; anchor probes dispatch in parallel.
type MockDriver struct {
	mu        sync.Mutex
	name      string
	responses map[string]string
	errors    map[string]error
	requests  []core.ChatRequest
}

// NewMockDriver constructs a MockDriver identified by name.
func NewMockDriver(name string) *MockDriver {
	return &MockDriver{
		name:      name,
		responses: make(map[string]string),
		errors:    make(map[string]error),
	}
}

// AddResponse registers a deterministic canned completion for a prompt (the
// last user message of the request).
func (m *MockDriver) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// FailWith registers an error returned whenever the last user message equals
// prompt. The error wins over any canned response for the same prompt.
func (m *MockDriver) FailWith(prompt string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[prompt] = err
}

// Send implements core.ChatDriver; answers with the canned completion or a
// deterministic fallback and synthesizes token usage from the estimator.
func (m *MockDriver) Send(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prompt := lastUserMessage(req.Messages)

	m.mu.Lock()
	recorded := req
	recorded.Messages = req.Messages.Clone()
	m.requests = append(m.requests, recorded)
	err := m.errors[prompt]
	reply, ok := m.responses[prompt]
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		reply = fmt.Sprintf("Mock response to: %s", prompt)
	}

	usage := core.TokenUsage{
		InputTokens:  EstimateHistory(req.Messages),
		OutputTokens: CountTokens(reply),
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	model := req.Model
	if model == "" {
		model = m.name
	}

	return &core.ChatResponse{
		Role:         core.RoleAssistant,
		Content:      reply,
		Model:        model,
		FinishReason: "stop",
		Usage:        usage,
	}, nil
}

// EstimateTokens implements core.ChatDriver.
func (m *MockDriver) EstimateTokens(history core.History) int {
	return EstimateHistory(history)
}

// Requests returns a copy of every request seen, in dispatch order. Each
// recorded request holds its own history snapshot.
func (m *MockDriver) Requests() []core.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestsFor returns the recorded requests whose last user message equals
// prompt, preserving dispatch order.
func (m *MockDriver) RequestsFor(prompt string) []core.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.ChatRequest
	for _, r := range m.requests {
		if lastUserMessage(r.Messages) == prompt {
			out = append(out, r)
		}
	}
	return out
}

// SendCount returns the number of dispatches seen so far.
func (m *MockDriver) SendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func lastUserMessage(h core.History) string {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Role == core.RoleUser {
			return h[i].Content
		}
	}
	return ""
}
