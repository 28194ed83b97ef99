package agent

import (
	"context"
	"fmt"
	"sync"

	"codecrew/pkg/agent/llm"
)

// MockClient provides a controllable implementation of llm.Client for
// testing. Responses and errors are consumed in order; an error entry of
// nil yields the next response instead.
type MockClient struct {
	mu            sync.Mutex
	responses     []llm.CompletionResponse
	responseIndex int
	errors        []error
	errorIndex    int
	requests      []llm.CompletionRequest
}

// NewMockClient creates a new mock client with predefined responses.
func NewMockClient(responses []llm.CompletionResponse, errors []error) *MockClient {
	return &MockClient{
		responses: responses,
		errors:    errors,
	}
}

// Complete returns the next predefined response or error.
func (m *MockClient) Complete(_ context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, in)

	if m.errorIndex < len(m.errors) {
		err := m.errors[m.errorIndex]
		m.errorIndex++
		if err != nil {
			return llm.CompletionResponse{}, err
		}
	}

	if m.responseIndex >= len(m.responses) {
		return llm.CompletionResponse{}, fmt.Errorf("mock client: no more responses")
	}
	resp := m.responses[m.responseIndex]
	m.responseIndex++
	return resp, nil
}

// ModelName implements llm.Client.
func (m *MockClient) ModelName() string { return "mock" }

// Requests returns a copy of every request seen so far.
func (m *MockClient) Requests() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns how many Complete calls the mock has served.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
