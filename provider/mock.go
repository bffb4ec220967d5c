package provider

import (
	"context"
	"sync"
)

// MockAdapter is a deterministic, in-memory Adapter used by tests and by
// the seed scenarios in spec.md §8. Chat and generate calls consume one
// shared response queue in FIFO order; once it is down to its last
// response, that response repeats.
type MockAdapter struct {
	mu            sync.Mutex
	configured    bool
	cfg           Config
	chatResponses []TextResult
	chatErrs      []error
	genResponses  []TextResult
	genErrs       []error
	embedVectors  [][]float32
	calls         []Operation
}

// NewMockAdapter creates an unconfigured mock adapter.
func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (m *MockAdapter) Name() string { return "mock" }

func (m *MockAdapter) Capabilities() []Operation {
	return []Operation{OpGenerate, OpChat, OpGenerateStream, OpChatStream, OpEmbed, OpEmbedBatch}
}

func (m *MockAdapter) Validate(cfg Config) error { return nil }

func (m *MockAdapter) Configure(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.configured = true
	return nil
}

// QueueChatResponse appends a scripted chat result.
func (m *MockAdapter) QueueChatResponse(r TextResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatResponses = append(m.chatResponses, r)
}

// QueueChatError appends a scripted chat failure. Queued failures are
// returned before any queued success, whatever the order of the Queue
// calls, and each failure returned also removes the first queued response.
func (m *MockAdapter) QueueChatError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatErrs = append(m.chatErrs, err)
	m.chatResponses = append(m.chatResponses, TextResult{})
}

// Calls returns the operations executed so far, for assertions.
func (m *MockAdapter) Calls() []Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Operation, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockAdapter) Execute(ctx context.Context, op Operation, input any) (any, error) {
	m.mu.Lock()
	if !m.configured {
		m.mu.Unlock()
		return nil, ErrNotConfigured()
	}
	m.calls = append(m.calls, op)
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	switch op {
	case OpChat, OpGenerate:
		m.mu.Lock()
		defer m.mu.Unlock()
		if len(m.chatErrs) > 0 {
			err := m.chatErrs[0]
			m.chatErrs = m.chatErrs[1:]
			if len(m.chatResponses) > 0 {
				m.chatResponses = m.chatResponses[1:]
			}
			if err != nil {
				return nil, err
			}
		}
		if len(m.chatResponses) == 0 {
			return TextResult{}, nil
		}
		next := m.chatResponses[0]
		if len(m.chatResponses) > 1 {
			m.chatResponses = m.chatResponses[1:]
		}
		return next, nil
	case OpEmbed, OpEmbedBatch:
		m.mu.Lock()
		defer m.mu.Unlock()
		return EmbedResult{Vectors: m.embedVectors}, nil
	default:
		return nil, ErrUnsupportedOperation(op)
	}
}

func (m *MockAdapter) Shutdown(ctx context.Context) error { return nil }
