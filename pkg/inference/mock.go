package inference

import (
	"context"
	"sync"
	"time"
)

// MockReply is what a default mock says.
const MockReply = "Mock response"

// Mock implements Provider for testing.
type Mock struct {
	// StreamFunc is called when Stream is invoked.
	StreamFunc func(ctx context.Context, req *ChatRequest) (Stream, error)

	// HealthFunc is called when Health is invoked.
	HealthFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	// CapabilitiesOverride overrides default capabilities.
	CapabilitiesOverride *Capabilities

	mu       sync.Mutex
	calls    []MockCall
	requests []ChatRequest
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Time   time.Time
}

// NewMock creates a new mock provider with sensible defaults.
func NewMock() *Mock {
	return &Mock{
		StreamFunc: func(ctx context.Context, req *ChatRequest) (Stream, error) {
			return NewScriptedStream(TextChunks(MockReply)...), nil
		},
		HealthFunc: func(ctx context.Context) error {
			return nil
		},
	}
}

// NewScriptedMock returns a mock whose n-th Stream call replays the n-th
// script. Calls beyond the last script replay the last one.
func NewScriptedMock(scripts ...[]StreamChunk) *Mock {
	m := NewMock()
	var (
		mu   sync.Mutex
		next int
	)
	m.StreamFunc = func(ctx context.Context, req *ChatRequest) (Stream, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(scripts) == 0 {
			return NewScriptedStream(), nil
		}
		i := next
		if i >= len(scripts) {
			i = len(scripts) - 1
		}
		next++
		return NewScriptedStream(scripts[i]...), nil
	}
	return m
}

// Stream calls StreamFunc and records the call.
func (m *Mock) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	m.record("Stream", req)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	return nil, WrapError("mock", ErrProviderUnavailable)
}

// Capabilities returns mock capabilities.
func (m *Mock) Capabilities() Capabilities {
	if m.CapabilitiesOverride != nil {
		return *m.CapabilitiesOverride
	}
	return Capabilities{
		Streaming: m.StreamFunc != nil,
		Tools:     true,
	}
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.record("Health", nil)
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.record("Close", nil)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// record adds a call to the tracking list. Requests are copied so later
// history mutations by the caller do not leak into the record.
func (m *Mock) record(method string, req *ChatRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Time:   time.Now(),
	})
	if req != nil {
		cp := *req
		cp.Messages = append([]Message(nil), req.Messages...)
		m.requests = append(m.requests, cp)
	}
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// Requests returns copies of all recorded chat requests.
func (m *Mock) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]ChatRequest, len(m.requests))
	copy(result, m.requests)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// LastCall returns the most recent call, or nil if none.
func (m *Mock) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.requests = nil
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		StreamFunc: func(ctx context.Context, req *ChatRequest) (Stream, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// ScriptedStream replays a fixed list of chunks. After the last chunk it
// reports Done.
type ScriptedStream struct {
	mu     sync.Mutex
	chunks []StreamChunk
	pos    int
	closed bool

	// FailAt makes Recv return FailErr when the position is reached.
	FailAt  int
	FailErr error
}

// NewScriptedStream creates a stream that replays chunks in order.
func NewScriptedStream(chunks ...StreamChunk) *ScriptedStream {
	return &ScriptedStream{chunks: chunks, FailAt: -1}
}

// TextChunks builds content chunks for each delta; the final chunk carries
// the stop finish reason.
func TextChunks(deltas ...string) []StreamChunk {
	chunks := make([]StreamChunk, len(deltas))
	for i, d := range deltas {
		chunks[i] = StreamChunk{Delta: d}
	}
	if len(chunks) > 0 {
		chunks[len(chunks)-1].FinishReason = FinishStop
		chunks[len(chunks)-1].Done = true
	}
	return chunks
}

// ToolCallChunks builds a streamed tool call whose arguments arrive in the
// given pieces, finishing with the tool_calls reason.
func ToolCallChunks(name string, argPieces ...string) []StreamChunk {
	chunks := []StreamChunk{{
		ToolCalls: []ToolCallDelta{{ID: "call_" + name, Name: name}},
	}}
	for _, piece := range argPieces {
		chunks = append(chunks, StreamChunk{
			ToolCalls: []ToolCallDelta{{Arguments: piece}},
		})
	}
	chunks = append(chunks, StreamChunk{FinishReason: FinishToolCalls, Done: true})
	return chunks
}

// Recv returns the next scripted chunk.
func (s *ScriptedStream) Recv() (*StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}
	if s.FailAt >= 0 && s.pos == s.FailAt {
		s.pos++
		return nil, s.FailErr
	}
	if s.pos >= len(s.chunks) {
		return &StreamChunk{Done: true}, nil
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return &chunk, nil
}

// Close marks the stream closed.
func (s *ScriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
