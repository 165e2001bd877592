package stt

import (
	"context"
	"sync"
)

// Mock is a Recognizer for tests. Each Open returns a MockSession whose
// events are driven by the test.
type Mock struct {
	// OpenErr, when set, is returned from Open.
	OpenErr error

	mu       sync.Mutex
	sessions []*MockSession
}

// NewMock creates a mock recognizer.
func NewMock() *Mock {
	return &Mock{}
}

// Open records a new session bound to h.
func (m *Mock) Open(ctx context.Context, h Handler) (Session, error) {
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	s := &MockSession{handler: h}
	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()
	return s, nil
}

// Sessions returns every session opened so far.
func (m *Mock) Sessions() []*MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockSession(nil), m.sessions...)
}

// Last returns the most recent session, or nil.
func (m *Mock) Last() *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) == 0 {
		return nil
	}
	return m.sessions[len(m.sessions)-1]
}

// MockSession records audio and lets tests emit recognition events.
type MockSession struct {
	handler Handler

	mu     sync.Mutex
	audio  []byte
	frames int
	closed bool
}

// SendAudio records the frame.
func (s *MockSession) SendAudio(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.audio = append(s.audio, audio...)
	s.frames++
	return nil
}

// Close marks the session closed.
func (s *MockSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Utter emits an interim result.
func (s *MockSession) Utter(text string) { s.handler.utterance(text) }

// Transcribe emits a finalized caller turn.
func (s *MockSession) Transcribe(text string) { s.handler.transcription(text) }

// Fail emits a recognizer error.
func (s *MockSession) Fail(err error) { s.handler.fail(err) }

// Audio returns all audio received so far.
func (s *MockSession) Audio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.audio...)
}

// Frames returns how many SendAudio calls succeeded.
func (s *MockSession) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Closed reports whether Close was called.
func (s *MockSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Verify Mock implements Recognizer at compile time.
var _ Recognizer = (*Mock)(nil)
