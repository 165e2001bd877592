package telephony

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofiber/contrib/websocket"
)

// ErrStreamClosed is returned when writing to a closed stream.
var ErrStreamClosed = errors.New("telephony: stream closed")

// MessageWriter is the write half of a websocket connection.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Stream serializes outbound media stream messages onto one socket. All
// writes go through a single writer goroutine started by Run.
type Stream struct {
	w      MessageWriter
	logger *slog.Logger

	mu        sync.RWMutex
	streamSid string

	out       chan [][]byte
	done      chan struct{}
	closeOnce sync.Once

	mediaSent atomic.Uint64
	marksSent atomic.Uint64
	clears    atomic.Uint64
}

// StreamStats counts outbound messages.
type StreamStats struct {
	MediaSent uint64 `json:"media_sent"`
	MarksSent uint64 `json:"marks_sent"`
	Clears    uint64 `json:"clears"`
}

// NewStream wraps w. queue bounds the number of pending writes.
func NewStream(w MessageWriter, queue int, logger *slog.Logger) *Stream {
	if queue <= 0 {
		queue = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		w:      w,
		logger: logger.With("component", "telephony.stream"),
		out:    make(chan [][]byte, queue),
		done:   make(chan struct{}),
	}
}

// SetStreamSid sets the id stamped on every outbound message.
func (s *Stream) SetStreamSid(sid string) {
	s.mu.Lock()
	s.streamSid = sid
	s.mu.Unlock()
}

// StreamSid returns the current stream id.
func (s *Stream) StreamSid() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamSid
}

// Run writes queued messages until ctx is done or Close is called.
func (s *Stream) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case batch := <-s.out:
			for _, data := range batch {
				if err := s.w.WriteMessage(websocket.TextMessage, data); err != nil {
					s.logger.Warn("write failed", "error", err)
					s.Close()
					return err
				}
			}
		}
	}
}

// SendAudio queues a media message followed by its mark. The pair is
// written back to back.
func (s *Stream) SendAudio(audio []byte, mark string) error {
	sid := s.StreamSid()
	media, err := NewMediaMessage(sid, audio).Bytes()
	if err != nil {
		return err
	}
	batch := [][]byte{media}
	if mark != "" {
		m, err := NewMarkMessage(sid, mark).Bytes()
		if err != nil {
			return err
		}
		batch = append(batch, m)
	}

	if err := s.enqueue(batch); err != nil {
		return err
	}
	s.mediaSent.Add(1)
	if mark != "" {
		s.marksSent.Add(1)
	}
	return nil
}

// Clear queues a clear message, flushing Twilio's playback buffer.
func (s *Stream) Clear() error {
	data, err := NewClearMessage(s.StreamSid()).Bytes()
	if err != nil {
		return err
	}
	if err := s.enqueue([][]byte{data}); err != nil {
		return err
	}
	s.clears.Add(1)
	return nil
}

func (s *Stream) enqueue(batch [][]byte) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	select {
	case s.out <- batch:
		return nil
	case <-s.done:
		return ErrStreamClosed
	}
}

// Close stops the writer. Queued messages are dropped.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Stats returns outbound counters.
func (s *Stream) Stats() StreamStats {
	return StreamStats{
		MediaSent: s.mediaSent.Load(),
		MarksSent: s.marksSent.Load(),
		Clears:    s.clears.Load(),
	}
}
