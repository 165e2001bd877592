// Package stt streams caller audio to a live speech recognizer.
//
// A Recognizer opens one Session per call. Audio goes in through
// SendAudio; recognition comes back through the Handler callbacks:
//
//   - OnUtterance fires for interim results while the caller is speaking.
//   - OnTranscription fires once per caller turn with the finalized text.
package stt

import "context"

// Recognizer opens live recognition sessions.
type Recognizer interface {
	Open(ctx context.Context, h Handler) (Session, error)
}

// Session is one live recognition stream.
type Session interface {
	// SendAudio forwards raw encoded audio (μ-law 8kHz by default).
	SendAudio(audio []byte) error

	// Close flushes and ends the stream. Safe to call more than once.
	Close() error
}

// Handler receives recognition events. Nil callbacks are skipped.
// Callbacks run on the session's reader goroutine and must not block.
type Handler struct {
	OnUtterance     func(text string)
	OnTranscription func(text string)
	OnError         func(err error)
}

func (h Handler) utterance(text string) {
	if h.OnUtterance != nil {
		h.OnUtterance(text)
	}
}

func (h Handler) transcription(text string) {
	if h.OnTranscription != nil {
		h.OnTranscription(text)
	}
}

func (h Handler) fail(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}
