package conversation

import (
	"context"
	"time"

	"github.com/teslashibe/go-callbridge/pkg/inference"
)

// NoOrder marks a fragment that bypasses ordering and plays as soon as its
// audio is ready. Greetings and tool fillers use it.
const NoOrder = -1

// Fragment is one speakable piece of an assistant reply.
type Fragment struct {
	// Index is unique and increasing across the call, or NoOrder.
	Index int

	Text string

	// Interaction is the caller turn this fragment answers.
	Interaction int
}

// Result is the synthesized audio for one fragment. Results arrive in any
// order; Err marks a fragment that will never have audio.
type Result struct {
	Index       int
	Audio       []byte
	Text        string
	Interaction int
	Err         error
}

// AudioSink is the telephony output. SendAudio writes a media message
// followed by a mark message with the given name. Clear flushes playback.
type AudioSink interface {
	SendAudio(audio []byte, mark string) error
	Clear() error
}

// CallRecorder starts recording a call on the telephony side.
type CallRecorder interface {
	StartRecording(ctx context.Context, callSid string) error
}

// Ledger persists calls and their transcripts.
type Ledger interface {
	StartCall(ctx context.Context, callSid, streamSid string) error
	FinishCall(ctx context.Context, callSid string, transcript []inference.Message) error
}

// State is the lifecycle position of a session.
type State int

const (
	StateIdle State = iota
	StateActive
	StateEnded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// EventType identifies session events.
type EventType string

const (
	EventStarted       EventType = "started"
	EventTranscription EventType = "transcription"
	EventFragment      EventType = "fragment"
	EventAudioSent     EventType = "audio_sent"
	EventMarkAcked     EventType = "mark_acked"
	EventInterruption  EventType = "interruption"
	EventToolCall      EventType = "tool_call"
	EventError         EventType = "error"
	EventEnded         EventType = "ended"
)

// Event is an observable session occurrence. Observers must not block.
type Event struct {
	Type        EventType `json:"type"`
	CallSid     string    `json:"call_sid"`
	StreamSid   string    `json:"stream_sid"`
	Index       int       `json:"index"`
	Interaction int       `json:"interaction"`
	Text        string    `json:"text,omitempty"`
	Mark        string    `json:"mark,omitempty"`
	Cleared     int       `json:"cleared,omitempty"`
	Err         error     `json:"-"`
	Error       string    `json:"error,omitempty"`
	Time        time.Time `json:"time"`
}

// Observer receives session events.
type Observer func(Event)
