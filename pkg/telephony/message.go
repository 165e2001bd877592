// Package telephony speaks the Twilio Media Streams protocol and drives call
// control through the Twilio REST API.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Event identifies a media stream message.
type Event string

const (
	// Twilio → server
	EventConnected Event = "connected"
	EventStart     Event = "start"
	EventMedia     Event = "media"
	EventMark      Event = "mark"
	EventStop      Event = "stop"

	// Server → Twilio (media and mark are bidirectional)
	EventClear Event = "clear"
)

// Inbound is a message received from Twilio. Only the field matching Event
// is populated.
type Inbound struct {
	Event          Event      `json:"event"`
	SequenceNumber string     `json:"sequenceNumber,omitempty"`
	StreamSid      string     `json:"streamSid,omitempty"`
	Protocol       string     `json:"protocol,omitempty"`
	Start          *StartData `json:"start,omitempty"`
	Media          *MediaData `json:"media,omitempty"`
	Mark           *MarkData  `json:"mark,omitempty"`
	Stop           *StopData  `json:"stop,omitempty"`
}

// StartData describes the stream at its start.
type StartData struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

// MediaFormat is the caller audio format, audio/x-mulaw at 8000 Hz mono.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaData carries one base64 audio chunk.
type MediaData struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Audio decodes the payload.
func (m *MediaData) Audio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.Payload)
}

// MarkData names a playback marker.
type MarkData struct {
	Name string `json:"name"`
}

// StopData is sent when the stream ends.
type StopData struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// ParseInbound decodes a Twilio message.
func ParseInbound(data []byte) (*Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("telephony: parse message: %w", err)
	}
	if msg.Event == "" {
		return nil, fmt.Errorf("telephony: message has no event")
	}
	return &msg, nil
}

// Outbound is a message sent to Twilio.
type Outbound struct {
	Event     Event         `json:"event"`
	StreamSid string        `json:"streamSid"`
	Media     *OutboundData `json:"media,omitempty"`
	Mark      *MarkData     `json:"mark,omitempty"`
}

// OutboundData is the base64 μ-law payload of an outbound media message.
type OutboundData struct {
	Payload string `json:"payload"`
}

// NewMediaMessage wraps raw μ-law audio for playback.
func NewMediaMessage(streamSid string, audio []byte) Outbound {
	return Outbound{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &OutboundData{Payload: base64.StdEncoding.EncodeToString(audio)},
	}
}

// NewMarkMessage asks Twilio to echo name back once preceding audio has played.
func NewMarkMessage(streamSid, name string) Outbound {
	return Outbound{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &MarkData{Name: name},
	}
}

// NewClearMessage discards all buffered audio on the Twilio side.
func NewClearMessage(streamSid string) Outbound {
	return Outbound{Event: EventClear, StreamSid: streamSid}
}

// Bytes returns the JSON encoding.
func (o Outbound) Bytes() ([]byte, error) {
	return json.Marshal(o)
}
