// Package monitor fans live call events out to dashboard websocket clients
// and keeps running counters for the status endpoint.
package monitor

import (
	"encoding/json"

	"github.com/teslashibe/go-callbridge/pkg/conversation"
)

// Message is one encoded frame queued for clients.
type Message struct {
	Data []byte
}

// NewEventMessage encodes a session event. The error string is taken from
// Err when the caller left Error empty.
func NewEventMessage(ev conversation.Event) (Message, error) {
	if ev.Error == "" && ev.Err != nil {
		ev.Error = ev.Err.Error()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return Message{}, err
	}
	return Message{Data: data}, nil
}
