// Package store keeps a ledger of calls and their transcripts.
//
// Memory is the default backend and can persist to a JSON file. Postgres
// is used when a database URL is configured.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-callbridge/pkg/conversation"
	"github.com/teslashibe/go-callbridge/pkg/inference"
)

// ErrNotFound indicates the call is not in the ledger.
var ErrNotFound = errors.New("store: call not found")

// Call is one ledger entry.
type Call struct {
	ID         uuid.UUID           `json:"id"`
	CallSid    string              `json:"call_sid"`
	StreamSid  string              `json:"stream_sid"`
	StartedAt  time.Time           `json:"started_at"`
	EndedAt    *time.Time          `json:"ended_at,omitempty"`
	Transcript []inference.Message `json:"transcript,omitempty"`
}

// Turns counts caller messages in the transcript.
func (c *Call) Turns() int {
	n := 0
	for _, m := range c.Transcript {
		if m.Role == inference.RoleUser {
			n++
		}
	}
	return n
}

// Store persists calls. It satisfies conversation.Ledger.
type Store interface {
	StartCall(ctx context.Context, callSid, streamSid string) error
	FinishCall(ctx context.Context, callSid string, transcript []inference.Message) error

	// Get returns one call by sid.
	Get(ctx context.Context, callSid string) (*Call, error)

	// List returns the most recent calls first, at most limit of them.
	List(ctx context.Context, limit int) ([]Call, error)

	Close() error
}

// Verify backends implement the session ledger at compile time.
var (
	_ conversation.Ledger = (Store)(nil)
	_ Store               = (*Memory)(nil)
	_ Store               = (*Postgres)(nil)
)
