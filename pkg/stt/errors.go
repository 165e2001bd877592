package stt

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAPIKey is returned when the API key is missing.
	ErrNoAPIKey = errors.New("stt: API key required")

	// ErrSessionClosed is returned when sending on a closed session.
	ErrSessionClosed = errors.New("stt: session closed")
)

// ConnectError is returned when the recognizer websocket cannot be opened.
type ConnectError struct {
	// StatusCode is the HTTP status of the failed upgrade, 0 if unknown.
	StatusCode int
	Err        error
}

func (e *ConnectError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("stt: connect failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("stt: connect failed: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
