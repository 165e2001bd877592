package conversation

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the conversation package.
var (
	// ErrSessionEnded indicates an operation on a session that has ended.
	ErrSessionEnded = errors.New("conversation: session ended")

	// ErrSessionActive indicates Start was called on a running session.
	ErrSessionActive = errors.New("conversation: session already active")

	// ErrUnknownTool indicates the model called a function that is not in the manifest.
	ErrUnknownTool = errors.New("conversation: unknown tool")

	// ErrToolRoundsExceeded indicates a turn kept calling tools past the round limit.
	ErrToolRoundsExceeded = errors.New("conversation: too many tool rounds")

	// ErrMissingProvider indicates a required collaborator was not supplied.
	ErrMissingProvider = errors.New("conversation: provider is required")
)

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageCompletion Stage = "completion"
	StageSynthesis  Stage = "synthesis"
)

// ProviderTransportError wraps a model or speech provider failure. The turn
// (completion) or the fragment (synthesis) it belongs to is abandoned.
type ProviderTransportError struct {
	Stage Stage

	// Index is the fragment index, or NoOrder for turn-level failures.
	Index int

	Err error
}

// Error implements the error interface.
func (e *ProviderTransportError) Error() string {
	if e.Index != NoOrder {
		return fmt.Sprintf("conversation: %s failed for fragment %d: %v", e.Stage, e.Index, e.Err)
	}
	return fmt.Sprintf("conversation: %s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ProviderTransportError) Unwrap() error {
	return e.Err
}

// MalformedToolArgumentsError reports a tool call that could not be executed
// because its name or arguments were unusable. The call is dropped.
type MalformedToolArgumentsError struct {
	Function  string
	Arguments string
	Err       error
}

// Error implements the error interface.
func (e *MalformedToolArgumentsError) Error() string {
	return fmt.Sprintf("conversation: bad tool call %s(%s): %v", e.Function, e.Arguments, e.Err)
}

// Unwrap returns the underlying cause.
func (e *MalformedToolArgumentsError) Unwrap() error {
	return e.Err
}

// OrderingGapError is reported when the dispatcher gives up waiting for an
// index and skips it.
type OrderingGapError struct {
	Index  int
	Waited time.Duration
}

// Error implements the error interface.
func (e *OrderingGapError) Error() string {
	return fmt.Sprintf("conversation: fragment %d never arrived after %s, skipped", e.Index, e.Waited)
}

// ToolError wraps a failure returned by a tool handler.
type ToolError struct {
	Function string
	Err      error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return fmt.Sprintf("conversation: tool %s failed: %v", e.Function, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ToolError) Unwrap() error {
	return e.Err
}

// Error checking helpers.

// IsTransport returns true if err came from a model or speech provider.
func IsTransport(err error) bool {
	var te *ProviderTransportError
	return errors.As(err, &te)
}

// IsTimeout returns true if err was caused by a per-request deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, errTimeout)
}

// errTimeout marks errors produced by CompletionTimeout and SynthesisTimeout.
var errTimeout = errors.New("conversation: provider timed out")
