package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-callbridge/pkg/inference"
)

// Engine turns caller text into a stream of speakable fragments. It owns
// the conversation history and the fragment index counter for one call.
//
// Submit is not safe for concurrent use; the session runs turns one at a
// time. History and AddSystemMessage may be called from any goroutine.
type Engine struct {
	llm    inference.Provider
	tools  *Toolset
	out    chan<- Fragment
	cfg    *Config
	logger *slog.Logger
	notify func(Event)

	mu      sync.Mutex
	history []inference.Message
	next    int
}

// NewEngine creates an engine that writes fragments to out. The history is
// seeded with the system prompt and the greeting.
func NewEngine(llm inference.Provider, tools *Toolset, out chan<- Fragment, cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		llm:    llm,
		tools:  tools,
		out:    out,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "conversation.engine"),
	}
	if cfg.SystemPrompt != "" {
		e.history = append(e.history, inference.NewSystemMessage(cfg.SystemPrompt))
	}
	if cfg.Greeting != "" {
		e.history = append(e.history, inference.NewAssistantMessage(cfg.Greeting))
	}
	return e, nil
}

// AddSystemMessage appends a system message to the history.
func (e *Engine) AddSystemMessage(text string) {
	e.appendMessage(inference.NewSystemMessage(text))
}

// History returns a copy of the conversation so far.
func (e *Engine) History() []inference.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]inference.Message(nil), e.history...)
}

// NextIndex returns the index the next fragment will get.
func (e *Engine) NextIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next
}

// Submit runs one turn. text is appended to the history under role (and
// name, for function results), then the model is streamed until it stops.
// Tool calls are executed in place and the model is re-entered, up to
// MaxToolRounds times.
func (e *Engine) Submit(ctx context.Context, text string, interaction int, role inference.Role, name string) error {
	e.appendMessage(newMessage(role, name, text))

	for executed := 0; ; executed++ {
		call, err := e.round(ctx, interaction)
		if err != nil {
			return err
		}
		if call == nil {
			return nil
		}
		if executed >= e.cfg.MaxToolRounds {
			return ErrToolRoundsExceeded
		}

		result, ok, err := e.runTool(ctx, call, interaction)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		e.appendMessage(inference.NewFunctionMessage(call.name, result))
	}
}

// pendingCall accumulates a streamed tool call.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// round streams one completion. It returns the tool call the model asked
// for, or nil when the model finished speaking.
func (e *Engine) round(ctx context.Context, interaction int) (*pendingCall, error) {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.CompletionTimeout)
	defer cancel()

	stream, err := e.llm.Stream(rctx, e.request())
	if err != nil {
		return nil, e.transportError(ctx, rctx, err)
	}
	defer stream.Close()

	var (
		buf  strings.Builder
		full strings.Builder
		call *pendingCall
	)

	for {
		chunk, err := stream.Recv()
		if err != nil {
			return nil, e.transportError(ctx, rctx, err)
		}

		if chunk.Delta != "" {
			buf.WriteString(chunk.Delta)
			full.WriteString(chunk.Delta)
			if err := e.flush(ctx, &buf, interaction, false); err != nil {
				return nil, err
			}
		}

		for _, tc := range chunk.ToolCalls {
			if tc.Index != 0 {
				e.logger.Debug("ignoring parallel tool call", "index", tc.Index, "name", tc.Name)
				continue
			}
			if call == nil {
				call = &pendingCall{}
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Name != "" {
				call.name = tc.Name
			}
			call.args.WriteString(tc.Arguments)
		}

		if chunk.Done || chunk.FinishReason != "" {
			break
		}
	}

	// Text spoken before a tool call is still said, and still recorded.
	if err := e.flush(ctx, &buf, interaction, true); err != nil {
		return nil, err
	}
	if text := strings.TrimSpace(full.String()); text != "" {
		e.appendMessage(inference.NewAssistantMessage(text))
	}
	return call, nil
}

// flush emits every completed segment in buf. A final flush also emits
// the trailing partial segment.
func (e *Engine) flush(ctx context.Context, buf *strings.Builder, interaction int, final bool) error {
	text := buf.String()
	if !final && !strings.Contains(text, SplitMarker) {
		return nil
	}

	parts := strings.Split(text, SplitMarker)
	buf.Reset()
	if !final {
		buf.WriteString(parts[len(parts)-1])
		parts = parts[:len(parts)-1]
	}

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if err := e.emit(ctx, Fragment{Index: e.nextIndex(), Text: p, Interaction: interaction}); err != nil {
			return err
		}
	}
	return nil
}

// runTool validates and executes a tool call. ok is false when the call
// was dropped as malformed.
func (e *Engine) runTool(ctx context.Context, call *pendingCall, interaction int) (result string, ok bool, err error) {
	argText := call.args.String()

	tool, found := e.tools.Lookup(call.name)
	if !found || tool.Handler == nil {
		e.logger.Warn("dropping tool call", "error", &MalformedToolArgumentsError{
			Function:  call.name,
			Arguments: argText,
			Err:       ErrUnknownTool,
		})
		return "", false, nil
	}

	// Any JSON value is accepted; the handler decides what shape it needs.
	var args any
	if err := json.Unmarshal([]byte(argText), &args); err != nil {
		e.logger.Warn("dropping tool call", "error", &MalformedToolArgumentsError{
			Function:  call.name,
			Arguments: argText,
			Err:       err,
		})
		return "", false, nil
	}

	e.publish(Event{Type: EventToolCall, Index: NoOrder, Interaction: interaction, Text: call.name})

	if tool.Say != "" {
		if err := e.emit(ctx, Fragment{Index: NoOrder, Text: tool.Say, Interaction: interaction}); err != nil {
			return "", false, err
		}
	}

	start := time.Now()
	result, err = tool.Handler(ctx, json.RawMessage(argText))
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", false, &ToolError{Function: call.name, Err: err}
	}
	e.logger.Debug("tool executed", "name", call.name, "duration", time.Since(start))
	return result, true, nil
}

func (e *Engine) request() *inference.ChatRequest {
	return &inference.ChatRequest{
		Messages:    e.History(),
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		Tools:       e.tools.Manifest(),
	}
}

// transportError classifies a stream failure. A cancelled call context is
// returned as is so the session can stay quiet about it.
func (e *Engine) transportError(ctx, rctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(rctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", errTimeout, e.cfg.CompletionTimeout, err)
	}
	return &ProviderTransportError{Stage: StageCompletion, Index: NoOrder, Err: err}
}

func (e *Engine) emit(ctx context.Context, f Fragment) error {
	select {
	case e.out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) nextIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.next
	e.next++
	return i
}

func (e *Engine) appendMessage(m inference.Message) {
	e.mu.Lock()
	e.history = append(e.history, m)
	e.mu.Unlock()
}

func (e *Engine) publish(ev Event) {
	if e.notify != nil {
		e.notify(ev)
	}
}

func newMessage(role inference.Role, name, text string) inference.Message {
	switch role {
	case "", inference.RoleUser:
		return inference.NewUserMessage(text)
	case inference.RoleFunction:
		return inference.NewFunctionMessage(name, text)
	default:
		return inference.Message{Role: role, Name: name, Content: text}
	}
}
