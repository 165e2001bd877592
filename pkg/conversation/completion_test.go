package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-callbridge/pkg/inference"
)

func newTestEngine(llm inference.Provider, tools *Toolset, opts ...Option) (*Engine, chan Fragment) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	out := make(chan Fragment, 64)
	e, err := NewEngine(llm, tools, out, cfg)
	if err != nil {
		panic(err)
	}
	return e, out
}

func drainFragments(ch chan Fragment) []Fragment {
	var out []Fragment
	for {
		select {
		case f := <-ch:
			out = append(out, f)
		default:
			return out
		}
	}
}

func fragmentTexts(fs []Fragment) string {
	texts := make([]string, len(fs))
	for i, f := range fs {
		texts[i] = f.Text
	}
	return strings.Join(texts, "|")
}

func TestEngineSegmentation(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{name: "split across chunks", chunks: []string{"Hello•", " there•", " friend"}, want: "Hello|there|friend"},
		{name: "single chunk", chunks: []string{"Hello• there• friend"}, want: "Hello|there|friend"},
		{name: "marker mid chunk", chunks: []string{"Hel", "lo• th", "ere• friend"}, want: "Hello|there|friend"},
		{name: "empty segments dropped", chunks: []string{"•• Hello ••", " • there"}, want: "Hello|there"},
		{name: "no marker", chunks: []string{"Just one ", "sentence."}, want: "Just one sentence."},
		{name: "only markers", chunks: []string{"• •"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := inference.NewScriptedMock(inference.TextChunks(tt.chunks...))
			e, out := newTestEngine(llm, nil)

			if err := e.Submit(context.Background(), "hi", 0, inference.RoleUser, ""); err != nil {
				t.Fatalf("submit failed: %v", err)
			}

			frags := drainFragments(out)
			if got := fragmentTexts(frags); got != tt.want {
				t.Errorf("fragments = %q, want %q", got, tt.want)
			}
			for i, f := range frags {
				if f.Index != i {
					t.Errorf("fragment %d has index %d", i, f.Index)
				}
			}
		})
	}
}

func TestEngineIndicesIncreaseAcrossTurns(t *testing.T) {
	llm := inference.NewScriptedMock(
		inference.TextChunks("One• two"),
		inference.TextChunks("three• four"),
	)
	e, out := newTestEngine(llm, nil)
	ctx := context.Background()

	e.Submit(ctx, "first", 0, inference.RoleUser, "")
	e.Submit(ctx, "second", 1, inference.RoleUser, "")

	frags := drainFragments(out)
	if len(frags) != 4 {
		t.Fatalf("expected 4 fragments, got %d", len(frags))
	}
	for i, f := range frags {
		if f.Index != i {
			t.Errorf("fragment %q index %d, want %d", f.Text, f.Index, i)
		}
	}
	if frags[0].Interaction != 0 || frags[3].Interaction != 1 {
		t.Errorf("interaction not carried: %+v", frags)
	}
	if e.NextIndex() != 4 {
		t.Errorf("expected next index 4, got %d", e.NextIndex())
	}
}

func TestEngineHistory(t *testing.T) {
	llm := inference.NewScriptedMock(inference.TextChunks("Sure• I can help"))
	e, _ := newTestEngine(llm, nil, WithSystemPrompt("be brief"), WithGreeting("Hi there"))
	e.AddSystemMessage("callSid: CA123")

	if err := e.Submit(context.Background(), "I need help", 0, inference.RoleUser, ""); err != nil {
		t.Fatal(err)
	}

	h := e.History()
	want := []inference.Message{
		inference.NewSystemMessage("be brief"),
		inference.NewAssistantMessage("Hi there"),
		inference.NewSystemMessage("callSid: CA123"),
		inference.NewUserMessage("I need help"),
		inference.NewAssistantMessage("Sure• I can help"),
	}
	if len(h) != len(want) {
		t.Fatalf("history length %d, want %d: %+v", len(h), len(want), h)
	}
	for i := range want {
		if h[i].Role != want[i].Role || h[i].Content != want[i].Content || h[i].Name != "" {
			t.Errorf("history[%d] = %+v, want %+v", i, h[i], want[i])
		}
	}

	req := llm.Requests()[0]
	if len(req.Messages) != 4 {
		t.Errorf("model should see the history up to the user turn, got %d messages", len(req.Messages))
	}
}

func TestEngineEmptyReplyNotRecorded(t *testing.T) {
	llm := inference.NewScriptedMock(inference.TextChunks("  "))
	e, _ := newTestEngine(llm, nil, WithSystemPrompt(""), WithGreeting(""))

	e.Submit(context.Background(), "hello", 0, inference.RoleUser, "")
	if h := e.History(); len(h) != 1 {
		t.Errorf("blank reply should not be appended, history %+v", h)
	}
}

func lookupTool(calls *atomic.Int32, got *json.RawMessage) Tool {
	return Tool{
		Name:        "read_document",
		Description: "Read a company document",
		Parameters:  map[string]any{"type": "object"},
		Say:         "Let me check that for you.",
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			calls.Add(1)
			*got = args
			return `{"content":"Returns within 30 days"}`, nil
		},
	}
}

func TestEngineToolRoundTrip(t *testing.T) {
	var calls atomic.Int32
	var args json.RawMessage
	tools := NewToolset(lookupTool(&calls, &args))

	llm := inference.NewScriptedMock(
		inference.ToolCallChunks("read_document", `{"document_name":`, `"returns"}`),
		inference.TextChunks("You can return it• within 30 days"),
	)
	e, out := newTestEngine(llm, tools, WithSystemPrompt(""), WithGreeting(""))

	if err := e.Submit(context.Background(), "what is the return policy", 3, inference.RoleUser, ""); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if calls.Load() != 1 {
		t.Fatalf("tool should run once, ran %d times", calls.Load())
	}
	if string(args) != `{"document_name":"returns"}` {
		t.Errorf("tool got args %s", args)
	}

	frags := drainFragments(out)
	if got := fragmentTexts(frags); got != "Let me check that for you.|You can return it|within 30 days" {
		t.Fatalf("unexpected fragments %q", got)
	}
	if frags[0].Index != NoOrder {
		t.Errorf("filler should bypass ordering, got index %d", frags[0].Index)
	}
	if frags[1].Index != 0 || frags[2].Index != 1 {
		t.Errorf("reply indices %d,%d", frags[1].Index, frags[2].Index)
	}
	for _, f := range frags {
		if f.Interaction != 3 {
			t.Errorf("interaction changed to %d during tool round", f.Interaction)
		}
	}

	var functionMsgs int
	for _, m := range e.History() {
		if m.Role == inference.RoleFunction {
			functionMsgs++
			if m.Name != "read_document" || !strings.Contains(m.Content, "30 days") {
				t.Errorf("unexpected function message %+v", m)
			}
		}
	}
	if functionMsgs != 1 {
		t.Errorf("expected exactly one function message, got %d", functionMsgs)
	}

	reqs := llm.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected the model to be re-entered once, got %d requests", len(reqs))
	}
	if len(reqs[0].Tools) != 1 || reqs[0].Tools[0].Function.Name != "read_document" {
		t.Errorf("tool manifest not sent: %+v", reqs[0].Tools)
	}
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	if last.Role != inference.RoleFunction {
		t.Errorf("second round should end with the function result, got %+v", last)
	}
}

func TestEngineMalformedToolCall(t *testing.T) {
	tests := []struct {
		name   string
		chunks []inference.StreamChunk
	}{
		{name: "invalid json", chunks: inference.ToolCallChunks("read_document", `{"document_name": "ret`)},
		{name: "unknown function", chunks: inference.ToolCallChunks("launch_rocket", `{}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			var args json.RawMessage
			tools := NewToolset(lookupTool(&calls, &args))

			llm := inference.NewScriptedMock(tt.chunks, inference.TextChunks("should not run"))
			e, out := newTestEngine(llm, tools)

			if err := e.Submit(context.Background(), "hi", 0, inference.RoleUser, ""); err != nil {
				t.Fatalf("malformed calls end the turn quietly, got %v", err)
			}
			if calls.Load() != 0 {
				t.Error("tool must not run")
			}
			if frags := drainFragments(out); len(frags) != 0 {
				t.Errorf("no fragments expected, got %+v", frags)
			}
			if llm.CallCount("Stream") != 1 {
				t.Errorf("model must not be retried, streamed %d times", llm.CallCount("Stream"))
			}
		})
	}
}

func TestEngineToolFailure(t *testing.T) {
	boom := errors.New("disk on fire")
	tools := NewToolset(Tool{
		Name: "read_document",
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", boom
		},
	})
	llm := inference.NewScriptedMock(inference.ToolCallChunks("read_document", `{}`))
	e, _ := newTestEngine(llm, tools)

	err := e.Submit(context.Background(), "hi", 0, inference.RoleUser, "")
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || !errors.Is(err, boom) {
		t.Fatalf("expected ToolError wrapping cause, got %v", err)
	}
	if toolErr.Function != "read_document" {
		t.Errorf("unexpected function %q", toolErr.Function)
	}
}

func TestEngineToolRoundsBounded(t *testing.T) {
	var calls atomic.Int32
	var args json.RawMessage
	tools := NewToolset(lookupTool(&calls, &args))

	llm := inference.NewScriptedMock(inference.ToolCallChunks("read_document", `{}`))
	e, _ := newTestEngine(llm, tools, WithMaxToolRounds(2))

	err := e.Submit(context.Background(), "loop forever", 0, inference.RoleUser, "")
	if !errors.Is(err, ErrToolRoundsExceeded) {
		t.Fatalf("expected ErrToolRoundsExceeded, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 tool runs, got %d", calls.Load())
	}
}

func TestEngineTextBeforeToolCall(t *testing.T) {
	var calls atomic.Int32
	var args json.RawMessage
	tools := NewToolset(lookupTool(&calls, &args))

	first := append(inference.TextChunks("One moment"), inference.ToolCallChunks("read_document", `{}`)...)
	first[0].FinishReason, first[0].Done = "", false

	llm := inference.NewScriptedMock(first, inference.TextChunks("Found it"))
	e, out := newTestEngine(llm, tools)

	if err := e.Submit(context.Background(), "hi", 0, inference.RoleUser, ""); err != nil {
		t.Fatal(err)
	}
	if got := fragmentTexts(drainFragments(out)); got != "One moment|Let me check that for you.|Found it" {
		t.Errorf("unexpected fragments %q", got)
	}

	var turn []string
	for _, m := range e.History() {
		if m.Role == inference.RoleSystem {
			continue
		}
		turn = append(turn, string(m.Role)+":"+m.Content)
	}
	if len(turn) < 4 {
		t.Fatalf("history too short: %v", turn)
	}
	got := strings.Join(turn[len(turn)-4:], "|")
	want := `user:hi|assistant:One moment|function:{"content":"Returns within 30 days"}|assistant:Found it`
	if got != want {
		t.Errorf("history\n got %s\nwant %s", got, want)
	}
}

func TestEngineNonObjectToolArguments(t *testing.T) {
	for _, raw := range []string{`[]`, `"returns"`, `42`} {
		t.Run(raw, func(t *testing.T) {
			var calls atomic.Int32
			var args json.RawMessage
			tools := NewToolset(lookupTool(&calls, &args))

			llm := inference.NewScriptedMock(inference.ToolCallChunks("read_document", raw), inference.TextChunks("Done"))
			e, _ := newTestEngine(llm, tools)

			if err := e.Submit(context.Background(), "hi", 0, inference.RoleUser, ""); err != nil {
				t.Fatalf("submit failed: %v", err)
			}
			if calls.Load() != 1 || string(args) != raw {
				t.Errorf("tool should run once with %s, ran %d times with %s", raw, calls.Load(), args)
			}
		})
	}
}

func TestEngineTransportError(t *testing.T) {
	t.Run("stream open fails", func(t *testing.T) {
		cause := errors.New("connection refused")
		e, _ := newTestEngine(inference.WithError(cause), nil)

		err := e.Submit(context.Background(), "hi", 0, inference.RoleUser, "")
		var te *ProviderTransportError
		if !errors.As(err, &te) || te.Stage != StageCompletion || !errors.Is(err, cause) {
			t.Fatalf("expected completion transport error, got %v", err)
		}
		if !IsTransport(err) {
			t.Error("IsTransport should match")
		}
	})

	t.Run("stream breaks mid reply", func(t *testing.T) {
		llm := inference.NewMock()
		llm.StreamFunc = func(ctx context.Context, req *inference.ChatRequest) (inference.Stream, error) {
			s := inference.NewScriptedStream(inference.TextChunks("First part• second", " part")...)
			s.FailAt = 1
			s.FailErr = errors.New("reset by peer")
			return s, nil
		}
		e, out := newTestEngine(llm, nil)

		err := e.Submit(context.Background(), "hi", 0, inference.RoleUser, "")
		if !IsTransport(err) {
			t.Fatalf("expected transport error, got %v", err)
		}
		if got := fragmentTexts(drainFragments(out)); got != "First part" {
			t.Errorf("segments before the failure should be kept, got %q", got)
		}
	})

	t.Run("round timeout", func(t *testing.T) {
		llm := inference.NewMock()
		llm.StreamFunc = func(ctx context.Context, req *inference.ChatRequest) (inference.Stream, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		e, _ := newTestEngine(llm, nil, WithTimeouts(20*time.Millisecond, 0, 0))

		err := e.Submit(context.Background(), "hi", 0, inference.RoleUser, "")
		if !IsTransport(err) || !IsTimeout(err) {
			t.Fatalf("expected timed out transport error, got %v", err)
		}
	})

	t.Run("cancelled call", func(t *testing.T) {
		llm := inference.NewMock()
		llm.StreamFunc = func(ctx context.Context, req *inference.ChatRequest) (inference.Stream, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		e, _ := newTestEngine(llm, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := e.Submit(ctx, "hi", 0, inference.RoleUser, "")
		if !errors.Is(err, context.Canceled) || IsTransport(err) {
			t.Fatalf("cancellation should not be a transport error, got %v", err)
		}
	})
}

func TestNewMessage(t *testing.T) {
	if m := newMessage(inference.RoleUser, "user", "hi"); m.Name != "" {
		t.Errorf("user messages carry no name: %+v", m)
	}
	if m := newMessage(inference.RoleFunction, "read_document", "{}"); m.Name != "read_document" || m.Role != inference.RoleFunction {
		t.Errorf("unexpected function message %+v", m)
	}
}
