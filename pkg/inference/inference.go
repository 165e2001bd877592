// Package inference provides a unified interface for streaming chat
// completions with tool calling.
//
// The package abstracts chat completions behind a single Provider interface,
// enabling seamless switching between OpenAI, Groq, Together, vLLM, Ollama and
// any other service that implements the OpenAI-compatible API.
//
// Example usage:
//
//	client, _ := inference.NewClient(
//	    inference.WithBaseURL(inference.GroqBaseURL),
//	    inference.WithAPIKey(os.Getenv("GROQ_API_KEY")),
//	    inference.WithModel("llama-3.1-8b-instant"),
//	)
//	defer client.Close()
//
//	stream, _ := client.Stream(ctx, &inference.ChatRequest{
//	    Messages: []inference.Message{
//	        inference.NewUserMessage("Hello!"),
//	    },
//	})
//	defer stream.Close()
//
//	for {
//	    chunk, err := stream.Recv()
//	    if err != nil || chunk.Done {
//	        break
//	    }
//	    fmt.Print(chunk.Delta)
//	}
package inference

import "context"

// Provider is the unified inference interface.
// All implementations must satisfy this interface.
type Provider interface {
	// Stream generates a streaming response for real-time output.
	Stream(ctx context.Context, req *ChatRequest) (Stream, error)

	// Capabilities returns what features this provider supports.
	Capabilities() Capabilities

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Stream is a streaming response for real-time output.
type Stream interface {
	// Recv returns the next chunk. A chunk with Done set ends the stream;
	// further calls keep returning a Done chunk.
	Recv() (*StreamChunk, error)

	// Close stops the stream and releases resources.
	Close() error
}

// StreamChunk is a piece of a streaming response.
type StreamChunk struct {
	// Delta is the incremental text content.
	Delta string

	// ToolCalls carries incremental tool call fragments. The function name
	// usually arrives once; Arguments arrive as successive JSON text pieces.
	ToolCalls []ToolCallDelta

	// FinishReason indicates why generation stopped (stop, length, tool_calls).
	FinishReason string

	// Done is true when the stream is complete.
	Done bool
}

// ToolCallDelta is one streamed fragment of a tool call.
type ToolCallDelta struct {
	// Index identifies the tool call when the model requests several.
	Index int

	// ID is set on the first fragment of a call.
	ID string

	// Name is set on the first fragment of a call.
	Name string

	// Arguments is the next piece of the JSON argument text.
	Arguments string
}

// Finish reasons reported by OpenAI-compatible APIs.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
)

// Capabilities describes what features a provider supports.
type Capabilities struct {
	Streaming bool // Supports streaming responses
	Tools     bool // Supports function/tool calling
}

// ChatRequest for chat completions.
type ChatRequest struct {
	// Messages is the conversation history.
	Messages []Message

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64

	// TopP controls nucleus sampling.
	TopP float64

	// Stop sequences that halt generation.
	Stop []string

	// Tools available for the model to call.
	Tools []Tool

	// ToolChoice controls tool use: "auto", "none", "required".
	ToolChoice string
}
