package conversation

import (
	"log/slog"
	"time"
)

// Config holds per-session pipeline settings.
type Config struct {
	// SystemPrompt seeds the history. It should ask the model to insert
	// the '•' split marker at natural pauses.
	SystemPrompt string

	// Greeting is spoken when the stream starts and is seeded into the
	// history as the first assistant message.
	Greeting string

	// Model overrides the provider's default model.
	Model string

	// Temperature controls response randomness.
	Temperature float64

	// MaxTokens limits each completion.
	MaxTokens int

	// MaxToolRounds bounds how many times one turn may re-enter the model
	// after a tool call.
	MaxToolRounds int

	// CompletionTimeout bounds each model round.
	CompletionTimeout time.Duration

	// SynthesisTimeout bounds each speech request.
	SynthesisTimeout time.Duration

	// GapTimeout is how long the dispatcher waits on a missing index
	// before skipping it.
	GapTimeout time.Duration

	// MinBargeInChars is the utterance length the caller must exceed to
	// interrupt playback.
	MinBargeInChars int

	// RecordingEnabled starts call recording on Start.
	RecordingEnabled bool

	// TurnQueue bounds queued caller turns.
	TurnQueue int

	// Observer receives session events. Optional.
	Observer Observer

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SystemPrompt:      DefaultSystemPrompt,
		Greeting:          DefaultGreeting,
		Temperature:       0.5,
		MaxTokens:         1024,
		MaxToolRounds:     5,
		CompletionTimeout: 30 * time.Second,
		SynthesisTimeout:  10 * time.Second,
		GapTimeout:        15 * time.Second,
		MinBargeInChars:   5,
		TurnQueue:         16,
		Logger:            slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate fills in zero values that would stall the pipeline.
func (c *Config) Validate() error {
	d := DefaultConfig()
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = d.MaxToolRounds
	}
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = d.CompletionTimeout
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = d.SynthesisTimeout
	}
	if c.GapTimeout <= 0 {
		c.GapTimeout = d.GapTimeout
	}
	if c.MinBargeInChars < 0 {
		c.MinBargeInChars = d.MinBargeInChars
	}
	if c.TurnQueue <= 0 {
		c.TurnQueue = d.TurnQueue
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Option is a functional option for configuring sessions.
type Option func(*Config)

// WithSystemPrompt sets the system instruction.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) {
		c.SystemPrompt = prompt
	}
}

// WithGreeting sets the opening line. An empty greeting keeps the agent
// silent until the caller speaks.
func WithGreeting(text string) Option {
	return func(c *Config) {
		c.Greeting = text
	}
}

// WithModel sets the model name sent with each completion.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithTemperature sets the response temperature.
func WithTemperature(temp float64) Option {
	return func(c *Config) {
		c.Temperature = temp
	}
}

// WithMaxTokens sets the maximum response tokens.
func WithMaxTokens(tokens int) Option {
	return func(c *Config) {
		c.MaxTokens = tokens
	}
}

// WithMaxToolRounds bounds tool re-entry per turn.
func WithMaxToolRounds(n int) Option {
	return func(c *Config) {
		c.MaxToolRounds = n
	}
}

// WithTimeouts sets the completion, synthesis and gap timeouts. Zero
// values keep the defaults.
func WithTimeouts(completion, synthesis, gap time.Duration) Option {
	return func(c *Config) {
		if completion > 0 {
			c.CompletionTimeout = completion
		}
		if synthesis > 0 {
			c.SynthesisTimeout = synthesis
		}
		if gap > 0 {
			c.GapTimeout = gap
		}
	}
}

// WithMinBargeInChars sets the interruption threshold.
func WithMinBargeInChars(n int) Option {
	return func(c *Config) {
		c.MinBargeInChars = n
	}
}

// WithRecording enables call recording.
func WithRecording(enabled bool) Option {
	return func(c *Config) {
		c.RecordingEnabled = enabled
	}
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(c *Config) {
		c.Observer = o
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
