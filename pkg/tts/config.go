package tts

import (
	"log/slog"
	"time"
)

// Config holds TTS provider configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	APIKey  string
	BaseURL string

	// VoiceID is the ElevenLabs voice or the Rime speaker.
	VoiceID string

	// ModelID falls back to the provider's default when empty.
	ModelID       string
	VoiceSettings VoiceSettings

	OutputFormat Encoding

	// OptimizeLatency is ElevenLabs' optimize_streaming_latency (0-4).
	OptimizeLatency int

	// Rime tuning
	SpeedAlpha    float64
	ReduceLatency bool

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring TTS providers.
type Option func(*Config)

// WithAPIKey sets the API key for the provider.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithVoice sets the voice ID (ElevenLabs) or speaker (Rime).
func WithVoice(voiceID string) Option {
	return func(c *Config) { c.VoiceID = voiceID }
}

// WithModel sets the model ID.
func WithModel(modelID string) Option {
	return func(c *Config) { c.ModelID = modelID }
}

// WithOutputFormat sets the audio output format.
func WithOutputFormat(format Encoding) Option {
	return func(c *Config) { c.OutputFormat = format }
}

// WithVoiceSettings sets voice characteristics.
func WithVoiceSettings(settings VoiceSettings) Option {
	return func(c *Config) { c.VoiceSettings = settings }
}

// WithOptimizeLatency sets the ElevenLabs streaming latency optimization level.
func WithOptimizeLatency(level int) Option {
	return func(c *Config) { c.OptimizeLatency = level }
}

// WithSpeed sets the Rime speaking speed multiplier.
func WithSpeed(alpha float64) Option {
	return func(c *Config) { c.SpeedAlpha = alpha }
}

// WithReduceLatency toggles Rime's low latency mode.
func WithReduceLatency(on bool) Option {
	return func(c *Config) { c.ReduceLatency = on }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.Timeout = timeout }
}

// WithRetry configures retry behavior for failed requests.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithLogger sets the structured logger for the provider.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns telephony defaults: μ-law 8kHz with the lowest
// latency settings.
func DefaultConfig() *Config {
	return &Config{
		OutputFormat:    EncodingULaw,
		VoiceSettings:   DefaultVoiceSettings(),
		OptimizeLatency: 4,
		SpeedAlpha:      1.0,
		Timeout:         10 * time.Second,
		MaxRetries:      1,
		RetryDelay:      100 * time.Millisecond,
		Logger:          slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}

// ValidateWithVoice checks that both API key and voice ID are present.
func (c *Config) ValidateWithVoice() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.VoiceID == "" {
		return ErrNoVoiceID
	}
	return nil
}
