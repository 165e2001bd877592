package stt

import (
	"log/slog"
	"time"
)

// Config holds recognizer configuration.
type Config struct {
	APIKey string

	// URL is the listen endpoint, wss://api.deepgram.com/v1/listen by default.
	URL string

	Model      string
	Language   string
	Encoding   string
	SampleRate int
	Channels   int

	// Endpointing is the silence in ms that marks speech_final.
	Endpointing int

	// UtteranceEndMs is the gap in ms that produces an UtteranceEnd event.
	UtteranceEndMs int

	KeepAlive        time.Duration
	HandshakeTimeout time.Duration

	Logger *slog.Logger
}

// Option configures a recognizer.
type Option func(*Config)

// WithAPIKey sets the Deepgram API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithURL overrides the listen endpoint.
func WithURL(url string) Option {
	return func(c *Config) { c.URL = url }
}

func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

func WithLanguage(lang string) Option {
	return func(c *Config) { c.Language = lang }
}

func WithEndpointing(ms int) Option {
	return func(c *Config) { c.Endpointing = ms }
}

func WithUtteranceEnd(ms int) Option {
	return func(c *Config) { c.UtteranceEndMs = ms }
}

// WithKeepAlive sets the KeepAlive interval; zero disables it.
func WithKeepAlive(d time.Duration) Option {
	return func(c *Config) { c.KeepAlive = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithAudio sets the input encoding, sample rate and channel count.
func WithAudio(encoding string, sampleRate, channels int) Option {
	return func(c *Config) {
		c.Encoding = encoding
		c.SampleRate = sampleRate
		c.Channels = channels
	}
}

// DefaultConfig matches Twilio media streams: μ-law, 8kHz, mono.
func DefaultConfig() *Config {
	return &Config{
		URL:              "wss://api.deepgram.com/v1/listen",
		Model:            "nova-2",
		Language:         "en",
		Encoding:         "mulaw",
		SampleRate:       8000,
		Channels:         1,
		Endpointing:      200,
		UtteranceEndMs:   1000,
		KeepAlive:        8 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		Logger:           slog.Default(),
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
