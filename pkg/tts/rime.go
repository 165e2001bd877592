package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-callbridge/internal/httpc"
)

const (
	rimeBaseURL  = "https://users.rime.ai/v1"
	providerRime = "rime"

	// DefaultRimeSpeaker and DefaultRimeModel are used when unset.
	DefaultRimeSpeaker = "tanya"
	DefaultRimeModel   = "mist"
)

// Rime implements Provider for the Rime TTS HTTP API. Output is always
// μ-law 8kHz.
type Rime struct {
	config  *Config
	baseURL string
	req     *requester
}

// NewRime creates a Rime provider. The voice option selects the speaker.
func NewRime(opts ...Option) (*Rime, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = DefaultRimeSpeaker
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultRimeModel
	}
	cfg.OutputFormat = EncodingULaw

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = rimeBaseURL
	}

	return &Rime{
		config:  cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		req: &requester{
			provider:   providerRime,
			client:     httpc.NewClient(cfg.Timeout),
			cfg:        cfg,
			logger:     cfg.Logger.With("component", "tts.rime"),
			parseError: parseRimeError,
		},
	}, nil
}

// Synthesize converts text to μ-law audio.
func (r *Rime) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()

	body, err := json.Marshal(rimePayload{
		Speaker:       r.config.VoiceID,
		Text:          text,
		ModelID:       r.config.ModelID,
		SpeedAlpha:    r.config.SpeedAlpha,
		ReduceLatency: r.config.ReduceLatency,
	})
	if err != nil {
		return nil, WrapError(providerRime, fmt.Errorf("marshal payload: %w", err))
	}

	audio, err := r.req.post(ctx, r.baseURL+"/rime-tts", r.headers(), body)
	if err != nil {
		return nil, err
	}

	latency := time.Since(start).Milliseconds()
	r.req.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"speaker", r.config.VoiceID,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    FormatOf(EncodingULaw),
		CharCount: len(text),
		LatencyMs: latency,
		Duration:  EstimateDuration(EncodingULaw, len(audio)),
	}, nil
}

// Health synthesizes a single word. Rime exposes no credential endpoint.
func (r *Rime) Health(ctx context.Context) error {
	_, err := r.Synthesize(ctx, "ok")
	return err
}

// Close releases resources held by the provider.
func (r *Rime) Close() error {
	r.req.client.CloseIdleConnections()
	return nil
}

func (r *Rime) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+r.config.APIKey)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "audio/x-mulaw")
	return h
}

type rimePayload struct {
	Speaker       string  `json:"speaker"`
	Text          string  `json:"text"`
	ModelID       string  `json:"modelId"`
	SpeedAlpha    float64 `json:"speedAlpha"`
	ReduceLatency bool    `json:"reduceLatency"`
}

func parseRimeError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}

	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil {
		if errResp.Message != "" {
			message = errResp.Message
		} else if errResp.Error != "" {
			message = errResp.Error
		}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Provider:   providerRime,
	}
}

// Verify Rime implements Provider at compile time.
var _ Provider = (*Rime)(nil)
