package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/go-callbridge/internal/httpc"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	providerElevenLabs = "elevenlabs"
)

// ElevenLabs model IDs
const (
	// ModelTurboV2_5 is the fastest English model.
	ModelTurboV2_5 = "eleven_turbo_v2_5"

	// ModelFlashV2_5 is the fastest multilingual model.
	ModelFlashV2_5 = "eleven_flash_v2_5"

	// ModelMultilingualV2 is the highest quality multilingual model.
	ModelMultilingualV2 = "eleven_multilingual_v2"
)

// ElevenLabs implements Provider for ElevenLabs TTS.
type ElevenLabs struct {
	config  *Config
	baseURL string
	req     *requester
}

// NewElevenLabs creates a new ElevenLabs TTS provider.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.ValidateWithVoice(); err != nil {
		return nil, err
	}
	if cfg.ModelID == "" {
		cfg.ModelID = ModelTurboV2_5
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}

	e := &ElevenLabs{
		config:  cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
	e.req = &requester{
		provider:   providerElevenLabs,
		client:     httpc.NewClient(cfg.Timeout),
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "tts.elevenlabs"),
		parseError: parseElevenLabsError,
	}
	return e, nil
}

// Synthesize converts text to audio using the streaming endpoint and
// buffers the whole body.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()

	body, err := json.Marshal(elevenLabsPayload{
		Text:    text,
		ModelID: e.config.ModelID,
		VoiceSettings: &elevenLabsVoiceSettings{
			Stability:       e.config.VoiceSettings.Stability,
			SimilarityBoost: e.config.VoiceSettings.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("marshal payload: %w", err))
	}

	audio, err := e.req.post(ctx, e.streamURL(), e.headers(), body)
	if err != nil {
		return nil, err
	}

	latency := time.Since(start).Milliseconds()
	e.req.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"model", e.config.ModelID,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    FormatOf(e.config.OutputFormat),
		CharCount: len(text),
		LatencyMs: latency,
		Duration:  EstimateDuration(e.config.OutputFormat, len(audio)),
	}, nil
}

// Health checks API connectivity and API key validity.
func (e *ElevenLabs) Health(ctx context.Context) error {
	h := http.Header{}
	h.Set("xi-api-key", e.config.APIKey)
	return e.req.get(ctx, e.baseURL+"/user", h)
}

// Close releases resources held by the provider.
func (e *ElevenLabs) Close() error {
	e.req.client.CloseIdleConnections()
	return nil
}

// VoiceID returns the configured voice ID.
func (e *ElevenLabs) VoiceID() string {
	return e.config.VoiceID
}

// ModelID returns the configured model ID.
func (e *ElevenLabs) ModelID() string {
	return e.config.ModelID
}

func (e *ElevenLabs) streamURL() string {
	q := url.Values{}
	q.Set("output_format", string(e.config.OutputFormat))
	q.Set("optimize_streaming_latency", strconv.Itoa(e.config.OptimizeLatency))
	return fmt.Sprintf("%s/text-to-speech/%s/stream?%s", e.baseURL, url.PathEscape(e.config.VoiceID), q.Encode())
}

func (e *ElevenLabs) headers() http.Header {
	h := http.Header{}
	h.Set("xi-api-key", e.config.APIKey)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", mimeType(e.config.OutputFormat))
	return h
}

type elevenLabsPayload struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// parseElevenLabsError reads the {"detail": {...}} error body.
func parseElevenLabsError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Detail struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"detail"`
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    string(body),
		Provider:   providerElevenLabs,
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Detail.Message != "" {
		apiErr.Message = errResp.Detail.Message
		apiErr.Code = errResp.Detail.Status
	}
	return apiErr
}

// mimeType converts the encoding to an Accept value.
func mimeType(enc Encoding) string {
	switch enc {
	case EncodingULaw:
		return "audio/basic"
	case EncodingPCM16, EncodingPCM24:
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}

// Verify ElevenLabs implements Provider at compile time.
var _ Provider = (*ElevenLabs)(nil)
