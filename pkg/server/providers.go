package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-callbridge/internal/config"
	"github.com/teslashibe/go-callbridge/pkg/inference"
	"github.com/teslashibe/go-callbridge/pkg/stt"
	"github.com/teslashibe/go-callbridge/pkg/tts"
)

// Profile selects the language model behind a media stream route.
type Profile string

const (
	// ProfileDefault uses OpenAI and falls back to Groq.
	ProfileDefault Profile = "default"

	// ProfileGroq uses Groq only.
	ProfileGroq Profile = "groq"
)

// Providers are the collaborators shared by every call on one profile.
type Providers struct {
	LLM inference.Provider
	TTS tts.Provider
	STT stt.Recognizer
}

// Health checks the language model and voice.
func (p Providers) Health(ctx context.Context) error {
	var errs []error
	if p.LLM != nil {
		if err := p.LLM.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("language model: %w", err))
		}
	}
	if p.TTS != nil {
		if err := p.TTS.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("speech synthesis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases provider resources.
func (p Providers) Close() error {
	var errs []error
	if p.LLM != nil {
		errs = append(errs, p.LLM.Close())
	}
	if p.TTS != nil {
		errs = append(errs, p.TTS.Close())
	}
	return errors.Join(errs...)
}

// BuildProfiles creates the providers for every profile the configured
// keys allow. Speech synthesis and recognition are shared.
func BuildProfiles(cfg *config.Config, logger *slog.Logger) (map[Profile]Providers, error) {
	if logger == nil {
		logger = slog.Default()
	}

	voice, err := buildVoice(cfg, logger)
	if err != nil {
		return nil, err
	}
	ears, err := stt.NewDeepgram(stt.WithAPIKey(cfg.Deepgram), stt.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("speech recognition: %w", err)
	}

	var openai, groq inference.Provider
	if cfg.OpenAI.APIKey != "" {
		openai, err = inference.NewClient(
			inference.WithName("openai"),
			inference.WithAPIKey(cfg.OpenAI.APIKey),
			inference.WithModel(cfg.OpenAI.Model),
			inference.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
	}
	if cfg.Groq.APIKey != "" {
		groq, err = inference.NewClient(
			inference.WithName("groq"),
			inference.WithBaseURL(inference.GroqBaseURL),
			inference.WithAPIKey(cfg.Groq.APIKey),
			inference.WithModel(cfg.Groq.Model),
			inference.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("groq: %w", err)
		}
	}

	profiles := make(map[Profile]Providers)

	var chain []inference.Provider
	for _, p := range []inference.Provider{openai, groq} {
		if p != nil {
			chain = append(chain, p)
		}
	}
	if len(chain) > 0 {
		llm, err := inference.NewChainWithLogger(logger, chain...)
		if err != nil {
			return nil, err
		}
		profiles[ProfileDefault] = Providers{LLM: llm, TTS: voice, STT: ears}
	}
	if groq != nil {
		profiles[ProfileGroq] = Providers{LLM: groq, TTS: voice, STT: ears}
	}

	if len(profiles) == 0 {
		return nil, fmt.Errorf("language model: %w", inference.ErrNoAPIKey)
	}
	return profiles, nil
}

// buildVoice prefers ElevenLabs and falls back to Rime.
func buildVoice(cfg *config.Config, logger *slog.Logger) (tts.Provider, error) {
	var voices []tts.Provider

	if cfg.ElevenLabs.APIKey != "" {
		opts := []tts.Option{
			tts.WithAPIKey(cfg.ElevenLabs.APIKey),
			tts.WithVoice(cfg.ElevenLabs.VoiceID),
			tts.WithLogger(logger),
		}
		if cfg.ElevenLabs.ModelID != "" {
			opts = append(opts, tts.WithModel(cfg.ElevenLabs.ModelID))
		}
		p, err := tts.NewElevenLabs(opts...)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: %w", err)
		}
		voices = append(voices, p)
	}

	if cfg.Rime.APIKey != "" {
		p, err := tts.NewRime(
			tts.WithAPIKey(cfg.Rime.APIKey),
			tts.WithVoice(cfg.Rime.VoiceID),
			tts.WithModel(cfg.Rime.ModelID),
			tts.WithReduceLatency(true),
			tts.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("rime: %w", err)
		}
		voices = append(voices, p)
	}

	switch len(voices) {
	case 0:
		return nil, fmt.Errorf("speech synthesis: %w", tts.ErrNoAPIKey)
	case 1:
		return voices[0], nil
	default:
		return tts.NewChainWithLogger(logger, voices...)
	}
}
