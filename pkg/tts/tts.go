// Package tts converts reply fragments into telephony-ready speech.
//
// Providers return μ-law 8 kHz mono audio by default, which Twilio media
// streams accept without transcoding. ElevenLabs and Rime are supported, and
// Chain falls back between them.
//
//	provider, _ := tts.NewElevenLabs(
//	    tts.WithAPIKey(os.Getenv("XI_API_KEY")),
//	    tts.WithVoice(os.Getenv("VOICE_ID")),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, "One moment while I check.")
//	// result.Audio holds raw μ-law bytes
package tts

import (
	"context"
	"time"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio, returning the complete buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity and credentials.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult is one complete synthesis.
type AudioResult struct {
	Audio     []byte
	Format    AudioFormat
	Duration  time.Duration
	CharCount int

	// LatencyMs is the time until the full body was read.
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int

	// BitDepth is bits per sample after decoding (8 for μ-law).
	BitDepth int
}

// Encoding names an output format using ElevenLabs identifiers.
type Encoding string

const (
	EncodingULaw  Encoding = "ulaw_8000"     // μ-law 8kHz, telephony
	EncodingPCM16 Encoding = "pcm_16000"     // 16kHz mono PCM16
	EncodingPCM24 Encoding = "pcm_24000"     // 24kHz mono PCM16
	EncodingMP3   Encoding = "mp3_44100_128" // MP3 128kbps
)

// VoiceSettings controls ElevenLabs voice characteristics.
type VoiceSettings struct {
	// Stability controls voice consistency (0.0-1.0).
	Stability float64

	// SimilarityBoost controls closeness to the original voice (0.0-1.0).
	SimilarityBoost float64
}

// DefaultVoiceSettings returns sensible defaults for voice synthesis.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
	}
}

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingULaw:
		return 8000
	case EncodingPCM16:
		return 16000
	case EncodingPCM24:
		return 24000
	case EncodingMP3:
		return 44100
	default:
		return 8000
	}
}

// bytesPerSample returns the encoded sample width.
func bytesPerSample(enc Encoding) int {
	switch enc {
	case EncodingPCM16, EncodingPCM24:
		return 2
	default:
		return 1
	}
}

// FormatOf returns mono format metadata for an encoding.
func FormatOf(enc Encoding) AudioFormat {
	return AudioFormat{
		Encoding:   enc,
		SampleRate: SampleRateFromEncoding(enc),
		Channels:   1,
		BitDepth:   bytesPerSample(enc) * 8,
	}
}

// EstimateDuration estimates playback length of raw audio. MP3 is not
// estimated and returns zero.
func EstimateDuration(enc Encoding, n int) time.Duration {
	if enc == EncodingMP3 {
		return 0
	}
	samples := n / bytesPerSample(enc)
	return time.Duration(samples) * time.Second / time.Duration(SampleRateFromEncoding(enc))
}
