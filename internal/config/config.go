// Package config loads callbridge settings from a YAML file, the
// environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys double as environment variable names once uppercased.
const (
	KeyPort             = "port"
	KeyServer           = "server"
	KeyLogLevel         = "log_level"
	KeyTwilioAccountSid = "twilio_account_sid"
	KeyTwilioAuthToken  = "twilio_auth_token"
	KeyFromNumber       = "from_number"
	KeyOpenAIKey        = "openai_api_key"
	KeyOpenAIModel      = "openai_model"
	KeyGroqKey          = "groq_api_key"
	KeyGroqModel        = "groq_model"
	KeyDeepgramKey      = "deepgram_api_key"
	KeyElevenLabsKey    = "xi_api_key"
	KeyVoiceID          = "voice_id"
	KeyElevenLabsModel  = "xi_model_id"
	KeyRimeKey          = "rem_api_key"
	KeyRimeSpeaker      = "rem_speaker"
	KeyRimeModel        = "rem_model_id"
	KeyRecording        = "recording_enabled"
	KeyDatabaseURL      = "database_url"
	KeyLedgerFile       = "ledger_file"
	KeyDocumentsDir     = "documents_dir"
	KeyGoogleClientID   = "google_client_id"
	KeyGoogleSecret     = "google_client_secret"
	KeyGoogleTokenPath  = "google_token_path"
	KeyGoogleCreds      = "google_credentials_file"
	KeyGreeting         = "greeting"
	KeySystemPrompt     = "system_prompt_file"
	KeyGapTimeout       = "gap_timeout"
)

// ErrNoServer is returned when the public host is not configured.
var ErrNoServer = errors.New("config: SERVER (public host) is required")

// Config is the application configuration.
type Config struct {
	Port     int
	Server   string
	LogLevel string

	Twilio     Twilio
	OpenAI     LLM
	Groq       LLM
	Deepgram   string
	ElevenLabs Voice
	Rime       Voice

	RecordingEnabled bool

	// DatabaseURL selects the Postgres ledger. LedgerFile persists the
	// in-memory ledger when set.
	DatabaseURL string
	LedgerFile  string

	DocumentsDir string
	Google       Google

	Greeting string

	// SystemPrompt is the contents of the system prompt file, if any.
	SystemPrompt string

	GapTimeout time.Duration
}

// Twilio holds REST credentials and the outbound caller id.
type Twilio struct {
	AccountSid string
	AuthToken  string
	FromNumber string
}

// LLM is one OpenAI-compatible endpoint.
type LLM struct {
	APIKey string
	Model  string
}

// Voice is one speech synthesis account.
type Voice struct {
	APIKey  string
	VoiceID string
	ModelID string
}

// Google holds credentials for reading Google Docs.
type Google struct {
	ClientID        string
	ClientSecret    string
	TokenPath       string
	CredentialsFile string
}

// Enabled reports whether any Google credential source is configured.
func (g Google) Enabled() bool {
	return g.CredentialsFile != "" || (g.ClientID != "" && g.TokenPath != "")
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, 8080)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyOpenAIModel, "gpt-4o-mini")
	v.SetDefault(KeyGroqModel, "llama-3.1-8b-instant")
	v.SetDefault(KeyRimeSpeaker, "tanya")
	v.SetDefault(KeyRimeModel, "mist")
	v.SetDefault(KeyRecording, false)
	v.SetDefault(KeyDocumentsDir, "documents")
	v.SetDefault(KeyGapTimeout, 15*time.Second)
}

// New returns a viper instance reading callbridge.yaml from the working
// directory and the environment.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("callbridge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the config file, if present, and decodes v.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	cfg := &Config{
		Port:     v.GetInt(KeyPort),
		Server:   strings.TrimSuffix(stripScheme(v.GetString(KeyServer)), "/"),
		LogLevel: v.GetString(KeyLogLevel),
		Twilio: Twilio{
			AccountSid: v.GetString(KeyTwilioAccountSid),
			AuthToken:  v.GetString(KeyTwilioAuthToken),
			FromNumber: v.GetString(KeyFromNumber),
		},
		OpenAI:   LLM{APIKey: v.GetString(KeyOpenAIKey), Model: v.GetString(KeyOpenAIModel)},
		Groq:     LLM{APIKey: v.GetString(KeyGroqKey), Model: v.GetString(KeyGroqModel)},
		Deepgram: v.GetString(KeyDeepgramKey),
		ElevenLabs: Voice{
			APIKey:  v.GetString(KeyElevenLabsKey),
			VoiceID: v.GetString(KeyVoiceID),
			ModelID: v.GetString(KeyElevenLabsModel),
		},
		Rime: Voice{
			APIKey:  v.GetString(KeyRimeKey),
			VoiceID: v.GetString(KeyRimeSpeaker),
			ModelID: v.GetString(KeyRimeModel),
		},
		RecordingEnabled: v.GetBool(KeyRecording),
		DatabaseURL:      v.GetString(KeyDatabaseURL),
		LedgerFile:       v.GetString(KeyLedgerFile),
		DocumentsDir:     v.GetString(KeyDocumentsDir),
		Google: Google{
			ClientID:        v.GetString(KeyGoogleClientID),
			ClientSecret:    v.GetString(KeyGoogleSecret),
			TokenPath:       v.GetString(KeyGoogleTokenPath),
			CredentialsFile: v.GetString(KeyGoogleCreds),
		},
		Greeting:   v.GetString(KeyGreeting),
		GapTimeout: v.GetDuration(KeyGapTimeout),
	}

	if path := v.GetString(KeySystemPrompt); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read system prompt: %w", err)
		}
		cfg.SystemPrompt = strings.TrimSpace(string(data))
	}
	return cfg, nil
}

// Validate checks the settings needed to serve calls.
func (c *Config) Validate() error {
	if c.Server == "" {
		return ErrNoServer
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func stripScheme(host string) string {
	for _, prefix := range []string{"https://", "http://", "wss://", "ws://"} {
		host = strings.TrimPrefix(host, prefix)
	}
	return host
}
