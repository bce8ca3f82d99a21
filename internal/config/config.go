package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string `envconfig:"HTTP_ADDRESS" default:":8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	AssemblyAIKey string `envconfig:"ASSEMBLYAI_API_KEY"`

	// LLMProvider selects the generation backend: "openai" or "gemini".
	LLMProvider string `envconfig:"LLM_PROVIDER" default:"openai"`
	OpenAIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIModel string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	GeminiKey   string `envconfig:"GEMINI_API_KEY"`
	GeminiModel string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`

	// TTSProvider selects the synthesis backend: "deepgram" or "elevenlabs".
	TTSProvider       string `envconfig:"TTS_PROVIDER" default:"deepgram"`
	DeepgramKey       string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramVoice     string `envconfig:"DEEPGRAM_VOICE" default:"aura-2-thalia-en"`
	ElevenLabsKey     string `envconfig:"ELEVENLABS_API_KEY"`
	ElevenLabsVoiceID string `envconfig:"ELEVENLABS_VOICE_ID"`

	// WebhookURL is the delegated-action executor endpoint. Empty disables
	// tool dispatch; detected tool calls are still acknowledged.
	WebhookURL string `envconfig:"WEBHOOK_URL"`

	// RedisURL enables the conversation archive when set.
	RedisURL string `envconfig:"REDIS_URL"`
}

// Load reads .env (if present) and the environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	log.Info().
		Str("addr", cfg.HTTPAddress).
		Str("llm", cfg.LLMProvider).
		Str("tts", cfg.TTSProvider).
		Msg("config loaded")
	return cfg, nil
}

// ValidateSession checks that the credentials a live call needs are present.
// Missing credentials are fatal for a session at start-call time only; the
// server itself starts without them.
func (c Config) ValidateSession() error {
	var missing []string
	if c.AssemblyAIKey == "" {
		missing = append(missing, "ASSEMBLYAI_API_KEY")
	}
	switch c.LLMProvider {
	case "gemini":
		if c.GeminiKey == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	default:
		if c.OpenAIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	}
	switch c.TTSProvider {
	case "elevenlabs":
		if c.ElevenLabsKey == "" {
			missing = append(missing, "ELEVENLABS_API_KEY")
		}
		if c.ElevenLabsVoiceID == "" {
			missing = append(missing, "ELEVENLABS_VOICE_ID")
		}
	default:
		if c.DeepgramKey == "" {
			missing = append(missing, "DEEPGRAM_API_KEY")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c Config) IsProduction() bool { return c.Environment == "production" }
