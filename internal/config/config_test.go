package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		AssemblyAIKey: "aai",
		LLMProvider:   "openai",
		OpenAIKey:     "oai",
		TTSProvider:   "deepgram",
		DeepgramKey:   "dg",
	}
}

func TestValidateSession_AllPresent(t *testing.T) {
	if err := validConfig().ValidateSession(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateSession_ListsAllMissing(t *testing.T) {
	err := Config{LLMProvider: "openai", TTSProvider: "deepgram"}.ValidateSession()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"ASSEMBLYAI_API_KEY", "OPENAI_API_KEY", "DEEPGRAM_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %s", err, want)
		}
	}
}

func TestValidateSession_GeminiProvider(t *testing.T) {
	cfg := validConfig()
	cfg.LLMProvider = "gemini"
	cfg.OpenAIKey = ""
	err := cfg.ValidateSession()
	if err == nil || !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Fatalf("expected gemini key required, got %v", err)
	}
	cfg.GeminiKey = "gk"
	if err := cfg.ValidateSession(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateSession_ElevenLabsProvider(t *testing.T) {
	cfg := validConfig()
	cfg.TTSProvider = "elevenlabs"
	cfg.DeepgramKey = ""
	err := cfg.ValidateSession()
	if err == nil || !strings.Contains(err.Error(), "ELEVENLABS_API_KEY") ||
		!strings.Contains(err.Error(), "ELEVENLABS_VOICE_ID") {
		t.Fatalf("expected elevenlabs credentials required, got %v", err)
	}
}

func TestIsProduction(t *testing.T) {
	if (Config{Environment: "development"}).IsProduction() {
		t.Fatalf("development is not production")
	}
	if !(Config{Environment: "production"}).IsProduction() {
		t.Fatalf("expected production")
	}
}
