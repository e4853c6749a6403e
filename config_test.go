package companion

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultPipelineConfig(t *testing.T) {
	cfg := DefaultPipelineConfig()
	if cfg.Model == "" || cfg.BaseURL == "" {
		t.Error("defaults must include model and base URL")
	}
	if cfg.FallbackText != DefaultFallbackText {
		t.Error("default fallback text expected")
	}
	if cfg.GenerateTimeout <= 0 {
		t.Error("generation call must be bounded by default")
	}
}

func TestPipelineConfig_Validate(t *testing.T) {
	cfg := DefaultPipelineConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("empty key must fail validation, got %v", err)
	}
	cfg.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestNewPipelineConfigFromEnv(t *testing.T) {
	t.Setenv("COMPANION_API_KEY", "env-key")
	t.Setenv("COMPANION_MODEL", "gpt-4o")
	t.Setenv("COMPANION_MAX_TOKENS", "256")
	t.Setenv("COMPANION_TIMEOUT_SECONDS", "5")

	cfg := NewPipelineConfigFromEnv()
	if cfg.APIKey != "env-key" {
		t.Errorf("unexpected key %q", cfg.APIKey)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("unexpected model %q", cfg.Model)
	}
	if cfg.MaxTokens != 256 {
		t.Errorf("unexpected max tokens %d", cfg.MaxTokens)
	}
	if cfg.GenerateTimeout != 5*time.Second {
		t.Errorf("unexpected timeout %v", cfg.GenerateTimeout)
	}
}

func TestNewPipelineConfigFromEnv_OpenAIKeyFallback(t *testing.T) {
	t.Setenv("COMPANION_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "openai-key")

	cfg := NewPipelineConfigFromEnv()
	if cfg.APIKey != "openai-key" {
		t.Errorf("expected OPENAI_API_KEY fallback, got %q", cfg.APIKey)
	}
}
