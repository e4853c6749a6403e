package companion

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// ──────────────────────────────────────────────
// Pipeline Configuration
// ──────────────────────────────────────────────

// ErrMissingAPIKey means no generation-service credential was configured.
// The invocation aborts before calling the generation service and writes
// nothing; recovery is operator action, not automatic.
var ErrMissingAPIKey = errors.New("companion: missing generation API key")

// PipelineConfig holds all knobs for one reply pipeline.
// Use DefaultPipelineConfig() for production defaults or
// NewPipelineConfigFromEnv() to load from environment variables.
type PipelineConfig struct {
	// APIKey authenticates outbound generation calls. Required.
	APIKey string
	// Model is the generation model identifier.
	Model string
	// BaseURL is the generation service endpoint (OpenAI-compatible).
	BaseURL string
	// Temperature is the fixed sampling temperature.
	Temperature float32
	// MaxTokens bounds the reply length.
	MaxTokens int
	// GenerateTimeout bounds the generation call. A timeout is treated
	// identically to a service error: the fallback text is written.
	GenerateTimeout time.Duration
	// FallbackText replaces the reply when generation fails.
	FallbackText string
	// Directive is the system directive template. Empty = DefaultDirective.
	Directive string
}

// DefaultPipelineConfig returns production defaults. APIKey is left empty
// and must be supplied by the caller.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Model:           "gpt-4o-mini",
		BaseURL:         "https://api.openai.com/v1",
		Temperature:     0.6,
		MaxTokens:       512,
		GenerateTimeout: 30 * time.Second,
		FallbackText:    DefaultFallbackText,
		Directive:       DefaultDirective,
	}
}

// NewPipelineConfigFromEnv loads configuration from environment variables.
// COMPANION_API_KEY takes precedence over OPENAI_API_KEY; unset knobs keep
// their defaults.
func NewPipelineConfigFromEnv() PipelineConfig {
	cfg := DefaultPipelineConfig()

	cfg.APIKey = getEnv("COMPANION_API_KEY", os.Getenv("OPENAI_API_KEY"))
	cfg.Model = getEnv("COMPANION_MODEL", cfg.Model)
	cfg.BaseURL = getEnv("COMPANION_BASE_URL", cfg.BaseURL)
	cfg.FallbackText = getEnv("COMPANION_FALLBACK_TEXT", cfg.FallbackText)

	if v, err := strconv.Atoi(os.Getenv("COMPANION_MAX_TOKENS")); err == nil && v > 0 {
		cfg.MaxTokens = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("COMPANION_TEMPERATURE"), 32); err == nil {
		cfg.Temperature = float32(v)
	}
	if v, err := strconv.Atoi(os.Getenv("COMPANION_TIMEOUT_SECONDS")); err == nil && v > 0 {
		cfg.GenerateTimeout = time.Duration(v) * time.Second
	}

	return cfg
}

// Validate reports the configuration error class, if any.
func (c PipelineConfig) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
