package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lamim/lessonforge/internal/retry"
)

// Config represents the complete application configuration.
type Config struct {
	Generation      GenerationConfig         `toml:"generation"`
	Provider        ProviderConfig           `toml:"provider"`
	Backends        map[string]BackendConfig `toml:"backends"`
	Retry           RetryConfig              `toml:"retry"`
	PromptTemplates PromptTemplates          `toml:"prompt_templates"`
}

// GenerationConfig holds pipeline-level settings.
type GenerationConfig struct {
	OutputDir           string `toml:"output_dir"`
	MinUnitWords        int    `toml:"min_unit_words"`        // Units shorter than this are rejected as too short
	TargetUnitWords     int    `toml:"target_unit_words"`     // Assumed length used for progress estimation
	InterUnitDelayMS    int    `toml:"inter_unit_delay_ms"`   // Pause between successive units
	RoadmapAttempts     int    `toml:"roadmap_attempts"`      // Whole-stage attempts for roadmap generation
	RoadmapRetryDelayMS int    `toml:"roadmap_retry_delay_ms"`
	ContextWindowUnits  int    `toml:"context_window_units"` // Recent completed units fed into the next prompt
	ContextWindowWords  int    `toml:"context_window_words"` // Leading words taken from each context unit
}

// RetryConfig holds the unit-level retry policy settings.
type RetryConfig struct {
	MaxUnitAttempts      int `toml:"max_unit_attempts"`
	RetryDelayBaseMS     int `toml:"retry_delay_base_ms"`
	MaxRetryDelayCapMS   int `toml:"max_retry_delay_cap_ms"`
	RateLimitDelayBaseMS int `toml:"rate_limit_delay_base_ms"`
}

// Policy builds the retry policy from configuration.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:        r.MaxUnitAttempts,
		RetryDelayBase:     time.Duration(r.RetryDelayBaseMS) * time.Millisecond,
		MaxRetryDelayCap:   time.Duration(r.MaxRetryDelayCapMS) * time.Millisecond,
		RateLimitDelayBase: time.Duration(r.RateLimitDelayBaseMS) * time.Millisecond,
	}
}

// ProviderConfig selects and tunes the active text-generation backend.
type ProviderConfig struct {
	Backend               string `toml:"backend"` // Key into Backends
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	ConnectRetries        int    `toml:"connect_retries"`        // Gateway-internal attempts for 429/503
	ConnectRetryBaseMS    int    `toml:"connect_retry_base_ms"`  // Base delay for the gateway-internal backoff
	SyntheticChunkWords   int    `toml:"synthetic_chunk_words"`  // Chunk size when rebroadcasting non-streamed output
	SyntheticChunkDelayMS int    `toml:"synthetic_chunk_delay_ms"`
}

// BackendConfig represents one text-generation service endpoint.
type BackendConfig struct {
	BaseURL            string  `toml:"base_url"`
	ModelName          string  `toml:"model_name"`
	Temperature        float64 `toml:"temperature"`
	TopP               float64 `toml:"top_p"`
	MaxOutputTokens    int     `toml:"max_output_tokens"`
	RateLimitPerMinute int     `toml:"rate_limit_per_minute"`
	UseStreaming       bool    `toml:"use_streaming"`
}

// PromptTemplates holds the customizable prompt templates. Empty fields fall
// back to the built-in defaults.
type PromptTemplates struct {
	Roadmap      string `toml:"roadmap"`
	Unit         string `toml:"unit"`
	UnitSystem   string `toml:"unit_system"`
	Introduction string `toml:"introduction"`
	Summary      string `toml:"summary"`
	Glossary     string `toml:"glossary"`
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Generation.MinUnitWords < 1 {
		return fmt.Errorf("generation.min_unit_words must be at least 1")
	}
	if c.Generation.TargetUnitWords < c.Generation.MinUnitWords {
		return fmt.Errorf("generation.target_unit_words (%d) must not be below min_unit_words (%d)",
			c.Generation.TargetUnitWords, c.Generation.MinUnitWords)
	}
	if c.Generation.RoadmapAttempts < 1 {
		return fmt.Errorf("generation.roadmap_attempts must be at least 1")
	}
	if c.Retry.MaxUnitAttempts < 1 {
		return fmt.Errorf("retry.max_unit_attempts must be at least 1")
	}

	for name, backend := range c.Backends {
		if backend.BaseURL == "" {
			return fmt.Errorf("backends.%s.base_url is required", name)
		}
		if backend.ModelName == "" {
			return fmt.Errorf("backends.%s.model_name is required", name)
		}
		if backend.Temperature < 0 || backend.Temperature > 2 {
			return fmt.Errorf("backends.%s.temperature must be between 0 and 2", name)
		}
		if backend.TopP < 0 || backend.TopP > 1 {
			return fmt.Errorf("backends.%s.top_p must be between 0 and 1", name)
		}
		if backend.MaxOutputTokens < 1 {
			return fmt.Errorf("backends.%s.max_output_tokens must be at least 1", name)
		}
	}

	return nil
}

// Secrets holds sensitive credentials loaded from environment variables.
type Secrets struct {
	APIKeys map[string]string
}

// LoadSecrets loads API keys from environment variables.
func LoadSecrets() *Secrets {
	secrets := &Secrets{
		APIKeys: make(map[string]string),
	}

	if key := os.Getenv("API_KEY"); key != "" {
		secrets.APIKeys["generic"] = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		secrets.APIKeys["openai"] = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		secrets.APIKeys["gemini"] = key
	}
	if key := os.Getenv("TOGETHER_API_KEY"); key != "" {
		secrets.APIKeys["together"] = key
	}

	return secrets
}

// GetAPIKey returns the API key for a given backend base URL, falling back to
// the generic API_KEY for OpenAI-compatible providers without a specific key.
func (s *Secrets) GetAPIKey(baseURL string) string {
	if strings.Contains(baseURL, "openai.com") {
		if key := s.APIKeys["openai"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "googleapis.com") {
		if key := s.APIKeys["gemini"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "together.xyz") || strings.Contains(baseURL, "together.ai") {
		if key := s.APIKeys["together"]; key != "" {
			return key
		}
	}

	return s.APIKeys["generic"]
}
