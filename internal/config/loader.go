package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables.
func Load(configPath string) (*Config, *Secrets, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, LoadSecrets(), nil
}

// ApplyDefaults sets default values for optional configuration fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Generation.OutputDir == "" {
		cfg.Generation.OutputDir = "output"
	}
	if cfg.Generation.MinUnitWords == 0 {
		cfg.Generation.MinUnitWords = 300
	}
	if cfg.Generation.TargetUnitWords == 0 {
		cfg.Generation.TargetUnitWords = 1200
	}
	if cfg.Generation.InterUnitDelayMS == 0 {
		cfg.Generation.InterUnitDelayMS = 1000
	}
	if cfg.Generation.RoadmapAttempts == 0 {
		cfg.Generation.RoadmapAttempts = 2
	}
	if cfg.Generation.RoadmapRetryDelayMS == 0 {
		cfg.Generation.RoadmapRetryDelayMS = 3000
	}
	if cfg.Generation.ContextWindowUnits == 0 {
		cfg.Generation.ContextWindowUnits = 2
	}
	if cfg.Generation.ContextWindowWords == 0 {
		cfg.Generation.ContextWindowWords = 120
	}

	if cfg.Retry.MaxUnitAttempts == 0 {
		cfg.Retry.MaxUnitAttempts = 5
	}
	if cfg.Retry.RetryDelayBaseMS == 0 {
		cfg.Retry.RetryDelayBaseMS = 2000
	}
	if cfg.Retry.MaxRetryDelayCapMS == 0 {
		cfg.Retry.MaxRetryDelayCapMS = 30000
	}
	if cfg.Retry.RateLimitDelayBaseMS == 0 {
		cfg.Retry.RateLimitDelayBaseMS = 5000
	}

	if cfg.Provider.RequestTimeoutSeconds == 0 {
		cfg.Provider.RequestTimeoutSeconds = 150
	}
	if cfg.Provider.ConnectRetries == 0 {
		cfg.Provider.ConnectRetries = 3
	}
	if cfg.Provider.ConnectRetryBaseMS == 0 {
		cfg.Provider.ConnectRetryBaseMS = 2000
	}
	if cfg.Provider.SyntheticChunkWords == 0 {
		cfg.Provider.SyntheticChunkWords = 12
	}
	if cfg.Provider.SyntheticChunkDelayMS == 0 {
		cfg.Provider.SyntheticChunkDelayMS = 20
	}

	for name, backend := range cfg.Backends {
		if backend.Temperature == 0 {
			backend.Temperature = 0.7
		}
		if backend.TopP == 0 {
			backend.TopP = 1.0
		}
		if backend.MaxOutputTokens == 0 {
			backend.MaxOutputTokens = 4096
		}
		if backend.RateLimitPerMinute == 0 {
			backend.RateLimitPerMinute = 60
		}
		cfg.Backends[name] = backend
	}
}
