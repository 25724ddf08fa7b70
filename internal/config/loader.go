package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "tradestream"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/tradestream.db"
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = "127.0.0.1:8091"
	}
	if cfg.Chat.BaseURL == "" {
		cfg.Chat.BaseURL = "http://" + cfg.Server.Listen
	}
	if cfg.Chat.Path == "" {
		cfg.Chat.Path = "/api/chat"
	}
	if cfg.Chat.Token == "" {
		cfg.Chat.Token = cfg.Server.Token
	}
	if cfg.Chat.Timeout == 0 {
		cfg.Chat.Timeout = 30 * time.Second
	}
	if cfg.Chat.RequestsPerMinute == 0 {
		cfg.Chat.RequestsPerMinute = 20
	}
	if cfg.Chat.Burst == 0 {
		cfg.Chat.Burst = 3
	}
	if cfg.Chat.Breaker.MaxFailures == 0 {
		cfg.Chat.Breaker.MaxFailures = 5
	}
	if cfg.Chat.Breaker.Timeout == 0 {
		cfg.Chat.Breaker.Timeout = 30 * time.Second
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if err := checkResolved("server.token", cfg.Server.Token); err != nil {
		return err
	}
	if err := checkResolved("chat.token", cfg.Chat.Token); err != nil {
		return err
	}
	if cfg.Chat.Timeout < 0 {
		return fmt.Errorf("chat.timeout must not be negative")
	}
	if cfg.Chat.RequestsPerMinute < 0 {
		return fmt.Errorf("chat.requests_per_minute must not be negative")
	}
	if cfg.Chat.Breaker.Timeout < 0 || cfg.Chat.Breaker.Interval < 0 {
		return fmt.Errorf("chat.breaker durations must not be negative")
	}

	switch cfg.LLM.Provider {
	case "":
	case "anthropic", "openai":
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for provider %q", cfg.LLM.Provider)
		}
		if err := checkResolved("llm.api_key", cfg.LLM.APIKey); err != nil {
			return err
		}
	case "ollama":
	default:
		return fmt.Errorf("llm.provider must be one of: anthropic, openai, ollama (got %q)", cfg.LLM.Provider)
	}
	if cfg.LLM.Provider != "" && cfg.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if cfg.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive")
	}
	return nil
}

// checkResolved rejects a value still holding an unset ${VAR} reference.
func checkResolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
