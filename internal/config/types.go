package config

import "time"

// Config represents the complete tradestream configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Chat     ChatConfig     `yaml:"chat"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// ChatConfig defines how the client reaches the chat endpoint.
type ChatConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Path              string        `yaml:"path"`
	Token             string        `yaml:"token"`
	Provider          string        `yaml:"provider"`
	ExtendedThinking  bool          `yaml:"extended_thinking"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Burst             int           `yaml:"burst"`
	Record            bool          `yaml:"record"`
	Breaker           BreakerConfig `yaml:"breaker"`
}

// BreakerConfig defines the circuit breaker in front of the chat endpoint.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// DatabaseConfig defines SQLite capture storage settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig defines the development chat backend.
type ServerConfig struct {
	Listen string `yaml:"listen"`
	Token  string `yaml:"token"`
}

// LLMConfig defines the model the development backend relays. An empty
// provider leaves the backend in replay-only mode.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url,omitempty"`
	MaxTokens int    `yaml:"max_tokens"`
}
