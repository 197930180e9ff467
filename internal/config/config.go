package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main Outrigger configuration
type Config struct {
	// Queues
	Queues QueuesConfig `json:"queues" mapstructure:"queues"`

	// Guardrails
	Guardrails GuardrailsConfig `json:"guardrails" mapstructure:"guardrails"`

	// Recommendation engine
	Recommend RecommendConfig `json:"recommend" mapstructure:"recommend"`

	// Agent profiles
	Profiles ProfilesConfig `json:"profiles" mapstructure:"profiles"`

	// Model providers
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Event streaming
	Events EventsConfig `json:"events" mapstructure:"events"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// QueuesConfig holds settings for the run and action queues
type QueuesConfig struct {
	Runs    QueueConfig `json:"runs" mapstructure:"runs"`
	Actions QueueConfig `json:"actions" mapstructure:"actions"`
}

// QueueConfig holds settings for one durable queue
type QueueConfig struct {
	Concurrency int           `json:"concurrency" mapstructure:"concurrency"`
	Attempts    int           `json:"attempts" mapstructure:"attempts"`
	BackoffBase time.Duration `json:"backoff_base" mapstructure:"backoff_base"`
	BackoffCap  time.Duration `json:"backoff_cap" mapstructure:"backoff_cap"`
}

// GuardrailsConfig holds default guardrail settings
type GuardrailsConfig struct {
	IdempotencyTTL  time.Duration   `json:"idempotency_ttl" mapstructure:"idempotency_ttl"`
	RateLimit       RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`
	RedisAddr       string          `json:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword   string          `json:"redis_password" mapstructure:"redis_password"`
	RedisDB         int             `json:"redis_db" mapstructure:"redis_db"`
	RedisKeyPrefix  string          `json:"redis_key_prefix" mapstructure:"redis_key_prefix"`
	UseSharedStores bool            `json:"use_shared_stores" mapstructure:"use_shared_stores"`
}

// RateLimitConfig holds fixed-window rate limit defaults
type RateLimitConfig struct {
	Limit  int           `json:"limit" mapstructure:"limit"`
	Window time.Duration `json:"window" mapstructure:"window"`
}

// RecommendConfig holds recommendation engine settings
type RecommendConfig struct {
	MaxRecommendations int     `json:"max_recommendations" mapstructure:"max_recommendations"`
	ExplorationPct     float64 `json:"exploration_pct" mapstructure:"exploration_pct"`
	StatePath          string  `json:"state_path" mapstructure:"state_path"`
}

// ProfilesConfig holds agent profile loading settings
type ProfilesConfig struct {
	Dir   string `json:"dir" mapstructure:"dir"`
	Watch bool   `json:"watch" mapstructure:"watch"`
}

// ProvidersConfig holds model provider settings
type ProvidersConfig struct {
	Default      string `json:"default" mapstructure:"default"`
	AnthropicKey string `json:"anthropic_key" mapstructure:"anthropic_key"`
	OpenAIKey    string `json:"openai_key" mapstructure:"openai_key"`
}

// EventsConfig holds event broadcaster settings
type EventsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// MetricsConfig holds the metrics endpoint settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Queues: QueuesConfig{
			Runs: QueueConfig{
				Concurrency: 4,
				Attempts:    3,
				BackoffBase: 500 * time.Millisecond,
				BackoffCap:  30 * time.Second,
			},
			Actions: QueueConfig{
				Concurrency: 8,
				Attempts:    3,
				BackoffBase: 500 * time.Millisecond,
				BackoffCap:  30 * time.Second,
			},
		},
		Guardrails: GuardrailsConfig{
			IdempotencyTTL: 5 * time.Minute,
			RateLimit: RateLimitConfig{
				Limit:  60,
				Window: time.Minute,
			},
			RedisKeyPrefix: "outrigger",
		},
		Recommend: RecommendConfig{
			MaxRecommendations: 5,
			ExplorationPct:     0.2,
		},
		Profiles: ProfilesConfig{
			Watch: true,
		},
		Providers: ProvidersConfig{
			Default: "anthropic",
		},
		Events: EventsConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8790,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// String returns a JSON representation with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Guardrails.RedisPassword != "" {
		masked.Guardrails.RedisPassword = "***"
	}
	if masked.Providers.AnthropicKey != "" {
		masked.Providers.AnthropicKey = "***"
	}
	if masked.Providers.OpenAIKey != "" {
		masked.Providers.OpenAIKey = "***"
	}

	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("config (marshal error: %v)", err)
	}
	return string(data)
}
