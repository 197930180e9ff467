package config

import (
	"fmt"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new config validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the configuration for invalid values
func (v *Validator) Validate(cfg *Config) error {
	if err := v.validateQueue("queues.runs", cfg.Queues.Runs); err != nil {
		return err
	}
	if err := v.validateQueue("queues.actions", cfg.Queues.Actions); err != nil {
		return err
	}

	if cfg.Guardrails.IdempotencyTTL <= 0 {
		return fmt.Errorf("guardrails.idempotency_ttl must be positive")
	}
	if cfg.Guardrails.RateLimit.Limit <= 0 {
		return fmt.Errorf("guardrails.rate_limit.limit must be positive")
	}
	if cfg.Guardrails.RateLimit.Window <= 0 {
		return fmt.Errorf("guardrails.rate_limit.window must be positive")
	}
	if cfg.Guardrails.UseSharedStores && cfg.Guardrails.RedisAddr == "" {
		return fmt.Errorf("guardrails.redis_addr is required when shared stores are enabled")
	}

	if cfg.Recommend.MaxRecommendations <= 0 {
		return fmt.Errorf("recommend.max_recommendations must be positive")
	}
	if cfg.Recommend.ExplorationPct < 0 || cfg.Recommend.ExplorationPct > 1 {
		return fmt.Errorf("recommend.exploration_pct must be in [0,1]")
	}

	switch cfg.Providers.Default {
	case "", "anthropic", "openai", "fake":
	default:
		return fmt.Errorf("providers.default: unknown provider %q", cfg.Providers.Default)
	}

	if cfg.Events.Enabled && (cfg.Events.Port <= 0 || cfg.Events.Port > 65535) {
		return fmt.Errorf("events.port must be a valid TCP port")
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be a valid TCP port")
	}

	return nil
}

func (v *Validator) validateQueue(name string, qc QueueConfig) error {
	if qc.Concurrency <= 0 {
		return fmt.Errorf("%s.concurrency must be positive", name)
	}
	if qc.Attempts <= 0 {
		return fmt.Errorf("%s.attempts must be positive", name)
	}
	if qc.BackoffBase <= 0 {
		return fmt.Errorf("%s.backoff_base must be positive", name)
	}
	if qc.BackoffCap < qc.BackoffBase {
		return fmt.Errorf("%s.backoff_cap must be >= backoff_base", name)
	}
	return nil
}
