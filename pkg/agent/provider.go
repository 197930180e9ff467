// Package agent abstracts the model providers that serve unbound
// orchestrator steps.
package agent

import (
	"context"
	"fmt"
)

// Message is one turn of a model conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request contains the parameters for one model call
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Temperature  float64
	MaxTokens    int
}

// Usage reports token consumption for one call
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response contains the model's reply
type Response struct {
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
}

// Provider is a model API backend
type Provider interface {
	// Complete makes a model API call
	Complete(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name
	Name() string
}

// Credentials holds per-provider API keys
type Credentials struct {
	AnthropicKey string
	OpenAIKey    string
}

// NewProvider creates a provider by name
func NewProvider(name string, creds Credentials) (Provider, error) {
	switch name {
	case "anthropic":
		if creds.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic api key is required")
		}
		return NewAnthropicProvider(creds.AnthropicKey), nil
	case "openai":
		if creds.OpenAIKey == "" {
			return nil, fmt.Errorf("openai api key is required")
		}
		return NewOpenAIProvider(creds.OpenAIKey), nil
	case "fake":
		return NewFakeProvider(nil), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
