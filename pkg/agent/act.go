package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/outrigger-ai/outrigger/internal/tracing"
	"github.com/outrigger-ai/outrigger/pkg/orchestrator"
	"github.com/outrigger-ai/outrigger/pkg/profile"
)

// ActConfig configures the direct act callback
type ActConfig struct {
	Provider     Provider
	Profiles     *profile.Manager
	Model        string
	SystemPrompt string
	MaxTokens    int
}

// NewDirectAct returns the orchestrator act callback for steps with no
// bound action: one model completion per step. The run's agent profile,
// when loaded, overrides the default model and system prompt.
func NewDirectAct(cfg ActConfig) (orchestrator.ActFunc, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}

	return func(ctx context.Context, run *orchestrator.Run, step *orchestrator.Step) (interface{}, error) {
		request := Request{
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			MaxTokens:    cfg.MaxTokens,
		}

		if cfg.Profiles != nil && run.AgentID != "" {
			if p, err := cfg.Profiles.Get(run.AgentID); err == nil {
				if p.Model != "" {
					request.Model = p.Model
				}
				if p.SystemPrompt != "" {
					request.SystemPrompt = p.SystemPrompt
				}
			}
		}

		prompt := step.Description
		if prompt == "" {
			prompt = run.Objective
		}
		request.Messages = []Message{{Role: "user", Content: prompt}}

		response, err := cfg.Provider.Complete(ctx, request)
		if err != nil {
			return nil, fmt.Errorf("model call for step %s: %w", step.ID, err)
		}

		logger := tracing.LoggerFromContext(ctx, log.Logger)
		event := logger.Debug().Str("provider", cfg.Provider.Name())
		if response.Usage != nil {
			event = event.Int("input_tokens", response.Usage.InputTokens).
				Int("output_tokens", response.Usage.OutputTokens)
		}
		event.Msg("Model completion finished")

		return response.Content, nil
	}, nil
}
