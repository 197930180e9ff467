package orchestrator

import (
	"context"
	"fmt"
)

// DefaultPlanner produces a single-step plan. When the run metadata names an
// action under the "action" key, the step is bound to it with the metadata
// "params" map; otherwise the plan holds one generic unbound step.
type DefaultPlanner struct{}

// NewDefaultPlanner creates the default single-step planner
func NewDefaultPlanner() *DefaultPlanner {
	return &DefaultPlanner{}
}

// CreatePlan implements Planner
func (p *DefaultPlanner) CreatePlan(ctx context.Context, input PlanInput) ([]Step, error) {
	actionName, _ := input.Metadata["action"].(string)

	if actionName != "" {
		params, _ := input.Metadata["params"].(map[string]interface{})
		return []Step{{
			ID:          "step-1",
			Description: fmt.Sprintf("execute action %s", actionName),
			Action:      actionName,
			Params:      params,
			Status:      StepStatusPending,
		}}, nil
	}

	return []Step{{
		ID:          "step-1",
		Description: input.Objective,
		Status:      StepStatusPending,
	}}, nil
}
