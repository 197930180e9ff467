package daemon

import (
	"context"
	"fmt"

	"github.com/outrigger-ai/outrigger/pkg/orchestrator"
	"github.com/outrigger-ai/outrigger/pkg/queue"
	"github.com/outrigger-ai/outrigger/pkg/recommend"
)

// RunRequest is one submitted run
type RunRequest struct {
	RunID       string                 `json:"run_id,omitempty"`
	TenantID    string                 `json:"tenant_id,omitempty"`
	WorkspaceID string                 `json:"workspace_id,omitempty"`
	AgentID     string                 `json:"agent_id,omitempty"`
	Objective   string                 `json:"objective"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// SubmitRun enqueues a run for execution and returns the queued job
func (d *Daemon) SubmitRun(ctx context.Context, req RunRequest) (*queue.Job, error) {
	if req.Objective == "" {
		return nil, fmt.Errorf("objective is required")
	}
	if req.AgentID != "" {
		if _, err := d.profiles.Get(req.AgentID); err != nil {
			return nil, fmt.Errorf("unknown agent %s", req.AgentID)
		}
	}

	payload := map[string]interface{}{
		"objective":    req.Objective,
		"run_id":       req.RunID,
		"tenant_id":    req.TenantID,
		"workspace_id": req.WorkspaceID,
		"agent_id":     req.AgentID,
	}
	if req.Metadata != nil {
		payload["metadata"] = req.Metadata
	}

	opts := &queue.PublishOptions{}
	if req.RunID != "" {
		opts.JobID = "run:" + req.RunID
	}
	return d.runsQueue.Publish(ctx, payload, opts)
}

// ExecuteRun runs synchronously, bypassing the runs queue. Used by callers
// that already sit on a queue worker.
func (d *Daemon) ExecuteRun(ctx context.Context, req RunRequest) (*orchestrator.Run, error) {
	return d.orch.ExecuteRun(ctx, orchestrator.PlanInput{
		RunID:       req.RunID,
		TenantID:    req.TenantID,
		WorkspaceID: req.WorkspaceID,
		AgentID:     req.AgentID,
		Objective:   req.Objective,
		Metadata:    req.Metadata,
	})
}

// guardAct enforces the run agent's profile action policy before a bound
// step is dispatched. Runs without an agent, and profiles without an action
// list, are unrestricted.
func (d *Daemon) guardAct(next orchestrator.ActFunc) orchestrator.ActFunc {
	return func(ctx context.Context, run *orchestrator.Run, step *orchestrator.Step) (interface{}, error) {
		if step.Action != "" && run.AgentID != "" {
			if p, err := d.profiles.Get(run.AgentID); err == nil && !p.AllowsAction(step.Action) {
				return nil, fmt.Errorf("agent %s: action %s is not in the profile's action list", run.AgentID, step.Action)
			}
		}
		return next(ctx, run, step)
	}
}

// runConsumer returns the handler driving one orchestrated run per job
func (d *Daemon) runConsumer() queue.Handler {
	return func(ctx context.Context, job *queue.Job) (interface{}, error) {
		req := RunRequest{
			RunID:       stringField(job.Payload, "run_id"),
			TenantID:    stringField(job.Payload, "tenant_id"),
			WorkspaceID: stringField(job.Payload, "workspace_id"),
			AgentID:     stringField(job.Payload, "agent_id"),
			Objective:   stringField(job.Payload, "objective"),
		}
		if metadata, ok := job.Payload["metadata"].(map[string]interface{}); ok {
			req.Metadata = metadata
		}

		run, err := d.ExecuteRun(ctx, req)
		if err != nil {
			return nil, err
		}
		return run, nil
	}
}

// Recommend scores candidates for one agent scope, persisting the updated
// state only when the call produced a non-empty selection.
func (d *Daemon) Recommend(ctx context.Context, scope recommend.Scope, candidates []recommend.Candidate, previous []recommend.PreviousRun) (*recommend.Result, error) {
	state, err := d.stateStore.Load(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load recommendation state: %w", err)
	}

	engine := d.recommender
	if p, err := d.profiles.Get(scope.AgentID); err == nil {
		if len(p.Preferences) > 0 {
			if state == nil {
				state = recommend.NewAgentState()
			}
			state.Preferences = p.Preferences
		}
		if p.MaxRecommendations > 0 || p.ExplorationPct > 0 {
			opts := recommend.Options{
				MaxRecommendations: d.config.Recommend.MaxRecommendations,
				ExplorationPct:     d.config.Recommend.ExplorationPct,
			}
			if p.MaxRecommendations > 0 {
				opts.MaxRecommendations = p.MaxRecommendations
			}
			if p.ExplorationPct > 0 {
				opts.ExplorationPct = p.ExplorationPct
			}
			engine = recommend.NewEngine(opts)
		}
	}

	result, err := engine.Recommend(ctx, candidates, previous, state)
	if err != nil {
		return nil, err
	}

	if len(result.Selection) > 0 {
		if err := d.stateStore.Save(ctx, scope, result.State); err != nil {
			return nil, fmt.Errorf("save recommendation state: %w", err)
		}
	}
	return result, nil
}

func stringField(payload map[string]interface{}, key string) string {
	v, _ := payload[key].(string)
	return v
}
