package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/outrigger-ai/outrigger/internal/tracing"
	"github.com/outrigger-ai/outrigger/pkg/action"
	"github.com/outrigger-ai/outrigger/pkg/queue"
)

// NewActionConsumer returns the queue handler that executes dispatched
// actions through the engine. A failed result is returned as a handler error
// only when the handler flagged it retryable; non-retryable failures complete
// the job so the queue does not burn redeliveries re-tripping the same fault.
func NewActionConsumer(engine *action.Engine) queue.Handler {
	return func(ctx context.Context, job *queue.Job) (interface{}, error) {
		name, _ := job.Payload["action"].(string)
		input, _ := job.Payload["input"].(map[string]interface{})
		metadata, _ := job.Payload["metadata"].(map[string]interface{})

		actx := &action.Context{
			Input:       input,
			RunID:       stringField(job.Payload, "run_id"),
			StepID:      stringField(job.Payload, "step_id"),
			TenantID:    stringField(job.Payload, "tenant_id"),
			WorkspaceID: stringField(job.Payload, "workspace_id"),
			Metadata:    metadata,
		}

		result := engine.Execute(ctx, name, actx)
		if !result.Succeeded() && result.Retryable {
			return nil, fmt.Errorf("action %s: %s", name, result.Error)
		}
		return result, nil
	}
}

// NewQueueAct returns an ActFunc that dispatches action-bound steps through
// the action queue, publishing then blocking on completion. Steps without a
// bound action fall back to the direct callback.
func NewQueueAct(actionQueue *queue.Queue, direct ActFunc) ActFunc {
	return func(ctx context.Context, run *Run, step *Step) (interface{}, error) {
		if step.Action == "" {
			if direct == nil {
				return nil, fmt.Errorf("step %s: no action bound and no direct act configured", step.ID)
			}
			return direct(ctx, run, step)
		}

		payload := map[string]interface{}{
			"action":       step.Action,
			"input":        step.Params,
			"run_id":       run.ID,
			"step_id":      step.ID,
			"tenant_id":    run.TenantID,
			"workspace_id": run.WorkspaceID,
		}

		// Deterministic job id so a redispatched step deduplicates at the
		// broker level.
		job, err := actionQueue.Publish(ctx, payload, &queue.PublishOptions{
			JobID: run.ID + ":" + step.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("dispatch step %s: %w", step.ID, err)
		}

		logger := tracing.LoggerFromContext(ctx, log.Logger)
		logger.Debug().
			Str("job_id", job.ID).
			Str("action", step.Action).
			Msg("Step dispatched to action queue")

		value, err := job.Finished(ctx)
		if err != nil {
			return nil, fmt.Errorf("step %s action %s: %w", step.ID, step.Action, err)
		}

		result, ok := value.(*action.Result)
		if !ok {
			return nil, fmt.Errorf("step %s: unexpected job result %T", step.ID, value)
		}
		if !result.Succeeded() {
			return nil, fmt.Errorf("step %s action %s: %s", step.ID, step.Action, result.Error)
		}
		return result.Output, nil
	}
}

func stringField(payload map[string]interface{}, key string) string {
	v, _ := payload[key].(string)
	return v
}
