// Package orchestrator coordinates a plan of steps for one run: plan, act
// per step, optionally reflect, emitting every transition to an event sink.
//
// Invariants:
// - Steps execute strictly sequentially; step N+1 never starts before step N
//   reaches a terminal state.
// - The first step failure aborts the remaining plan and propagates upward.
// - Event sink failures never abort a run.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/outrigger-ai/outrigger/internal/observability"
	"github.com/outrigger-ai/outrigger/internal/tracing"
)

// Config wires an orchestrator's collaborators. Planner and Act are
// required; the sinks and Reflect are optional.
type Config struct {
	Planner   Planner
	Act       ActFunc
	Reflect   ReflectFunc
	Events    EventSink
	Telemetry TelemetrySink
}

// Orchestrator drives runs through the plan, act and reflect phases
type Orchestrator struct {
	planner   Planner
	act       ActFunc
	reflect   ReflectFunc
	events    EventSink
	telemetry TelemetrySink
}

// New creates an orchestrator
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Planner == nil {
		return nil, fmt.Errorf("orchestrator: planner is required")
	}
	if cfg.Act == nil {
		return nil, fmt.Errorf("orchestrator: act callback is required")
	}
	return &Orchestrator{
		planner:   cfg.Planner,
		act:       cfg.Act,
		reflect:   cfg.Reflect,
		events:    cfg.Events,
		telemetry: cfg.Telemetry,
	}, nil
}

// ExecuteRun drives one run to completion. The returned run reflects the
// final plan state even when an error is returned; callers own marking
// their run record failed.
func (o *Orchestrator) ExecuteRun(ctx context.Context, input PlanInput) (*Run, error) {
	run := &Run{
		ID:          input.RunID,
		TenantID:    input.TenantID,
		WorkspaceID: input.WorkspaceID,
		AgentID:     input.AgentID,
		Objective:   input.Objective,
		Status:      RunStatusCreated,
		CreatedAt:   time.Now(),
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
		input.RunID = run.ID
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"outrigger.orchestrator",
		"orchestrator.execute_run",
		attribute.String("run_id", run.ID),
		attribute.String("agent_id", run.AgentID),
	)
	defer span.End()

	ctx = tracing.WithRunID(ctx, run.ID)
	if run.TenantID != "" {
		ctx = tracing.WithTenantID(ctx, run.TenantID)
	}
	if run.AgentID != "" {
		ctx = tracing.WithAgentID(ctx, run.AgentID)
	}
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	start := time.Now()
	o.emit(ctx, run, EventRunCreated, nil)
	o.track("run_started", map[string]interface{}{"run_id": run.ID, "agent_id": run.AgentID})

	// Planning
	run.Status = RunStatusPlanning
	o.emit(ctx, run, EventRunPlanning, nil)

	plan, err := o.planner.CreatePlan(ctx, input)
	if err != nil {
		run.Status = RunStatusFailed
		o.emit(ctx, run, EventRunFailed, map[string]interface{}{"error": err.Error()})
		observability.RecordRun("failed", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("Planning failed")
		return run, fmt.Errorf("planning run %s: %w", run.ID, err)
	}
	run.Plan = plan
	logger.Info().Int("steps", len(plan)).Msg("Plan created")

	// Executing: strictly sequential, first failure aborts
	run.Status = RunStatusExecuting
	for i := range run.Plan {
		if err := o.executeStep(ctx, run, &run.Plan[i]); err != nil {
			run.Status = RunStatusFailed
			o.emit(ctx, run, EventRunFailed, map[string]interface{}{
				"step_id": run.Plan[i].ID,
				"error":   err.Error(),
			})
			observability.RecordRun("failed", time.Since(start))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return run, err
		}
	}

	run.Status = RunStatusCompleted
	o.emit(ctx, run, EventRunCompleted, map[string]interface{}{"outputs": len(run.Output)})

	// Reflecting: optional, its failures propagate uncaught
	if o.reflect != nil {
		run.Status = RunStatusReflecting
		o.emit(ctx, run, EventRunReflecting, nil)
		if err := o.reflect(ctx, run); err != nil {
			observability.RecordRun("failed", time.Since(start))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error().Err(err).Msg("Reflection failed")
			return run, fmt.Errorf("reflecting on run %s: %w", run.ID, err)
		}
	}

	run.Status = RunStatusFinished
	o.emit(ctx, run, EventRunFinished, nil)
	observability.RecordRun("completed", time.Since(start))
	o.track("run_finished", map[string]interface{}{"run_id": run.ID, "steps": len(run.Plan)})
	logger.Info().Dur("duration", time.Since(start)).Msg("Run finished")

	return run, nil
}

func (o *Orchestrator) executeStep(ctx context.Context, run *Run, step *Step) error {
	ctx = tracing.WithStepID(ctx, step.ID)
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	step.Status = StepStatusInProgress
	o.emit(ctx, run, EventStepStarted, map[string]interface{}{
		"step_id": step.ID,
		"action":  step.Action,
	})
	logger.Debug().Str("action", step.Action).Msg("Step started")

	output, err := o.act(ctx, run, step)
	if err != nil {
		step.Status = StepStatusFailed
		step.Error = err.Error()
		observability.RecordStep("failed")
		o.emit(ctx, run, EventStepFailed, map[string]interface{}{
			"step_id": step.ID,
			"error":   err.Error(),
		})
		logger.Error().Err(err).Msg("Step failed, aborting remaining plan")
		return fmt.Errorf("run %s step %s: %w", run.ID, step.ID, err)
	}

	step.Status = StepStatusCompleted
	step.Result = output
	run.Output = append(run.Output, output)
	observability.RecordStep("completed")
	o.emit(ctx, run, EventStepCompleted, map[string]interface{}{"step_id": step.ID})
	logger.Debug().Msg("Step completed")

	return nil
}

// emit records a lifecycle event, best-effort
func (o *Orchestrator) emit(ctx context.Context, run *Run, eventType string, payload map[string]interface{}) {
	if o.events == nil {
		return
	}

	event := Event{
		RunID:       run.ID,
		TenantID:    run.TenantID,
		WorkspaceID: run.WorkspaceID,
		Type:        eventType,
		Payload:     payload,
		Timestamp:   time.Now(),
	}

	if err := o.events.Record(ctx, event); err != nil {
		logger := tracing.LoggerFromContext(ctx, log.Logger)
		logger.Warn().
			Err(err).
			Str("event_type", eventType).
			Msg("Event sink record failed")
	}
}

func (o *Orchestrator) track(event string, properties map[string]interface{}) {
	if o.telemetry == nil {
		return
	}
	o.telemetry.Track(event, properties)
}
