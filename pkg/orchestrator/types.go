package orchestrator

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of one orchestrated run
type RunStatus string

const (
	RunStatusCreated    RunStatus = "created"
	RunStatusPlanning   RunStatus = "planning"
	RunStatusExecuting  RunStatus = "executing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusReflecting RunStatus = "reflecting"
	RunStatusFinished   RunStatus = "finished"
)

// StepStatus is the execution status of a single step
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in-progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
)

// Step is a single unit of a plan. Steps mutate in place as the run advances.
type Step struct {
	ID          string                 `json:"id"`
	Description string                 `json:"description"`
	Action      string                 `json:"action,omitempty"` // bound action name, optional
	Params      map[string]interface{} `json:"params,omitempty"`
	Status      StepStatus             `json:"status"`
	Result      interface{}            `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// Run tracks one orchestrated request. The plan is held in memory only;
// durability is delegated to the emitted events.
type Run struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenant_id"`
	WorkspaceID string        `json:"workspace_id"`
	AgentID     string        `json:"agent_id"`
	Objective   string        `json:"objective"`
	Status      RunStatus     `json:"status"`
	Plan        []Step        `json:"plan"`
	Output      []interface{} `json:"output"`
	CreatedAt   time.Time     `json:"created_at"`
}

// PlanInput is what a planner receives to build a plan
type PlanInput struct {
	RunID       string
	TenantID    string
	WorkspaceID string
	AgentID     string
	Objective   string
	Metadata    map[string]interface{}
}

// Planner builds an ordered list of steps for a run
type Planner interface {
	CreatePlan(ctx context.Context, input PlanInput) ([]Step, error)
}

// ActFunc executes one step. For steps bound to an action it is expected to
// dispatch through the action queue and block on completion; otherwise it
// performs a direct unit of work such as a model call.
type ActFunc func(ctx context.Context, run *Run, step *Step) (interface{}, error)

// ReflectFunc runs once after all steps complete successfully.
// Its failures are not caught by the orchestrator.
type ReflectFunc func(ctx context.Context, run *Run) error

// Event is one lifecycle transition recorded to the external sink
type Event struct {
	RunID       string                 `json:"run_id"`
	TenantID    string                 `json:"tenant_id"`
	WorkspaceID string                 `json:"workspace_id"`
	Type        string                 `json:"type"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Event types emitted during a run
const (
	EventRunCreated    = "run.created"
	EventRunPlanning   = "run.planning"
	EventStepStarted   = "step.started"
	EventStepCompleted = "step.completed"
	EventStepFailed    = "step.failed"
	EventRunCompleted  = "run.completed"
	EventRunFailed     = "run.failed"
	EventRunReflecting = "run.reflecting"
	EventRunFinished   = "run.finished"
)

// EventSink records lifecycle events. Recording is best-effort: failures are
// logged by the orchestrator and never abort the run.
type EventSink interface {
	Record(ctx context.Context, event Event) error
}

// TelemetrySink receives fire-and-forget usage signals
type TelemetrySink interface {
	Track(event string, properties map[string]interface{})
}
