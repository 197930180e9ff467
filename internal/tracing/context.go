package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for run ID
	RunIDKey ContextKey = "run_id"
	// StepIDKey is the context key for step ID
	StepIDKey ContextKey = "step_id"
	// JobIDKey is the context key for queue job ID
	JobIDKey ContextKey = "job_id"
	// TenantIDKey is the context key for tenant ID
	TenantIDKey ContextKey = "tenant_id"
	// WorkspaceIDKey is the context key for workspace ID
	WorkspaceIDKey ContextKey = "workspace_id"
	// AgentIDKey is the context key for agent ID
	AgentIDKey ContextKey = "agent_id"
)

// TraceContext holds correlation identifiers for one unit of work
type TraceContext struct {
	TraceID     string
	RunID       string
	StepID      string
	JobID       string
	TenantID    string
	WorkspaceID string
	AgentID     string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithStepID adds a step ID to the context
func WithStepID(ctx context.Context, stepID string) context.Context {
	return context.WithValue(ctx, StepIDKey, stepID)
}

// WithJobID adds a queue job ID to the context
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// WithTenantID adds a tenant ID to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// WithWorkspaceID adds a workspace ID to the context
func WithWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, WorkspaceIDKey, workspaceID)
}

// WithAgentID adds an agent ID to the context
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	return stringValue(ctx, RunIDKey)
}

// GetStepID retrieves the step ID from the context
func GetStepID(ctx context.Context) string {
	return stringValue(ctx, StepIDKey)
}

// GetJobID retrieves the queue job ID from the context
func GetJobID(ctx context.Context) string {
	return stringValue(ctx, JobIDKey)
}

// GetTenantID retrieves the tenant ID from the context
func GetTenantID(ctx context.Context) string {
	return stringValue(ctx, TenantIDKey)
}

// GetWorkspaceID retrieves the workspace ID from the context
func GetWorkspaceID(ctx context.Context) string {
	return stringValue(ctx, WorkspaceIDKey)
}

// GetAgentID retrieves the agent ID from the context
func GetAgentID(ctx context.Context) string {
	return stringValue(ctx, AgentIDKey)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// FromContext extracts all correlation identifiers from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:     GetTraceID(ctx),
		RunID:       GetRunID(ctx),
		StepID:      GetStepID(ctx),
		JobID:       GetJobID(ctx),
		TenantID:    GetTenantID(ctx),
		WorkspaceID: GetWorkspaceID(ctx),
		AgentID:     GetAgentID(ctx),
	}
}

// NewContext creates a new context carrying the given identifiers
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RunID != "" {
		ctx = WithRunID(ctx, tc.RunID)
	}
	if tc.StepID != "" {
		ctx = WithStepID(ctx, tc.StepID)
	}
	if tc.JobID != "" {
		ctx = WithJobID(ctx, tc.JobID)
	}
	if tc.TenantID != "" {
		ctx = WithTenantID(ctx, tc.TenantID)
	}
	if tc.WorkspaceID != "" {
		ctx = WithWorkspaceID(ctx, tc.WorkspaceID)
	}
	if tc.AgentID != "" {
		ctx = WithAgentID(ctx, tc.AgentID)
	}
	return ctx
}

// NewRunContext creates a context for a new run with a fresh run ID,
// inheriting the trace ID or minting one when absent.
func NewRunContext(ctx context.Context, agentID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithRunID(ctx, NewRunID())
	if agentID != "" {
		ctx = WithAgentID(ctx, agentID)
	}
	return ctx
}
