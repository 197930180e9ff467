package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds correlation identifiers from the context to a logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.RunID != "" {
		logger = logger.With().Str("run_id", tc.RunID).Logger()
	}
	if tc.StepID != "" {
		logger = logger.With().Str("step_id", tc.StepID).Logger()
	}
	if tc.JobID != "" {
		logger = logger.With().Str("job_id", tc.JobID).Logger()
	}
	if tc.TenantID != "" {
		logger = logger.With().Str("tenant_id", tc.TenantID).Logger()
	}
	if tc.AgentID != "" {
		logger = logger.With().Str("agent_id", tc.AgentID).Logger()
	}

	return logger
}

// LoggerFromContext creates a logger carrying the context's identifiers
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// MergeContext copies identifiers from source into target where target has none
func MergeContext(target, source context.Context) context.Context {
	tc := FromContext(source)

	if tc.TraceID != "" && GetTraceID(target) == "" {
		target = WithTraceID(target, tc.TraceID)
	}
	if tc.RunID != "" && GetRunID(target) == "" {
		target = WithRunID(target, tc.RunID)
	}
	if tc.StepID != "" && GetStepID(target) == "" {
		target = WithStepID(target, tc.StepID)
	}
	if tc.TenantID != "" && GetTenantID(target) == "" {
		target = WithTenantID(target, tc.TenantID)
	}
	if tc.WorkspaceID != "" && GetWorkspaceID(target) == "" {
		target = WithWorkspaceID(target, tc.WorkspaceID)
	}
	if tc.AgentID != "" && GetAgentID(target) == "" {
		target = WithAgentID(target, tc.AgentID)
	}

	return target
}
