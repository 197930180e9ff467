package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithStepID(ctx, "step-1")
	ctx = WithJobID(ctx, "job-1")
	ctx = WithTenantID(ctx, "tenant-1")
	ctx = WithWorkspaceID(ctx, "ws-1")
	ctx = WithAgentID(ctx, "agent-1")

	tc := FromContext(ctx)
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.Equal(t, "run-1", tc.RunID)
	assert.Equal(t, "step-1", tc.StepID)
	assert.Equal(t, "job-1", tc.JobID)
	assert.Equal(t, "tenant-1", tc.TenantID)
	assert.Equal(t, "ws-1", tc.WorkspaceID)
	assert.Equal(t, "agent-1", tc.AgentID)
}

func TestNewContext(t *testing.T) {
	tc := &TraceContext{TraceID: "t", RunID: "r", TenantID: "tn"}
	ctx := NewContext(context.Background(), tc)

	assert.Equal(t, "t", GetTraceID(ctx))
	assert.Equal(t, "r", GetRunID(ctx))
	assert.Equal(t, "tn", GetTenantID(ctx))
	assert.Empty(t, GetStepID(ctx))
}

func TestNewRunContext(t *testing.T) {
	ctx := NewRunContext(context.Background(), "agent-7")

	assert.NotEmpty(t, GetTraceID(ctx))
	assert.NotEmpty(t, GetRunID(ctx))
	assert.Equal(t, "agent-7", GetAgentID(ctx))

	// A second run inherits the trace but gets a new run ID
	ctx2 := NewRunContext(ctx, "agent-7")
	assert.Equal(t, GetTraceID(ctx), GetTraceID(ctx2))
	assert.NotEqual(t, GetRunID(ctx), GetRunID(ctx2))
}

func TestMergeContext(t *testing.T) {
	source := WithRunID(WithTraceID(context.Background(), "t1"), "r1")
	target := WithTraceID(context.Background(), "t2")

	merged := MergeContext(target, source)
	assert.Equal(t, "t2", GetTraceID(merged)) // existing value wins
	assert.Equal(t, "r1", GetRunID(merged))
}
