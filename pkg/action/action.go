// Package action provides the registry and execution engine for named,
// contract-validated units of work.
package action

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/outrigger-ai/outrigger/pkg/guardrail"
)

// Status is the terminal status of one execution
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Handler executes the business logic of an action. The input passed is the
// contract-validated input. A returned error (or a panic) is treated as a
// programming fault and yields a non-retryable error result; handlers that
// want a transient failure retried must return a Result with Retryable set.
type Handler func(ctx context.Context, actx *Context) (*Result, error)

// Definition describes a registered action. Immutable once registered.
type Definition struct {
	Name         string
	Version      string
	Description  string
	InputSchema  string // JSON Schema for the raw input, optional
	OutputSchema string // JSON Schema for the output, optional
	Guardrails   []guardrail.Guardrail
	Handler      Handler
}

// Context carries per-invocation data. Created per invocation, never persisted.
type Context struct {
	Action         string
	Input          map[string]interface{}
	ValidatedInput map[string]interface{}
	RunID          string
	StepID         string
	TenantID       string
	WorkspaceID    string
	Metadata       map[string]interface{}
	Logger         *zerolog.Logger
}

// invocation builds the guardrail view of this context
func (c *Context) invocation() *guardrail.Invocation {
	return &guardrail.Invocation{
		Action:      c.Action,
		RunID:       c.RunID,
		StepID:      c.StepID,
		TenantID:    c.TenantID,
		WorkspaceID: c.WorkspaceID,
		Input:       c.Input,
		Metadata:    c.Metadata,
	}
}

// Result is the outcome of one execution, consumed immediately by the caller
type Result struct {
	Status    Status      `json:"status"`
	Output    interface{} `json:"output,omitempty"`
	Error     string      `json:"error,omitempty"`
	Retryable bool        `json:"retryable"`
}

// Succeeded reports whether the execution completed successfully
func (r *Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

func successResult(output interface{}) *Result {
	return &Result{Status: StatusSuccess, Output: output}
}

func errorResult(msg string, retryable bool) *Result {
	return &Result{Status: StatusError, Error: msg, Retryable: retryable}
}
