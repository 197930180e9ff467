package action

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/outrigger-ai/outrigger/internal/observability"
	"github.com/outrigger-ai/outrigger/internal/tracing"
)

// Engine executes registered actions through their guardrail pipeline.
// It is side-effect-free with respect to the registry; all business side
// effects live in handlers.
type Engine struct {
	registry *Registry
}

// NewEngine creates an execution engine over a registry
func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// Execute runs the named action: contract validation, guardrail before
// hooks, handler, output validation, after hooks. Failures are reported in
// the Result; only handlers decide retryability.
func (e *Engine) Execute(ctx context.Context, name string, actx *Context) *Result {
	ctx, span := tracing.StartSpan(
		ctx,
		"outrigger.action",
		"action.execute",
		attribute.String("action", name),
	)
	defer span.End()

	ctx = tracing.MergeContext(ctx, tracing.NewContext(context.Background(), &tracing.TraceContext{
		RunID:    actx.RunID,
		StepID:   actx.StepID,
		TenantID: actx.TenantID,
	}))

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("action", name).Logger()
	start := time.Now()

	result := e.execute(ctx, name, actx)

	observability.RecordActionExecution(name, string(result.Status), time.Since(start))

	if result.Succeeded() {
		logger.Debug().Dur("duration", time.Since(start)).Msg("Action completed")
	} else {
		logger.Error().
			Dur("duration", time.Since(start)).
			Bool("retryable", result.Retryable).
			Str("error", result.Error).
			Msg("Action failed")
	}

	return result
}

func (e *Engine) execute(ctx context.Context, name string, actx *Context) *Result {
	entry, exists := e.registry.lookup(name)
	if !exists {
		return errorResult(fmt.Sprintf("unknown action: %s", strings.TrimSpace(name)), false)
	}

	actx.Action = entry.def.Name

	// Input contract
	if entry.inputSchema != nil {
		if err := validate(entry.inputSchema, actx.Input); err != nil {
			return errorResult(fmt.Sprintf("input validation failed: %v", err), false)
		}
	}
	actx.ValidatedInput = actx.Input

	inv := actx.invocation()

	// Guardrail rejections are never retryable: retrying without backing off
	// would re-trip the same guard.
	if err := entry.chain.RunBefore(ctx, inv); err != nil {
		result := errorResult(err.Error(), false)
		entry.chain.RunAfterError(ctx, inv, err)
		return result
	}

	result := invokeHandler(ctx, entry.def.Handler, actx)

	// Output contract only applies to successful results
	if result.Succeeded() && entry.outputSchema != nil {
		if err := validate(entry.outputSchema, result.Output); err != nil {
			result = errorResult(fmt.Sprintf("output validation failed: %v", err), false)
		}
	}

	if result.Succeeded() {
		entry.chain.RunAfterSuccess(ctx, inv, result.Output)
	} else {
		entry.chain.RunAfterError(ctx, inv, fmt.Errorf("%s", result.Error))
	}

	return result
}

// invokeHandler calls the handler with panic containment. A panic or a plain
// returned error is a programming fault, reported non-retryable.
func invokeHandler(ctx context.Context, handler Handler, actx *Context) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			logger := tracing.LoggerFromContext(ctx, log.Logger)
			logger.Error().
				Str("action", actx.Action).
				Interface("panic", r).
				Msg("Action handler panicked")
			result = errorResult(fmt.Sprintf("handler panic: %v", r), false)
		}
	}()

	res, err := handler(ctx, actx)
	if err != nil {
		return errorResult(err.Error(), false)
	}
	if res == nil {
		return errorResult("handler returned no result", false)
	}
	return res
}

func validate(schema *gojsonschema.Schema, value interface{}) error {
	docResult, err := schema.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return err
	}
	if docResult.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(docResult.Errors()))
	for _, desc := range docResult.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
