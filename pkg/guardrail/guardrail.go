// Package guardrail provides composable pre/post execution hooks for actions.
//
// Invariants:
// - Before hooks run sequentially in registration order; the first error aborts.
// - After hooks all run once the outcome is known; their failures are only logged.
// - Guardrail rejections are never retryable.
package guardrail

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/outrigger-ai/outrigger/internal/observability"
	"github.com/outrigger-ai/outrigger/internal/tracing"
)

var (
	// ErrDuplicate signals that an idempotency key was already registered
	ErrDuplicate = errors.New("duplicate invocation")
	// ErrRateLimited signals that a rate limit window is exhausted
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Invocation is the guardrail view of one action execution
type Invocation struct {
	Action      string
	RunID       string
	StepID      string
	TenantID    string
	WorkspaceID string
	Input       map[string]interface{}
	Metadata    map[string]interface{}
}

// Scope returns the tenant/workspace scope key for the invocation
func (inv *Invocation) Scope() string {
	return inv.TenantID + ":" + inv.WorkspaceID
}

// Guardrail is a named policy hook attachable to an action.
// Implementations opt into the hooks they need via the capability interfaces.
type Guardrail interface {
	Name() string
}

// BeforeGuard rejects an invocation before the handler runs
type BeforeGuard interface {
	Guardrail
	Before(ctx context.Context, inv *Invocation) error
}

// SuccessGuard observes a successful outcome
type SuccessGuard interface {
	Guardrail
	AfterSuccess(ctx context.Context, inv *Invocation, output interface{})
}

// ErrorGuard observes a failed outcome
type ErrorGuard interface {
	Guardrail
	AfterError(ctx context.Context, inv *Invocation, err error)
}

// Chain runs an ordered list of guardrails around an execution
type Chain struct {
	guards []Guardrail
}

// NewChain creates a chain preserving the given order
func NewChain(guards ...Guardrail) *Chain {
	return &Chain{guards: guards}
}

// Len returns the number of guardrails in the chain
func (c *Chain) Len() int {
	return len(c.guards)
}

// RunBefore runs Before hooks in order. Hooks run sequentially so an earlier
// guardrail's side effect is visible to a later one. The first error aborts.
func (c *Chain) RunBefore(ctx context.Context, inv *Invocation) error {
	for _, g := range c.guards {
		bg, ok := g.(BeforeGuard)
		if !ok {
			continue
		}
		if err := bg.Before(ctx, inv); err != nil {
			observability.RecordGuardrailRejection(g.Name())
			logger := tracing.LoggerFromContext(ctx, log.Logger)
			logger.Warn().
				Str("guardrail", g.Name()).
				Str("action", inv.Action).
				Err(err).
				Msg("Guardrail rejected execution")
			return err
		}
	}
	return nil
}

// RunAfterSuccess runs all AfterSuccess hooks concurrently and waits for them.
// Hook panics are recovered and logged, never surfaced to the caller.
func (c *Chain) RunAfterSuccess(ctx context.Context, inv *Invocation, output interface{}) {
	var wg sync.WaitGroup
	for _, g := range c.guards {
		sg, ok := g.(SuccessGuard)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(sg SuccessGuard) {
			defer wg.Done()
			defer recoverHook(ctx, sg.Name(), inv.Action)
			sg.AfterSuccess(ctx, inv, output)
		}(sg)
	}
	wg.Wait()
}

// RunAfterError runs all AfterError hooks concurrently and waits for them
func (c *Chain) RunAfterError(ctx context.Context, inv *Invocation, execErr error) {
	var wg sync.WaitGroup
	for _, g := range c.guards {
		eg, ok := g.(ErrorGuard)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(eg ErrorGuard) {
			defer wg.Done()
			defer recoverHook(ctx, eg.Name(), inv.Action)
			eg.AfterError(ctx, inv, execErr)
		}(eg)
	}
	wg.Wait()
}

func recoverHook(ctx context.Context, guardrail, action string) {
	if r := recover(); r != nil {
		logger := tracing.LoggerFromContext(ctx, log.Logger)
		logger.Error().
			Str("guardrail", guardrail).
			Str("action", action).
			Interface("panic", r).
			Msg("Guardrail after-hook panicked")
	}
}
