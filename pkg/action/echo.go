package action

import (
	"context"
)

// EchoDefinition returns the built-in diagnostic action that reflects its
// input back as output. Used for smoke testing a deployed pipeline.
func EchoDefinition() *Definition {
	return &Definition{
		Name:        "echo",
		Version:     DefaultVersion,
		Description: "Diagnostic action that returns its input unchanged",
		Handler: func(ctx context.Context, actx *Context) (*Result, error) {
			return successResult(actx.ValidatedInput), nil
		},
	}
}
