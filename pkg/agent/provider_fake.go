package agent

import (
	"context"
	"fmt"
	"sync"
)

// FakeProvider is a deterministic in-process provider for tests and local
// development. Responses are looked up by the last user message; unmatched
// prompts get a canned echo.
type FakeProvider struct {
	mu        sync.Mutex
	responses map[string]string
	calls     []Request
}

// NewFakeProvider creates a fake provider with optional canned responses
func NewFakeProvider(responses map[string]string) *FakeProvider {
	if responses == nil {
		responses = make(map[string]string)
	}
	return &FakeProvider{responses: responses}
}

// Name returns the provider name
func (p *FakeProvider) Name() string {
	return "fake"
}

// Complete implements Provider
func (p *FakeProvider) Complete(ctx context.Context, request Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.calls = append(p.calls, request)
	p.mu.Unlock()

	prompt := lastUserMessage(request.Messages)
	content, ok := p.responses[prompt]
	if !ok {
		content = fmt.Sprintf("fake completion for: %s", prompt)
	}

	return &Response{
		Content: content,
		Usage: &Usage{
			InputTokens:  len(prompt),
			OutputTokens: len(content),
		},
	}, nil
}

// Calls returns a copy of every request seen so far
func (p *FakeProvider) Calls() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.calls))
	copy(out, p.calls)
	return out
}

func lastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
