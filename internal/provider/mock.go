package provider

import (
	"context"
	"strings"
)

// MockProvider returns a deterministic phrase, for local development only.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Generate(ctx context.Context, transcript, _ string) (string, error) {
	select {
	case <-ctx.Done():
		return "", newError(p.Name(), classifyContext(ctx, ctx.Err()), ctx.Err())
	default:
	}

	lines := 0
	for _, line := range strings.Split(transcript, "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}
	if lines > 6 {
		return "Long talk, gentle light within", nil
	}
	return "Small words, quiet light within", nil
}
