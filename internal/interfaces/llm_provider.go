package interfaces

import (
	"context"
)

// LLMProvider is a minimal completion interface for fact extraction. The
// prompt carries the vocabulary and output schema; the provider returns the
// model's raw text, which the caller parses and validates.
type LLMProvider interface {
	Name() string
	Model() string
	// Complete sends a system prompt plus user content and returns the
	// model's text response.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
