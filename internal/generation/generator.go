package generation

import (
	"context"

	"github.com/phrazzld/reportgen/internal/domain"
)

// Request is a single, fully materialized prompt for a backend.
type Request struct {
	// SystemPrompt is optional instruction text sent separately from Prompt
	// where the provider supports it.
	SystemPrompt    string
	Prompt          string
	Model           string
	Temperature     float32
	MaxTokens       int
	ReasoningEffort domain.ReasoningEffort
	// JSON asks the provider for a JSON response body when supported.
	JSON bool
}

// Response is the complete text produced for a Request. Adapters stream
// internally but only return once the full content is assembled.
type Response struct {
	Content string
	Model   string
	Usage   domain.Usage
}

// Generator defines the interface of a generative text backend.
// Errors are *Error values classified by Kind.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (*Response, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
