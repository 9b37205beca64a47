package generation

import (
	"context"
	"testing"

	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id       string
		provider domain.Provider
		model    string
	}{
		{"gemini-2.5-pro", domain.ProviderGemini, "gemini-2.5-pro"},
		{"Gemini-2.0-Flash", domain.ProviderGemini, "Gemini-2.0-Flash"},
		{"gpt-4o", domain.ProviderOpenAI, "gpt-4o"},
		{"o3-mini", domain.ProviderOpenAI, "o3-mini"},
		{"o4-mini", domain.ProviderOpenAI, "o4-mini"},
		{"openai:my-finetune", domain.ProviderOpenAI, "my-finetune"},
		{" gemini:custom ", domain.ProviderGemini, "custom"},
	}
	for _, tt := range tests {
		p, m, err := ParseModel(tt.id)
		require.NoError(t, err, tt.id)
		assert.Equal(t, tt.provider, p, tt.id)
		assert.Equal(t, tt.model, m, tt.id)
	}

	for _, bad := range []string{"", "claude-3", "mistral:large", "openai:"} {
		_, _, err := ParseModel(bad)
		assert.ErrorIs(t, err, ErrUnsupportedModel, bad)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	gen := GeneratorFunc(func(ctx context.Context, req Request) (*Response, error) {
		return &Response{Content: req.Model}, nil
	})
	require.NoError(t, r.Register(domain.ProviderGemini, gen))
	assert.ErrorIs(t, r.Register("anthropic", gen), ErrInvalidConfig)
	assert.ErrorIs(t, r.Register(domain.ProviderOpenAI, nil), ErrInvalidConfig)

	g, p, model, err := r.Resolve("gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderGemini, p)
	assert.Equal(t, "gemini-2.5-flash", model)
	resp, err := g.Generate(context.Background(), Request{Model: model})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", resp.Content)

	_, _, _, err = r.Resolve("gpt-4o")
	assert.ErrorIs(t, err, ErrUnsupportedModel, "provider not configured")
}
